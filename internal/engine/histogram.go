package engine

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ErrInvalidInterval is returned for a non-positive histogram bucket size.
var ErrInvalidInterval = errors.New("histogram interval must be positive")

type HistogramPoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// ComputeHistogram counts matching entries in [start, end] per interval
// bucket, oldest bucket first.
func (qe *QueryEngine) ComputeHistogram(ctx context.Context, start, end, interval int64, filter Filter) ([]HistogramPoint, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	filter.MinTime, filter.MaxTime = start, end

	rows, err := qe.ExecuteScan(ctx, filter, 0)
	if err != nil {
		return nil, err
	}

	buckets := make(map[int64]int)
	for _, e := range rows {
		buckets[(e.Timestamp/interval)*interval]++
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for _, t := range slices.Sorted(maps.Keys(buckets)) {
		points = append(points, HistogramPoint{Time: t, Count: buckets[t]})
	}
	return points, nil
}
