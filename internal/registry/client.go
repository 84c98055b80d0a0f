package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Announce registers self with the console at consoleURL.
func Announce(ctx context.Context, client *http.Client, consoleURL, token string, self Node) error {
	data, err := json.Marshal(self)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(consoleURL, "/")+"/api/cluster/join", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("join failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Heartbeat announces self every interval until ctx is done. Failures are
// logged and retried on the next tick.
func Heartbeat(ctx context.Context, consoleURL, token string, self Node, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := Announce(ctx, client, consoleURL, token, self); err != nil && ctx.Err() == nil {
			logger.Warn("cluster heartbeat failed", "console", consoleURL, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
