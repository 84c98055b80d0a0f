package registry

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Node is a search node that announced itself to this one.
type Node struct {
	NodeID       string `json:"node_id"`
	URL          string `json:"url"` // base URL the node serves its API on
	Hostname     string `json:"hostname"`
	Version      string `json:"version"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
}

// Store keeps the live cluster members in memory.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]Node
	now   func() time.Time
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		nodes: make(map[string]Node),
		now:   time.Now,
	}
}

// RegisterOrUpdate adds a node or refreshes a known one, keeping its
// original registration time.
func (s *Store) RegisterOrUpdate(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	if existing, ok := s.nodes[n.NodeID]; ok {
		n.RegisteredAt = existing.RegisteredAt
	} else {
		n.RegisteredAt = now
	}
	n.LastSeenAt = now
	s.nodes[n.NodeID] = n
}

// Get returns a node by ID.
func (s *Store) Get(nodeID string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	return n, ok
}

// List returns all nodes ordered by ID.
func (s *Store) List() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		list = append(list, n)
	}
	slices.SortFunc(list, func(a, b Node) int { return cmp.Compare(a.NodeID, b.NodeID) })
	return list
}

// URLs returns the base URLs of all nodes.
func (s *Store) URLs() []string {
	nodes := s.List()
	urls := make([]string, len(nodes))
	for i, n := range nodes {
		urls[i] = n.URL
	}
	return urls
}

// Prune removes nodes not seen within timeout and returns how many went.
func (s *Store) Prune(timeout time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-timeout).Unix()
	count := 0
	for id, n := range s.nodes {
		if n.LastSeenAt < cutoff {
			delete(s.nodes, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale nodes every interval until ctx is done.
func (s *Store) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Prune(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}
