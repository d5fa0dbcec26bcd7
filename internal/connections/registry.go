package connections

import (
	"context"
	"sort"
	"sync"
	"time"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// Registry tracks the known feed connections and their heartbeat state.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*models.ScadaConnection
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*models.ScadaConnection),
		now:   time.Now,
	}
}

// Register adds or replaces a connection and marks it connected.
func (r *Registry) Register(conn models.ScadaConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.Status = models.ConnectionConnected
	conn.LastHeartbeat = r.now()
	r.conns[conn.ConnectionID] = &conn
}

// Heartbeat refreshes the connection's liveness. Unknown connection IDs
// are auto-registered so traffic from a feed configured after startup
// still shows up in the snapshot.
func (r *Registry) Heartbeat(connectionID string, system models.SourceSystem) {
	if connectionID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, exists := r.conns[connectionID]
	if !exists {
		conn = &models.ScadaConnection{ConnectionID: connectionID, System: system}
		r.conns[connectionID] = conn
	}
	if conn.Status != models.ConnectionConnected {
		logger.Infof("connections: %s reconnected", connectionID)
	}
	conn.Status = models.ConnectionConnected
	conn.LastHeartbeat = r.now()
}

// MarkDisconnected flags the connection without removing it.
func (r *Registry) MarkDisconnected(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, exists := r.conns[connectionID]; exists {
		conn.Status = models.ConnectionDisconnected
	}
}

// Snapshot returns the registered connections sorted by ID.
func (r *Registry) Snapshot() []models.ScadaConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ScadaConnection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// SweepStale marks connections disconnected when their last heartbeat
// is older than maxAge. Returns the IDs it flagged.
func (r *Registry) SweepStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	var flagged []string
	for id, conn := range r.conns {
		if conn.Status == models.ConnectionConnected && conn.LastHeartbeat.Before(cutoff) {
			conn.Status = models.ConnectionDisconnected
			flagged = append(flagged, id)
			logger.Warnf("connections: %s stale, no traffic for %s", id, maxAge)
		}
	}
	sort.Strings(flagged)
	return flagged
}

// RunSweeper periodically sweeps for stale connections until the
// context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepStale(maxAge)
		}
	}
}
