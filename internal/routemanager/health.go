package routemanager

import (
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Health is a point-in-time view of the manager's state
type Health struct {
	NodeID             string                  `json:"node_id"`
	Started            bool                    `json:"started"`
	Closed             bool                    `json:"closed"`
	Listeners          int                     `json:"listeners"`
	PendingResolutions int                     `json:"pending_resolutions"`
	Prefixes           map[routing.TableID]int `json:"prefixes"`
}

// Healthy reports whether the manager is serving.
func (h Health) Healthy() bool {
	return h.Started && !h.Closed
}

// Health returns the manager's current state.
func (mgr *Manager) Health() Health {
	mgr.mu.RLock()
	started, closed := mgr.started, mgr.closed
	mgr.mu.RUnlock()

	prefixes := make(map[routing.TableID]int)
	for _, table := range mgr.store.RouteTables() {
		prefixes[table] = mgr.store.Len(table)
	}

	return Health{
		NodeID:             mgr.config.NodeID,
		Started:            started,
		Closed:             closed,
		Listeners:          mgr.listeners.Len(),
		PendingResolutions: mgr.resolver.Pending() + mgr.hostExecutor.Pending(),
		Prefixes:           prefixes,
	}
}
