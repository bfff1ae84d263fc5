package service

import (
	"time"

	"flowdesk/internal/automation/engine"
)

// Snapshot is a point-in-time diagnostic view of the scheduler.
type Snapshot struct {
	Enabled      bool            `json:"enabled"`
	Running      bool            `json:"running"`
	PollInterval time.Duration   `json:"poll_interval"`
	Timezone     string          `json:"timezone"`
	Engine       engine.Snapshot `json:"engine"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:      s.cfg.Enabled,
		Running:      s.running,
		PollInterval: s.cfg.PollInterval,
		Timezone:     s.loc.String(),
	}
	s.mu.Unlock()
	snap.Engine = s.eng.Snapshot()
	return snap
}
