package workflow

import (
	"time"

	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/stage"
)

// ConfigureLanes registers the lane handlers the manager will run. Lanes
// disabled in configuration are skipped.
func (m *Manager) ConfigureLanes(set LaneSet) {
	lanes := make([]*laneState, 0, 3)
	add := func(handler stage.Handler, tuning config.Lane) {
		if handler == nil || !tuning.Enabled {
			return
		}
		spec := handler.Spec()
		lane := &laneState{
			name:         spec.Name,
			handler:      handler,
			spec:         spec,
			batchSize:    max(tuning.BatchSize, 1),
			workers:      max(tuning.Workers, 1),
			pollInterval: max(time.Duration(tuning.PollInterval)*time.Second, minPollInterval),
			timeout:      time.Duration(tuning.TimeoutSeconds) * time.Second,
		}
		lane.logger = m.logger.With(
			logging.String(logging.FieldComponent, "workflow-"+lane.name+"-runner"),
			logging.String(logging.FieldLane, lane.name),
		)
		lanes = append(lanes, lane)
	}
	add(set.Vault, m.cfg.Lanes.Vault)
	add(set.Factory, m.cfg.Lanes.Factory)
	add(set.Judge, m.cfg.Lanes.Judge)

	m.mu.Lock()
	m.lanes = lanes
	m.mu.Unlock()
}

// LaneNames lists the configured lanes in run order.
func (m *Manager) LaneNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.lanes))
	for _, lane := range m.lanes {
		names = append(names, lane.name)
	}
	return names
}
