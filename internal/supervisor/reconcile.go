package supervisor

import (
	"context"
	"fmt"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// StatusReport is the aggregate view status() returns: the bound mode,
// per-status counts, and each tracked instance's current record.
type StatusReport struct {
	Mode      mcpctl.Mode
	Counts    map[mcpctl.Status]int
	Instances []*mcpctl.ServerInstance
}

// Status triggers a reconcile cycle against the backend, then returns the
// aggregated view, per spec.md §4.3.
func (s *Supervisor) Status(ctx context.Context) (StatusReport, error) {
	ctx, end := s.startSpan(ctx, "supervisor.Status")
	defer end()

	if err := s.reconcile(ctx); err != nil {
		log.Warningf("reconcile failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	report := StatusReport{Mode: s.mode, Counts: map[mcpctl.Status]int{}}
	for _, inst := range s.instances {
		report.Counts[inst.Status]++
		report.Instances = append(report.Instances, inst)
	}
	return report, nil
}

// reconcile maps each tracked instance's observed backend status onto our
// status enum per spec.md §4.3's table, and garbage-collects instances
// observed NotFound for two consecutive cycles.
func (s *Supervisor) reconcile(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	observed, err := s.driver.Status(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var toCollect []string
	for id, inst := range s.instances {
		w, found := observed[id]
		if !found {
			if inst.ObserveNotFound() {
				toCollect = append(toCollect, id)
			}
			continue
		}
		inst.ObserveFound()
		inst.Status, inst.Ready, inst.StatusReason = mapPhase(w)
	}
	for _, id := range toCollect {
		delete(s.instances, id)
		delete(s.logRings, id)
		s.cancelLogReaderLocked(id)
		if inst := s.cfg.Instruments; inst != nil {
			inst.ActiveInstances.Add(ctx, -1)
		}
		log.Infof("garbage collected instance %s after two NotFound cycles", id)
	}
	return nil
}

// mapPhase implements spec.md §4.3's reconciliation table.
func mapPhase(w backend.WorkloadStatus) (status mcpctl.Status, ready bool, reason string) {
	switch w.Phase {
	case "Pending":
		return mcpctl.StatusPending, false, w.Reason
	case "Running":
		if w.Ready {
			return mcpctl.StatusRunning, true, ""
		}
		return mcpctl.StatusStarting, false, ""
	case "Succeeded":
		return mcpctl.StatusStopped, false, ""
	case "Failed":
		return mcpctl.StatusFailed, false, w.Reason
	default:
		return mcpctl.StatusPending, false, ""
	}
}

// Logs returns up to limit recent log lines for serverID. For backends
// that stream logs externally (Docker/Kubernetes), this also merges in
// the in-process live-tail ring so a caller sees both historical and
// just-arrived lines.
func (s *Supervisor) Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error) {
	s.mu.RLock()
	_, tracked := s.instances[serverID]
	ring := s.logRings[serverID]
	s.mu.RUnlock()
	if !tracked {
		return nil, fmt.Errorf("server %s not tracked", serverID)
	}

	entries, err := s.driver.Logs(ctx, serverID, limit)
	if err != nil {
		return nil, err
	}
	if ring != nil {
		entries = append(entries, ring.Tail(limit)...)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Health probes backend reachability and counts ready instances, per
// spec.md §4.3: healthy iff backend reachable AND (no instances OR at
// least one ready).
func (s *Supervisor) Health(ctx context.Context) error {
	ctx, end := s.startSpan(ctx, "supervisor.Health")
	defer end()

	if s.driver == nil {
		return fmt.Errorf("unavailable: no backend bound")
	}
	if err := s.driver.Health(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.instances) == 0 {
		return nil
	}
	for _, inst := range s.instances {
		if inst.Ready {
			return nil
		}
	}
	return fmt.Errorf("backend reachable but no instance is ready")
}
