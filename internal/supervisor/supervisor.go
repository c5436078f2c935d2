// Package supervisor implements the Pod/Container Supervisor of
// spec.md §4.3: manifest synthesis, throttled start/stop, per-instance
// tracking, and reconciliation against a backend.Driver. Grounded on the
// teacher's clientPool (cmd/docker-mcp/internal/gateway/clientpool.go) for
// the mutex-guarded tracking-map idiom, and on
// original_source/.../sidecar/manager.py's MCPSidecarManager for the
// start/stop/status/logs/health operation shapes (the 2s throttle itself
// is a spec-level addition not present in that source).
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/manifest"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
	"github.com/archon-ai/mcp-controlplane/internal/telemetry"
)

// logPollInterval is how often the per-instance log reader polls the
// backend for new lines to merge into the instance's live-tail ring.
const logPollInterval = 2 * time.Second

var log = logging.Get("supervisor")

// Clock is injected so throttle tests can control time without sleeping.
type Clock func() time.Time

// Config bundles the supervisor's tunables, sourced from config.Settings
// and the manifest Builder's environment defaults.
type Config struct {
	MaxConcurrentServers int
	ThrottleWindow       time.Duration
	EnvDefaults          manifest.EnvDefaults
	Namespace            string
	Now                  Clock
	Instruments          *telemetry.Instruments
}

// Supervisor tracks ServerInstances against a single bound backend.Driver.
type Supervisor struct {
	cfg    Config
	driver backend.Driver
	mode   mcpctl.Mode

	mu          sync.RWMutex
	instances   map[string]*mcpctl.ServerInstance // by server id
	lastOpAt    time.Time
	logRings    map[string]*mcpctl.LogRing
	logCancels  map[string]context.CancelFunc // per-instance log reader goroutine
}

// New constructs a Supervisor bound to driver/mode. cfg.Now defaults to
// time.Now.
func New(driver backend.Driver, mode mcpctl.Mode, cfg Config) *Supervisor {
	if cfg.MaxConcurrentServers <= 0 {
		cfg.MaxConcurrentServers = 10
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Supervisor{
		cfg:        cfg,
		driver:     driver,
		mode:       mode,
		instances:  map[string]*mcpctl.ServerInstance{},
		logRings:   map[string]*mcpctl.LogRing{},
		logCancels: map[string]context.CancelFunc{},
	}
}

// startSpan opens a span named name if a Tracer is bound, a no-op
// otherwise. The returned func must be deferred to close it.
func (s *Supervisor) startSpan(ctx context.Context, name string) (context.Context, func()) {
	if s.cfg.Instruments == nil || s.cfg.Instruments.Tracer == nil {
		return ctx, func() {}
	}
	spanCtx, span := s.cfg.Instruments.Tracer.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// checkThrottleLocked enforces the ≥2s window between any two start/stop calls
// globally (spec.md §4.3/§8). Must be called with mu held.
func (s *Supervisor) checkThrottleLocked() error {
	now := s.cfg.Now()
	if !s.lastOpAt.IsZero() {
		elapsed := now.Sub(s.lastOpAt)
		if elapsed < s.cfg.ThrottleWindow {
			return ctlerr.New(ctlerr.KindThrottled, "start/stop throttled, wait %s", (s.cfg.ThrottleWindow - elapsed).Round(time.Millisecond)).
				WithRetryAfter(s.cfg.ThrottleWindow - elapsed)
		}
	}
	s.lastOpAt = now
	return nil
}

// Start validates cfg, enforces the concurrency limit, duplicate-name
// check, and throttle window, then submits a manifest via the backend.
func (s *Supervisor) Start(ctx context.Context, cfg mcpctl.ServerConfig) (*mcpctl.ServerInstance, error) {
	ctx, end := s.startSpan(ctx, "supervisor.Start")
	defer end()

	if s.driver == nil {
		return nil, ctlerr.New(ctlerr.KindUnavailable, "no backend bound, deployment mode is unavailable")
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, ctlerr.New(ctlerr.KindValidation, "%s", err)
	}

	s.mu.Lock()
	if len(s.runningLocked()) >= s.cfg.MaxConcurrentServers {
		s.mu.Unlock()
		return nil, ctlerr.New(ctlerr.KindValidation, "Maximum concurrent servers (%d) reached", s.cfg.MaxConcurrentServers)
	}
	if existing := s.findRunningLocked(cfg.Key()); existing != nil {
		s.mu.Unlock()
		return existing, ctlerr.New(ctlerr.KindAlreadyRunning, "server %s already running", existing.ServerID).WithServerID(existing.ServerID)
	}
	if err := s.checkThrottleLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	m, err := manifest.Build(cfg, s.cfg.EnvDefaults)
	if err != nil {
		return nil, ctlerr.New(ctlerr.KindValidation, "%s", err)
	}

	now := s.cfg.Now()
	serverID := mcpctl.NewServerID(cfg, now)
	podName := podNameFor(s.cfg.EnvDefaults.Prefix, cfg, now)

	if err := s.driver.Create(ctx, backend.WorkloadSpec{
		ServerID:  serverID,
		PodName:   podName,
		Namespace: s.cfg.Namespace,
		Manifest:  m,
	}); err != nil {
		return nil, err
	}

	inst := &mcpctl.ServerInstance{
		ServerID:      serverID,
		PodName:       podName,
		ServerType:    cfg.ServerType,
		Name:          cfg.DisplayName(),
		Transport:     cfg.Transport,
		Status:        mcpctl.StatusStarting,
		StartTimeUnix: now.Unix(),
		Config:        cfg,
	}

	ring := mcpctl.NewLogRing()
	logCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.instances[serverID] = inst
	s.logRings[serverID] = ring
	s.logCancels[serverID] = cancel
	s.mu.Unlock()

	go s.runLogReader(logCtx, serverID, ring)

	if inst := s.cfg.Instruments; inst != nil {
		inst.StartsTotal.Add(ctx, 1)
		inst.ActiveInstances.Add(ctx, 1)
	}
	log.Infof("started %s (%s)", serverID, cfg.ServerType)
	return inst, nil
}

// runLogReader polls the backend's historical Logs for serverID and merges
// newly observed lines into ring, until ctx is cancelled (on stop or GC).
// The backend's Logs call returns the full tail each time, so only the
// entries beyond what was previously seen are appended.
func (s *Supervisor) runLogReader(ctx context.Context, serverID string, ring *mcpctl.LogRing) {
	seen := 0
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		entries, err := s.driver.Logs(ctx, serverID, 0)
		if err == nil && len(entries) > seen {
			for _, e := range entries[seen:] {
				ring.Append(e)
			}
			seen = len(entries)
		}
		timer.Reset(logPollInterval)
	}
}

// cancelLogReaderLocked stops and forgets serverID's log reader goroutine.
// Callers must hold s.mu.
func (s *Supervisor) cancelLogReaderLocked(serverID string) {
	if cancel, ok := s.logCancels[serverID]; ok {
		cancel()
		delete(s.logCancels, serverID)
	}
}

// podNameFor implements spec.md §6's pod naming convention:
// {prefix}-{name-or-type}-{unix_seconds}.
func podNameFor(prefix string, cfg mcpctl.ServerConfig, now time.Time) string {
	if prefix == "" {
		prefix = "mcp"
	}
	nameOrType := cfg.Name
	if nameOrType == "" {
		nameOrType = string(cfg.ServerType)
	}
	return fmt.Sprintf("%s-%s-%d", prefix, nameOrType, now.Unix())
}

func (s *Supervisor) findRunningLocked(key mcpctl.InstanceKey) *mcpctl.ServerInstance {
	for _, inst := range s.instances {
		if inst.Key() == key && inst.Status == mcpctl.StatusRunning {
			return inst
		}
	}
	return nil
}

func (s *Supervisor) runningLocked() []*mcpctl.ServerInstance {
	var out []*mcpctl.ServerInstance
	for _, inst := range s.instances {
		if inst.Status != mcpctl.StatusStopped && inst.Status != mcpctl.StatusNotFound {
			out = append(out, inst)
		}
	}
	return out
}

// StopResult reports the outcome of a single instance's stop, used both
// for single-id stop and the aggregated bulk form.
type StopResult struct {
	ServerID string
	Err      error
}

// Stop deletes a single instance by id. Idempotent: stopping an unknown id
// returns ctlerr.NotFound. The throttle is checked once per call, here.
func (s *Supervisor) Stop(ctx context.Context, serverID string) error {
	ctx, end := s.startSpan(ctx, "supervisor.Stop")
	defer end()

	s.mu.Lock()
	if err := s.checkThrottleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.stopOneUnthrottled(ctx, serverID)
}

// stopOneUnthrottled deletes a single instance without touching the
// throttle window, so a bulk caller (StopAll) can sweep every tracked
// instance under a single throttle check instead of re-gating each delete.
func (s *Supervisor) stopOneUnthrottled(ctx context.Context, serverID string) error {
	s.mu.Lock()
	inst, ok := s.instances[serverID]
	s.mu.Unlock()
	if !ok {
		return ctlerr.New(ctlerr.KindNotFound, "server %s not found", serverID)
	}

	inst.Status = mcpctl.StatusStopping
	err := s.driver.Delete(ctx, serverID)
	if err != nil && !errorsIsNotFound(err) {
		return err
	}

	s.mu.Lock()
	delete(s.instances, serverID)
	delete(s.logRings, serverID)
	s.cancelLogReaderLocked(serverID)
	s.mu.Unlock()

	if inst := s.cfg.Instruments; inst != nil {
		inst.StopsTotal.Add(ctx, 1)
		inst.ActiveInstances.Add(ctx, -1)
	}
	log.Infof("stopped %s", serverID)
	return nil
}

// StopAll deletes every tracked instance, aggregating partial failures per
// spec.md §8 scenario 6: successes are removed from tracking even if other
// instances fail. The throttle is checked once, for the whole sweep, not
// once per instance (original_source/.../sidecar/manager.py's
// stop_server(server_id=None) has no per-item throttle either).
func (s *Supervisor) StopAll(ctx context.Context) []StopResult {
	ctx, end := s.startSpan(ctx, "supervisor.StopAll")
	defer end()

	s.mu.Lock()
	if err := s.checkThrottleLocked(); err != nil {
		s.mu.Unlock()
		return []StopResult{{Err: err}}
	}
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	results := make([]StopResult, 0, len(ids))
	for _, id := range ids {
		err := s.stopOneUnthrottled(ctx, id)
		results = append(results, StopResult{ServerID: id, Err: err})
	}
	return results
}

// errorsIsNotFound reports whether err wraps ctlerr.NotFound, treated as
// idempotent success for cleanup flows per spec.md §7.
func errorsIsNotFound(err error) bool {
	ce, ok := err.(*ctlerr.Error)
	return ok && ce.Kind == ctlerr.KindNotFound
}

// ListExternal returns tracked instances whose server type is not
// "archon" — the always-on main server is never in this set. Supplemented
// from original_source/manager.py's list_external_servers.
func (s *Supervisor) ListExternal() []*mcpctl.ServerInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*mcpctl.ServerInstance
	for _, inst := range s.instances {
		if inst.ServerType != mcpctl.ServerTypeArchon {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Mode returns the bound deployment mode.
func (s *Supervisor) Mode() mcpctl.Mode { return s.mode }

// LogRing returns the bounded log ring for serverID, or nil if untracked.
func (s *Supervisor) LogRing(serverID string) *mcpctl.LogRing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logRings[serverID]
}

// Attach opens a stdio exec stream to serverID's running container via the
// bound backend, for use by a Bridge session (spec.md §4.4's "the Bridge
// attaches a stdio Adapter whose stream is the Exec Stream Handler").
func (s *Supervisor) Attach(ctx context.Context, serverID string) (*backend.ExecStream, error) {
	s.mu.RLock()
	_, tracked := s.instances[serverID]
	s.mu.RUnlock()
	if !tracked {
		return nil, ctlerr.New(ctlerr.KindNotFound, "server %s not found", serverID)
	}
	return s.driver.Exec(ctx, serverID)
}
