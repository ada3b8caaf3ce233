// ABOUTME: Discovery orchestrator composing pane scan, classification, identity, and staleness.
// ABOUTME: Owns the public Discover/Refresh/Lookup surface collaborators depend on.

package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewmux/crewmux/internal/journal"
	"github.com/crewmux/crewmux/internal/registry"
	"github.com/crewmux/crewmux/internal/sigpack"
	"github.com/crewmux/crewmux/internal/tmux"
)

// ErrAgentNotFound indicates the requested agent id is not in the registry.
var ErrAgentNotFound = errors.New("agent not found")

// DefaultStaleThreshold is the grace period before a present-but-quiet agent
// is marked stale.
const DefaultStaleThreshold = 60 * time.Second

// Options controls a single discovery cycle.
type Options struct {
	// SessionFilter restricts the scan to one tmux session. Empty scans all.
	SessionFilter string
	// StaleThreshold overrides DefaultStaleThreshold when positive.
	StaleThreshold time.Duration
}

// Recorder receives one record per persisted discovery cycle. The journal
// implements it; a nil Recorder disables recording.
type Recorder interface {
	Record(ctx context.Context, c *journal.Cycle) error
}

// Discoverer runs discovery cycles and answers lookups against the
// persisted registry.
type Discoverer struct {
	tmux     *tmux.Client
	store    *registry.Store
	matcher  *sigpack.Matcher
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a discoverer. recorder may be nil.
func New(client *tmux.Client, store *registry.Store, matcher *sigpack.Matcher, recorder Recorder) *Discoverer {
	return &Discoverer{
		tmux:     client,
		store:    store,
		matcher:  matcher,
		recorder: recorder,
		logger:   slog.Default().With("component", "discover"),
		now:      time.Now,
	}
}

// cycleStats summarizes what one cycle did to the agent population.
type cycleStats struct {
	total   int
	fresh   int
	stale   int
	dropped int
}

// Discover runs one discovery cycle and returns the resulting registry
// without persisting it.
func (d *Discoverer) Discover(ctx context.Context, opts Options) (*registry.Registry, error) {
	reg, _, err := d.discover(ctx, opts)
	return reg, err
}

// discover is the full cycle: read previous state, scan panes, classify,
// assign identities, evaluate staleness.
func (d *Discoverer) discover(ctx context.Context, opts Options) (*registry.Registry, cycleStats, error) {
	var stats cycleStats

	threshold := opts.StaleThreshold
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	prev, err := d.store.Read()
	if err != nil {
		if !errors.Is(err, registry.ErrCorrupt) {
			return nil, stats, err
		}
		// Rebuild from an empty baseline; every agent will be re-allocated
		// on the next successful write.
		d.logger.Warn("registry file corrupt, rebuilding from empty baseline", "error", err)
	}

	panes, err := d.tmux.ListPanes(ctx, opts.SessionFilter)
	if err != nil {
		return nil, stats, err
	}

	now := d.now().UTC()
	next := registry.New(opts.SessionFilter)
	next.NextIDCounter = prev.NextIDCounter
	next.UpdatedAt = now

	prevByLocation := make(map[string]registry.Agent, len(prev.Agents))
	for _, a := range prev.Agents {
		prevByLocation[a.Location] = a
	}
	paneByLocation := make(map[string]tmux.Pane, len(panes))
	for _, p := range panes {
		paneByLocation[p.Location] = p
	}

	carried := make(map[string]bool)
	for _, p := range panes {
		if _, ok := d.matcher.Match(p.Command); !ok {
			continue
		}
		agent := registry.Agent{
			Location:    p.Location,
			ProcessID:   p.PID,
			Status:      registry.StatusActive,
			LastSeen:    now,
			SessionName: p.SessionName,
		}
		if previous, ok := prevByLocation[p.Location]; ok && previous.ProcessID == p.PID {
			// Same location, same process: the same physical worker.
			agent.ID = previous.ID
			carried[previous.ID] = true
		} else {
			// Genuinely new, or the pane was recycled by a different
			// process. Either way the old id must not be reused.
			agent.ID = next.AllocateID()
			stats.fresh++
			d.logger.Info("new agent discovered",
				"id", agent.ID,
				"location", agent.Location,
				"pid", agent.ProcessID,
			)
		}
		next.Agents = append(next.Agents, agent)
	}

	// Previous agents not re-observed this cycle. An agent whose pane is
	// gone (or hosts a different process) is dropped outright; an agent
	// whose pane survives but no longer runs a classified command is kept
	// through the staleness grace period, then dropped.
	for _, a := range prev.Agents {
		if carried[a.ID] {
			continue
		}
		pane, present := paneByLocation[a.Location]
		if !present || pane.PID != a.ProcessID {
			stats.dropped++
			d.logger.Info("agent dropped, pane gone", "id", a.ID, "location", a.Location)
			continue
		}
		status := Evaluate(a.LastSeen, now, threshold)
		if status == registry.StatusStale && a.Status == registry.StatusStale {
			stats.dropped++
			d.logger.Info("stale agent dropped", "id", a.ID, "location", a.Location)
			continue
		}
		a.Status = status
		next.Agents = append(next.Agents, a)
	}

	for _, a := range next.Agents {
		if a.Status == registry.StatusStale {
			stats.stale++
		}
	}
	stats.total = len(next.Agents)

	next.SessionName = sessionNameFor(opts.SessionFilter, next.Agents, prev.SessionName)
	return next, stats, nil
}

// Evaluate derives an agent's status from its last observation time. Agents
// quiet for longer than the threshold are stale but stay listed; absence
// from the pane inventory is handled separately as an immediate drop.
func Evaluate(lastSeen, now time.Time, threshold time.Duration) registry.AgentStatus {
	if now.Sub(lastSeen) > threshold {
		return registry.StatusStale
	}
	return registry.StatusActive
}

// sessionNameFor picks the registry's session name: the explicit filter,
// else the session of the first discovered agent, else the previous value.
func sessionNameFor(filter string, agents []registry.Agent, previous string) string {
	if filter != "" {
		return filter
	}
	if len(agents) > 0 {
		return agents[0].SessionName
	}
	return previous
}

// Refresh runs a discovery cycle and persists the result. If a concurrent
// cycle already persisted a newer snapshot, the newer on-disk registry is
// returned instead of regressing it.
func (d *Discoverer) Refresh(ctx context.Context, opts Options) (*registry.Registry, error) {
	started := d.now().UTC()
	reg, stats, err := d.discover(ctx, opts)
	d.record(ctx, started, opts, stats, err)
	if err != nil {
		return nil, err
	}

	if err := d.store.Write(reg); err != nil {
		if errors.Is(err, registry.ErrSnapshotSuperseded) {
			newer, readErr := d.store.Read()
			if readErr != nil {
				return nil, fmt.Errorf("reading superseding registry: %w", readErr)
			}
			return newer, nil
		}
		return nil, err
	}
	return reg, nil
}

// record writes one journal entry for a refresh cycle, if recording is on.
func (d *Discoverer) record(ctx context.Context, started time.Time, opts Options, stats cycleStats, cycleErr error) {
	if d.recorder == nil {
		return
	}
	c := &journal.Cycle{
		StartedAt:     started,
		FinishedAt:    d.now().UTC(),
		SessionName:   opts.SessionFilter,
		AgentsTotal:   stats.total,
		AgentsNew:     stats.fresh,
		AgentsStale:   stats.stale,
		AgentsDropped: stats.dropped,
	}
	if cycleErr != nil {
		c.Error = cycleErr.Error()
		c.AgentsTotal = 0
	}
	if err := d.recorder.Record(ctx, c); err != nil {
		d.logger.Warn("failed to record discovery cycle", "error", err)
	}
}

// Lookup returns the agent with the given id from the persisted registry.
// It never triggers a new scan; it answers what the on-disk registry claims.
func (d *Discoverer) Lookup(id string) (*registry.Agent, error) {
	reg, err := d.readPersisted()
	if err != nil {
		return nil, err
	}
	agent := reg.Lookup(id)
	if agent == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// ListActive returns the active agents from the persisted registry.
func (d *Discoverer) ListActive() ([]registry.Agent, error) {
	reg, err := d.readPersisted()
	if err != nil {
		return nil, err
	}
	return reg.Active(), nil
}

// List returns every agent, stale included, from the persisted registry.
func (d *Discoverer) List() ([]registry.Agent, error) {
	reg, err := d.readPersisted()
	if err != nil {
		return nil, err
	}
	return reg.Agents, nil
}

// RegistryPath returns the path of the registry file collaborators read.
func (d *Discoverer) RegistryPath() string {
	return d.store.Path()
}

// readPersisted reads the on-disk registry, downgrading corruption to an
// empty view so read-only commands keep working.
func (d *Discoverer) readPersisted() (*registry.Registry, error) {
	reg, err := d.store.Read()
	if err != nil {
		if errors.Is(err, registry.ErrCorrupt) {
			d.logger.Warn("registry file corrupt, treating as empty", "error", err)
			return reg, nil
		}
		return nil, err
	}
	return reg, nil
}
