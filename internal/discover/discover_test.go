// ABOUTME: Tests for the discovery orchestrator: identity stability, staleness, persistence.
// ABOUTME: Drives cycles through a fake tmux runner with an injected clock.

package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmux/crewmux/internal/journal"
	"github.com/crewmux/crewmux/internal/registry"
	"github.com/crewmux/crewmux/internal/sigpack"
	"github.com/crewmux/crewmux/internal/tmux"
)

// fakeRunner serves canned tmux output, mutable between cycles.
type fakeRunner struct {
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	return []byte(f.output), f.err
}

// testHarness bundles a discoverer with its fakes for one test.
type testHarness struct {
	disc   *Discoverer
	runner *fakeRunner
	store  *registry.Store
	clock  *fakeClock
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newHarness(t *testing.T, signatures ...string) *testHarness {
	t.Helper()
	runner := &fakeRunner{}
	store := registry.NewStore(t.TempDir())
	matcher := sigpack.NewMatcher(sigpack.Builtin())
	matcher.AddCommands(signatures...)

	clock := &fakeClock{t: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)}
	disc := New(tmux.NewClientWithRunner(runner), store, matcher, nil)
	disc.now = clock.now
	return &testHarness{disc: disc, runner: runner, store: store, clock: clock}
}

func TestDiscover_EmptyInventory(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.output = ""

	reg, err := h.disc.Discover(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, reg.Agents)
}

func TestDiscover_ClassifiesOnlySignatureMatches(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.output = "0:1.1\t100\tworker\n0:1.2\t200\tbash\n"

	reg, err := h.disc.Discover(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, reg.Agents, 1)

	agent := reg.Agents[0]
	assert.Equal(t, "agent-0", agent.ID)
	assert.Equal(t, "0:1.1", agent.Location)
	assert.Equal(t, 100, agent.ProcessID)
	assert.Equal(t, registry.StatusActive, agent.Status)
	assert.Equal(t, "0", agent.SessionName)
}

func TestRefresh_IdentityStableAcrossScans(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.output = "0:1.1\t100\tworker\n"
	ctx := context.Background()

	first, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, first.Agents, 1)
	firstSeen := first.Agents[0].LastSeen

	h.clock.advance(10 * time.Second)
	second, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, second.Agents, 1)

	assert.Equal(t, "agent-0", second.Agents[0].ID, "same (location, pid) must keep its id")
	assert.True(t, second.Agents[0].LastSeen.After(firstSeen), "last_seen must advance")
}

func TestRefresh_PidChangeAllocatesFreshID(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()

	h.runner.output = "0:1.1\t100\tworker\n"
	_, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)

	// The pane was recycled by a different worker process.
	h.runner.output = "0:1.1\t999\tworker\n"
	h.clock.advance(time.Second)
	reg, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, reg.Agents, 1)
	assert.Equal(t, "agent-1", reg.Agents[0].ID, "old id must never rebind to a new process")
	assert.Equal(t, 999, reg.Agents[0].ProcessID)
	assert.Nil(t, reg.Lookup("agent-0"))
}

func TestRefresh_AbsentPaneDropsImmediately(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()

	h.runner.output = "0:1.1\t100\tworker\n0:1.2\t200\tworker\n"
	reg, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)
	require.Len(t, reg.Agents, 2)

	h.runner.output = "0:1.1\t100\tworker\n"
	h.clock.advance(time.Second)
	reg, err = h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, reg.Agents, 1)
	assert.Equal(t, "agent-0", reg.Agents[0].ID)

	// The drop is visible in the persisted registry, not just in memory.
	persisted, err := h.store.Read()
	require.NoError(t, err)
	assert.Nil(t, persisted.Lookup("agent-1"))
}

func TestRefresh_QuietAgentGoesStaleThenDrops(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()
	opts := Options{StaleThreshold: 60 * time.Second}

	h.runner.output = "0:1.1\t100\tworker\n"
	_, err := h.disc.Refresh(ctx, opts)
	require.NoError(t, err)

	// The worker wedged and crashed to a shell: the pane survives with the
	// same pid but the command no longer classifies.
	h.runner.output = "0:1.1\t100\tbash\n"
	h.clock.advance(61 * time.Second)
	reg, err := h.disc.Refresh(ctx, opts)
	require.NoError(t, err)

	require.Len(t, reg.Agents, 1, "stale agent remains listed")
	assert.Equal(t, registry.StatusStale, reg.Agents[0].Status)
	assert.Equal(t, "agent-0", reg.Agents[0].ID)

	// The grace period is one cycle; the next one removes it.
	h.clock.advance(10 * time.Second)
	reg, err = h.disc.Refresh(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, reg.Agents)
}

func TestRefresh_QuietAgentWithinThresholdStaysActive(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()
	opts := Options{StaleThreshold: 60 * time.Second}

	h.runner.output = "0:1.1\t100\tworker\n"
	_, err := h.disc.Refresh(ctx, opts)
	require.NoError(t, err)

	h.runner.output = "0:1.1\t100\tbash\n"
	h.clock.advance(30 * time.Second)
	reg, err := h.disc.Refresh(ctx, opts)
	require.NoError(t, err)

	require.Len(t, reg.Agents, 1)
	assert.Equal(t, registry.StatusActive, reg.Agents[0].Status)
}

func TestEvaluate_Threshold(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, registry.StatusStale,
		Evaluate(now.Add(-61*time.Second), now, 60*time.Second))
	assert.Equal(t, registry.StatusActive,
		Evaluate(now.Add(-60*time.Second), now, 60*time.Second))
	assert.Equal(t, registry.StatusActive,
		Evaluate(now, now, 60*time.Second))
}

func TestDiscover_UniqueIDs(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.output = "0:1.1\t100\tworker\n0:1.2\t200\tworker\n0:2.1\t300\tworker\n"

	reg, err := h.disc.Discover(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, reg.Agents, 3)

	seen := map[string]bool{}
	for _, a := range reg.Agents {
		assert.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
	}
}

func TestDiscover_DoesNotPersist(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.output = "0:1.1\t100\tworker\n"

	_, err := h.disc.Discover(context.Background(), Options{})
	require.NoError(t, err)

	persisted, err := h.store.Read()
	require.NoError(t, err)
	assert.Empty(t, persisted.Agents)
}

func TestDiscover_CorruptRegistryRestartsFromEmpty(t *testing.T) {
	h := newHarness(t, "worker")
	require.NoError(t, os.MkdirAll(filepath.Dir(h.store.Path()), 0755))
	require.NoError(t, os.WriteFile(h.store.Path(), []byte("{broken"), 0644))

	h.runner.output = "0:1.1\t100\tworker\n"
	reg, err := h.disc.Discover(context.Background(), Options{})
	require.NoError(t, err, "corruption must not be fatal to discovery")
	require.Len(t, reg.Agents, 1)
	assert.Equal(t, "agent-0", reg.Agents[0].ID)
}

func TestRefresh_SupersededByNewerSnapshot(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()

	// Another process already persisted a registry from the future of this
	// discoverer's clock.
	newer := registry.New("crew")
	newer.UpdatedAt = h.clock.t.Add(5 * time.Minute)
	newer.NextIDCounter = 7
	newer.Agents = []registry.Agent{{
		ID: "agent-6", Location: "crew:1.1", ProcessID: 42,
		Status: registry.StatusActive, LastSeen: newer.UpdatedAt, SessionName: "crew",
	}}
	require.NoError(t, h.store.Write(newer))

	h.runner.output = "0:1.1\t100\tworker\n"
	got, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, "crew", got.SessionName, "losing writer must return the newer on-disk registry")
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "agent-6", got.Agents[0].ID)
}

func TestRefresh_SurfacesTmuxErrors(t *testing.T) {
	h := newHarness(t, "worker")
	h.runner.err = context.DeadlineExceeded

	_, err := h.disc.Refresh(context.Background(), Options{})
	assert.ErrorIs(t, err, tmux.ErrTimeout)
}

func TestLookupAndListActive_AnswerFromDisk(t *testing.T) {
	h := newHarness(t, "worker")
	ctx := context.Background()

	h.runner.output = "0:1.1\t100\tworker\n0:1.2\t200\tworker\n"
	_, err := h.disc.Refresh(ctx, Options{})
	require.NoError(t, err)

	// Break the scanner: read paths must not invoke tmux at all.
	h.runner.err = errors.New("tmux must not be called")

	agent, err := h.disc.Lookup("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "0:1.2", agent.Location)

	_, err = h.disc.Lookup("agent-9")
	assert.ErrorIs(t, err, ErrAgentNotFound)

	active, err := h.disc.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRegistryPath(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, h.store.Path(), h.disc.RegistryPath())
}

// captureRecorder stores recorded cycles in memory.
type captureRecorder struct {
	cycles []journal.Cycle
}

func (c *captureRecorder) Record(ctx context.Context, cy *journal.Cycle) error {
	c.cycles = append(c.cycles, *cy)
	return nil
}

func TestRefresh_RecordsCycle(t *testing.T) {
	h := newHarness(t, "worker")
	rec := &captureRecorder{}
	h.disc.recorder = rec

	h.runner.output = "0:1.1\t100\tworker\n"
	_, err := h.disc.Refresh(context.Background(), Options{})
	require.NoError(t, err)

	require.Len(t, rec.cycles, 1)
	assert.Equal(t, 1, rec.cycles[0].AgentsTotal)
	assert.Equal(t, 1, rec.cycles[0].AgentsNew)
	assert.Empty(t, rec.cycles[0].Error)
}

func TestRefresh_RecordsFailedCycle(t *testing.T) {
	h := newHarness(t, "worker")
	rec := &captureRecorder{}
	h.disc.recorder = rec
	h.runner.err = context.DeadlineExceeded

	_, err := h.disc.Refresh(context.Background(), Options{})
	require.Error(t, err)

	require.Len(t, rec.cycles, 1)
	assert.NotEmpty(t, rec.cycles[0].Error)
}
