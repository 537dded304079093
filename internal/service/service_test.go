package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshroster/internal/domain"
	"meshroster/internal/engine"
	"meshroster/internal/probe"
	"meshroster/internal/repository/sqlite"
)

// meshRunner answers "meshtastic --info --device X" from a table keyed by X;
// the key "" answers calls without a device selector
type meshRunner struct {
	mu      sync.Mutex
	answers map[string]string
	missing bool
	calls   int
}

func (m *meshRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.missing {
		return "", probe.ErrToolNotFound
	}
	device := ""
	for i, a := range args {
		if (a == "--device" || a == "--host") && i+1 < len(args) {
			device = args[i+1]
		}
	}
	return m.answers[device], nil
}

type staticScanner struct {
	ids []string
	err error
}

func (s staticScanner) Scan(ctx context.Context) ([]string, error) {
	return s.ids, s.err
}

type fixture struct {
	svc    *RosterService
	repo   *sqlite.Repository
	runner *meshRunner
	events chan Event
}

func newFixture(t *testing.T, answers map[string]string, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	runner := &meshRunner{answers: answers}
	client := probe.NewClient(runner, logger)
	cache := probe.NewInfoCache(client, probe.DefaultTTL)
	validator := engine.NewValidator(cache, logger,
		engine.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))

	bus := NewEventBus()
	events := make(chan Event, 32)
	bus.Subscribe(events)

	opts = append([]Option{WithEventBus(bus)}, opts...)
	svc := NewRosterService(repo, validator, cache, logger, opts...)
	return &fixture{svc: svc, repo: repo, runner: runner, events: events}
}

func roles(t *testing.T, svc *RosterService) map[string]domain.Role {
	t.Helper()
	devices, err := svc.ListDevices(context.Background())
	require.NoError(t, err)
	out := map[string]domain.Role{}
	for _, d := range devices {
		out[d.NodeID] = d.Role
	}
	return out
}

const radioInfo = `{"nodes":{"!a1b2":{"user":{"longName":"Base","macaddr":"A1:B2:C3:D4:E5:F6"},"deviceMetrics":{"batteryLevel":77},"position":{"latitude":10.5,"longitude":20.25}}}}`

func TestSeedScenario(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A1:B2:C3:D4:E5:F6": radioInfo,
		"COM5":              "Connected to radio\nOwner: Rover",
	})
	ctx := context.Background()

	res := f.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "seed1", Role: "CLIENT"})
	require.True(t, res.OK, res.Reason)

	outcome := f.svc.Commit(ctx, CommitRequest{
		Candidates: []string{"A1:B2:C3:D4:E5:F6", "COM5"},
		Mode:       domain.AllocationAuto,
		AutoCommit: true,
	})
	require.True(t, outcome.Committed, outcome.Error)
	assert.Equal(t, "A1:B2:C3:D4:E5:F6", outcome.Allocation.Primary)
	assert.Equal(t, []string{"COM5"}, outcome.Allocation.Secondaries)
	assert.Equal(t, 2, outcome.Upserted)
	require.Len(t, outcome.Attempts, 2)

	assert.Equal(t, map[string]domain.Role{
		"seed1":             domain.RoleClient,
		"A1:B2:C3:D4:E5:F6": domain.RolePrimary,
		"COM5":              domain.RoleSecondary,
	}, roles(t, f.svc))

	history, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Len(t, history[0].Devices, 1)
	assert.Equal(t, "seed1", history[0].Devices[0].NodeID)
	assert.Equal(t, domain.RoleClient, history[0].Devices[0].Role)

	undo := f.svc.Undo(ctx)
	require.True(t, undo.OK, undo.Reason)
	assert.Equal(t, history[0].ID, undo.SnapshotID)
	assert.Equal(t, map[string]domain.Role{"seed1": domain.RoleClient}, roles(t, f.svc))
}

func TestCommitCapturesTelemetry(t *testing.T) {
	f := newFixture(t, map[string]string{
		"A1:B2:C3:D4:E5:F6": radioInfo,
		"COM5":              "plain text without readings",
	})
	ctx := context.Background()

	outcome := f.svc.Commit(ctx, CommitRequest{
		Candidates: []string{"A1:B2:C3:D4:E5:F6", "COM5"},
		AutoCommit: true,
	})
	require.True(t, outcome.Committed)

	sample, err := f.svc.LatestTelemetry(ctx, "A1:B2:C3:D4:E5:F6")
	require.NoError(t, err)
	assert.Equal(t, 77.0, *sample.Battery)

	positions, err := f.svc.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 10.5, positions[0].Latitude)

	require.Len(t, outcome.Warnings, 1, "raw output carries no telemetry")
	assert.Equal(t, "COM5", outcome.Warnings[0].Device)
	assert.Equal(t, "telemetry", outcome.Warnings[0].Step)
	assert.True(t, outcome.Committed, "warnings never change committed")
}

func TestCommitDryRun(t *testing.T) {
	f := newFixture(t, map[string]string{"COM5": "ok"})
	ctx := context.Background()

	outcome := f.svc.Commit(ctx, CommitRequest{Candidates: []string{"COM5", "COM6"}})
	assert.False(t, outcome.Committed)
	assert.True(t, outcome.DryRun)
	assert.Equal(t, "COM5", outcome.Allocation.Primary)
	assert.Equal(t, []string{"COM5"}, outcome.Available)
	assert.False(t, outcome.Attempts[1].OK)
	assert.Equal(t, domain.FailureUnreachable, outcome.Attempts[1].Kind)

	assert.Empty(t, roles(t, f.svc))
	history, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCommitManualPrimary(t *testing.T) {
	f := newFixture(t, map[string]string{"COM5": "ok", "COM6": "ok"})

	outcome := f.svc.Commit(context.Background(), CommitRequest{
		Candidates:    []string{"COM5", "COM6"},
		Mode:          domain.AllocationManual,
		ManualPrimary: "Z",
		AutoCommit:    true,
	})
	require.True(t, outcome.Committed)
	assert.Equal(t, map[string]domain.Role{
		"Z":    domain.RolePrimary,
		"COM5": domain.RoleSecondary,
		"COM6": domain.RoleSecondary,
	}, roles(t, f.svc))
}

func TestCommitEmptyPlanWritesSnapshot(t *testing.T) {
	f := newFixture(t, map[string]string{})
	ctx := context.Background()
	require.True(t, f.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "seed1", Role: "CLIENT"}).OK)

	outcome := f.svc.Commit(ctx, CommitRequest{AutoCommit: true})
	require.True(t, outcome.Committed)
	assert.Zero(t, outcome.Upserted)
	assert.Empty(t, outcome.Allocation.Primary)

	history, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, map[string]domain.Role{"seed1": domain.RoleClient}, roles(t, f.svc))
}

func TestCommitRepeatedCandidatesKeepPrimary(t *testing.T) {
	f := newFixture(t, map[string]string{"COM5": "ok", "COM6": "ok"})

	outcome := f.svc.Commit(context.Background(), CommitRequest{
		Candidates: []string{"COM5", "COM6", "COM5"},
		Mode:       domain.AllocationAuto,
		AutoCommit: true,
	})
	require.True(t, outcome.Committed, outcome.Error)
	assert.Len(t, outcome.Attempts, 2, "each candidate validated once")
	assert.Equal(t, "COM5", outcome.Allocation.Primary)
	assert.Equal(t, []string{"COM6"}, outcome.Allocation.Secondaries)
	assert.Equal(t, 2, outcome.Upserted)
	assert.Equal(t, map[string]domain.Role{
		"COM5": domain.RolePrimary,
		"COM6": domain.RoleSecondary,
	}, roles(t, f.svc))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	// "é" is two bytes; cutting at byte 2 would split it
	assert.Equal(t, "a", truncate("aéb", 2))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("ü", 600), 1000)))
	assert.Len(t, truncate(strings.Repeat("ü", 600), 1000), 1000)
}

func TestCommitUsesScanner(t *testing.T) {
	f := newFixture(t, map[string]string{"COM9": "ok"},
		WithScanner(staticScanner{ids: []string{"COM9"}}))

	outcome := f.svc.Commit(context.Background(), CommitRequest{})
	assert.Equal(t, "COM9", outcome.Allocation.Primary)
}

func TestUndo(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		f := newFixture(t, nil)
		res := f.svc.Undo(context.Background())
		assert.False(t, res.OK)
		assert.Equal(t, "no commit history available", res.Reason)
		assert.Equal(t, domain.FailureNoHistory, res.Kind)
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t, map[string]string{"COM5": "ok"})
		ctx := context.Background()
		require.True(t, f.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "seed1", Role: "CLIENT"}).OK)
		require.True(t, f.svc.Commit(ctx, CommitRequest{Candidates: []string{"COM5"}, AutoCommit: true}).Committed)

		first := f.svc.Undo(ctx)
		require.True(t, first.OK)
		afterFirst, err := f.svc.ListDevices(ctx)
		require.NoError(t, err)

		second := f.svc.Undo(ctx)
		require.True(t, second.OK)
		afterSecond, err := f.svc.ListDevices(ctx)
		require.NoError(t, err)

		assert.Equal(t, first.SnapshotID, second.SnapshotID)
		assert.Equal(t, afterFirst, afterSecond)
	})
}

func TestAddRemoveDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "COM5", DisplayName: "Desk radio"})
	require.True(t, res.OK)
	d, err := f.svc.GetDevice(ctx, "COM5")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionSerial, d.ConnectionKind)
	assert.Equal(t, domain.RoleUnassigned, d.Role)
	assert.Equal(t, "Desk radio", d.DisplayName)

	dup := f.svc.AddDevice(ctx, AddDeviceRequest{NodeID: "COM5"})
	assert.False(t, dup.OK)
	assert.Contains(t, dup.Reason, "already exists")

	assert.False(t, f.svc.AddDevice(ctx, AddDeviceRequest{}).OK)

	assert.True(t, f.svc.RemoveDevice(ctx, "COM5").OK)
	missing := f.svc.RemoveDevice(ctx, "COM5")
	assert.False(t, missing.OK)
	assert.Contains(t, missing.Reason, "not found")

	audit, err := f.svc.Audit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 2)

	var types []EventType
	for len(f.events) > 0 {
		types = append(types, (<-f.events).Type)
	}
	assert.Equal(t, []EventType{EventDeviceAdded, EventDeviceRemoved}, types)
}

func TestValidateToolMissing(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.missing = true

	res := f.svc.Validate(context.Background(), "COM5", "")
	assert.False(t, res.OK)
	assert.Equal(t, domain.FailureToolUnavailable, res.Kind)

	assert.Equal(t, "missing device", f.svc.Validate(context.Background(), "", "").Reason)
}

func TestDiscover(t *testing.T) {
	f := newFixture(t, map[string]string{"": radioInfo},
		WithScanner(staticScanner{ids: []string{"COM5", "a1-b2-c3-d4-e5-f6", "11:22:33:44:55:66"}}))

	report := f.svc.Discover(context.Background())
	assert.Len(t, report.Candidates, 3)
	require.NotNil(t, report.Probe)
	require.Len(t, report.Nodes, 1)
	assert.Equal(t, "Base", report.Nodes[0].LongName)
	assert.Equal(t, []domain.RadioMatch{{
		Candidate: "a1-b2-c3-d4-e5-f6", NodeID: "!a1b2", LongName: "Base",
	}}, report.Matches)
}

func TestDiscoverScannerFailure(t *testing.T) {
	f := newFixture(t, map[string]string{"": "not json"},
		WithScanner(staticScanner{err: errors.New("bluetooth off")}))

	report := f.svc.Discover(context.Background())
	assert.Empty(t, report.Candidates)
	require.Len(t, report.Warnings, 1)
	assert.True(t, strings.Contains(report.Warnings[0].Message, "bluetooth off"))
	assert.Equal(t, domain.ProbeInfoRaw, report.Probe.Kind)
	assert.Empty(t, report.Nodes)
}
