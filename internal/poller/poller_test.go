package poller

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/storage/sqlite"
)

type fakeSource struct {
	mu         sync.Mutex
	incidents  []domain.Incident
	fetchErr   error
	applyErr   error
	inProgress []string
	applied    []domain.Disposition
}

func (f *fakeSource) FetchNewIncidents(ctx context.Context, limit int, lookback time.Duration) ([]domain.Incident, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.incidents) > limit {
		return f.incidents[:limit], nil
	}
	return f.incidents, nil
}

func (f *fakeSource) MarkInProgress(ctx context.Context, sysID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inProgress = append(f.inProgress, sysID)
	return nil
}

func (f *fakeSource) ApplyDisposition(ctx context.Context, disp domain.Disposition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, disp)
	return f.applyErr
}

type fakePipeline struct {
	running  atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	failFor  map[string]error
	decision domain.Decision
}

func (f *fakePipeline) Process(ctx context.Context, inc domain.Incident) (domain.Disposition, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.failFor[inc.ID]; err != nil {
		return domain.Disposition{}, err
	}
	return domain.Disposition{IncidentID: inc.ID, RunID: "run-" + inc.ID, Decision: f.decision, Score: 0.5}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, inc domain.Incident, disp domain.Disposition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, inc.ID)
	return f.err
}

func newLedger(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"), "rca/")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func incidents(ids ...string) []domain.Incident {
	var out []domain.Incident
	for _, id := range ids {
		out = append(out, domain.Incident{ID: id, Number: "INC-" + id, ShortDescription: "EMR step failed"})
	}
	return out
}

func newTestPoller(t *testing.T, src Source, ledger Ledger, pipe Processor, notifier Notifier, maxConcurrent int) *Poller {
	t.Helper()
	p, err := New(Options{Schedule: "*/5 * * * *", Limit: 10, Lookback: 10 * time.Minute, MaxConcurrent: maxConcurrent},
		src, ledger, pipe, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestTickProcessesAndSkipsHandledIncidents(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	if err := ledger.MarkProcessed(ctx, sqlite.ProcessedIncident{IncidentID: "b", Decision: "auto_close"}); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	src := &fakeSource{incidents: incidents("a", "b", "c")}
	notifier := &fakeNotifier{}
	p := newTestPoller(t, src, ledger, &fakePipeline{decision: domain.DecisionEscalate}, notifier, 2)

	sum := p.Tick(ctx)
	if sum.Fetched != 3 || sum.Skipped != 1 || sum.Processed != 2 || sum.Failed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Decisions[domain.DecisionEscalate] != 2 {
		t.Fatalf("unexpected decisions %v", sum.Decisions)
	}

	sort.Strings(src.inProgress)
	sort.Strings(notifier.notified)
	if diff := cmp.Diff([]string{"a", "c"}, src.inProgress); diff != "" {
		t.Fatalf("in-progress mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "c"}, notifier.notified); diff != "" {
		t.Fatalf("notified mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []string{"a", "c"} {
		done, err := ledger.IsProcessed(ctx, id)
		if err != nil || !done {
			t.Fatalf("expected %s in ledger, got %v err=%v", id, done, err)
		}
	}

	// A second tick finds nothing new.
	sum = p.Tick(ctx)
	if sum.Skipped != 3 || sum.Processed != 0 {
		t.Fatalf("unexpected second summary %+v", sum)
	}
}

func TestTickIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	src := &fakeSource{incidents: incidents("a", "b", "c"), applyErr: errors.New("ServiceNow API returned 500")}
	notifier := &fakeNotifier{err: errors.New("channel_not_found")}
	pipe := &fakePipeline{
		decision: domain.DecisionHumanReview,
		failFor:  map[string]error{"b": context.Canceled},
	}
	p := newTestPoller(t, src, ledger, pipe, notifier, 3)

	sum := p.Tick(ctx)
	if sum.Processed != 2 || sum.Failed != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(src.applied) != 2 {
		t.Fatalf("expected ticket updates for both finished runs, got %d", len(src.applied))
	}
	done, _ := ledger.IsProcessed(ctx, "b")
	if done {
		t.Fatalf("failed run must not be recorded in the ledger")
	}
	done, _ = ledger.IsProcessed(ctx, "a")
	if !done {
		t.Fatalf("reporting failures must not keep a finished run out of the ledger")
	}
}

func TestTickBoundsConcurrency(t *testing.T) {
	ledger := newLedger(t)
	src := &fakeSource{incidents: incidents("a", "b", "c", "d", "e", "f")}
	pipe := &fakePipeline{decision: domain.DecisionAutoClose, delay: 20 * time.Millisecond}
	p := newTestPoller(t, src, ledger, pipe, nil, 2)

	sum := p.Tick(context.Background())
	if sum.Processed != 6 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if peak := pipe.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent runs, saw %d", peak)
	}
}

func TestTickFetchError(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("ServiceNow API returned 401")}
	p := newTestPoller(t, src, newLedger(t), &fakePipeline{}, nil, 1)
	sum := p.Tick(context.Background())
	if sum.Fetched != 0 || sum.Processed != 0 || len(src.inProgress) != 0 {
		t.Fatalf("unexpected summary after fetch error %+v", sum)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newTestPoller(t, &fakeSource{}, newLedger(t), &fakePipeline{}, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule failed: %v", err)
	}
	from := time.Date(2026, 1, 15, 7, 1, 0, 0, time.UTC)
	if next := sched.Next(from); !next.Equal(time.Date(2026, 1, 15, 7, 5, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %v", next)
	}
	if _, err := ParseSchedule("every five minutes"); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
	if _, err := New(Options{Schedule: "bad"}, &fakeSource{}, newLedger(t), &fakePipeline{}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected New to reject an invalid schedule")
	}
}
