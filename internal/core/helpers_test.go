package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/orrn/printapp/internal/attrs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// gatedProcessor reports each job it starts and waits for the test to
// release it.
type gatedProcessor struct {
	started chan *Job
	release chan error
}

func newGatedProcessor() *gatedProcessor {
	return &gatedProcessor{started: make(chan *Job, 16), release: make(chan error)}
}

func (g *gatedProcessor) Process(ctx context.Context, j *Job) error {
	g.started <- j
	select {
	case err := <-g.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedProcessor) nextStarted(t *testing.T) *Job {
	t.Helper()
	select {
	case j := <-g.started:
		return j
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a job to start")
		return nil
	}
}

type failLauncher struct{}

func (failLauncher) TryGo(func() error) bool { return false }

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type recordingHistory struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingHistory) RecordJob(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
	return nil
}

func (r *recordingHistory) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithCancelPollInterval(5 * time.Millisecond)}
	s := NewSystem(append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func newTestPrinter(t *testing.T, s *System) *Printer {
	t.Helper()
	p, err := s.CreatePrinter("office", "socket://127.0.0.1:9100")
	if err != nil {
		t.Fatalf("failed to create printer: %v", err)
	}
	return p
}

func submission(name string) *Submission {
	a := attrs.New()
	a.Set(attrs.TagOperation, "job-name", name)
	a.Set(attrs.TagJob, "document-format-supplied", "application/pdf")
	return &Submission{Attrs: a}
}

func mustCreateJob(t *testing.T, p *Printer, name string) *Job {
	t.Helper()
	j, err := p.CreateJob(submission(name))
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return j
}

// markPending moves a held job to pending without dispatching it.
func markPending(j *Job) {
	j.mu.Lock()
	j.setStateLocked(StatePending)
	j.mu.Unlock()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// checkMembership fails unless every job of p is in exactly one of active
// and completed.
func checkMembership(t *testing.T, p *Printer) {
	t.Helper()
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[*Job]int)
	for _, j := range p.active {
		seen[j]++
	}
	for _, j := range p.completed {
		seen[j]++
	}
	for _, j := range p.all {
		if seen[j] != 1 {
			t.Errorf("job %d is in %d of active/completed", j.id, seen[j])
		}
	}
	if len(seen) != len(p.all) {
		t.Errorf("expected %d jobs in active+completed, got %d", len(p.all), len(seen))
	}
}
