package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckJobs_StartsOldestPendingInOrder(t *testing.T) {
	proc := newGatedProcessor()
	s := newTestSystem(t, WithProcessor(proc))
	p := newTestPrinter(t, s)

	jobs := []*Job{mustCreateJob(t, p, "one"), mustCreateJob(t, p, "two"), mustCreateJob(t, p, "three")}
	for i, j := range jobs {
		if j.ID() != i+1 {
			t.Fatalf("expected id %d, got %d", i+1, j.ID())
		}
		markPending(j)
	}

	p.CheckJobs()

	if jobs[0].State() != StateProcessing {
		t.Fatalf("expected job 1 processing, got %s", jobs[0].State())
	}
	for _, j := range jobs[1:] {
		if j.State() != StatePending {
			t.Errorf("expected job %d pending, got %s", j.ID(), j.State())
		}
	}
	if p.ProcessingJob() != jobs[0] {
		t.Error("expected job 1 to be the processing job")
	}

	if got := proc.nextStarted(t); got != jobs[0] {
		t.Fatalf("expected job 1 to start, got %d", got.ID())
	}
	proc.release <- nil

	if got := proc.nextStarted(t); got != jobs[1] {
		t.Fatalf("expected job 2 to start next, got %d", got.ID())
	}
	if jobs[0].State() != StateCompleted {
		t.Errorf("expected job 1 completed, got %s", jobs[0].State())
	}
	if jobs[2].State() != StatePending {
		t.Errorf("expected job 3 still pending, got %s", jobs[2].State())
	}
	checkMembership(t, p)

	proc.release <- nil
	if got := proc.nextStarted(t); got != jobs[2] {
		t.Fatalf("expected job 3 to start last, got %d", got.ID())
	}
	proc.release <- errors.New("paper jam")

	waitFor(t, 2*time.Second, func() bool { return jobs[2].State().Terminal() })
	if jobs[2].State() != StateAborted {
		t.Errorf("expected job 3 aborted, got %s", jobs[2].State())
	}
	if jobs[2].Message() != "paper jam" {
		t.Errorf("expected processor error as message, got %q", jobs[2].Message())
	}
	waitFor(t, 2*time.Second, func() bool { return p.ProcessingJob() == nil })
	checkMembership(t, p)
}

func TestCheckJobs_NoPendingIsNoop(t *testing.T) {
	proc := newGatedProcessor()
	s := newTestSystem(t, WithProcessor(proc))
	p := newTestPrinter(t, s)
	j := mustCreateJob(t, p, "held")

	p.CheckJobs()
	p.CheckJobs()

	if j.State() != StateHeld {
		t.Errorf("expected held job untouched, got %s", j.State())
	}
	if p.ProcessingJob() != nil {
		t.Error("expected no processing job")
	}
	select {
	case <-proc.started:
		t.Error("no job should have started")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCheckJobs_AtMostOneWorker(t *testing.T) {
	var running, maxRunning, done int32
	proc := ProcessorFunc(func(ctx context.Context, j *Job) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return nil
	})

	s := newTestSystem(t, WithProcessor(proc))
	p := newTestPrinter(t, s)

	const total = 8
	for i := 0; i < total; i++ {
		markPending(mustCreateJob(t, p, "job"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 10; k++ {
				p.CheckJobs()
			}
		}()
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return atomic.LoadInt32(&done) == total })
	if m := atomic.LoadInt32(&maxRunning); m != 1 {
		t.Errorf("expected at most 1 concurrent worker, saw %d", m)
	}
	waitFor(t, 2*time.Second, func() bool { return len(p.Jobs(WhichCompleted)) == total })
	checkMembership(t, p)
}

func TestCheckJobs_LaunchFailureAbortsJob(t *testing.T) {
	n := &recordingNotifier{}
	s := newTestSystem(t, WithLauncher(failLauncher{}), WithNotifier(n))
	p := newTestPrinter(t, s)
	j := mustCreateJob(t, p, "report")
	j.SetReasons(ReasonErrorsDetected, ReasonNone)

	if err := p.ReleaseJob(j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.State() != StateAborted {
		t.Fatalf("expected aborted, got %s", j.State())
	}
	if j.TimeCompleted().IsZero() {
		t.Error("expected completion time")
	}
	if j.Message() != "Unable to start job processing" {
		t.Errorf("unexpected message %q", j.Message())
	}
	r := j.Reasons()
	if !r.Has(ReasonAbortedBySystem) || !r.Has(ReasonJobCompletedWithErrors) {
		t.Errorf("unexpected reasons %s", r)
	}
	if p.ProcessingJob() != nil {
		t.Error("expected processing slot to be cleared")
	}
	if completed := p.Jobs(WhichCompleted); len(completed) != 1 || completed[0] != j {
		t.Error("expected job in completed list")
	}
	if s.CleanTime().IsZero() {
		t.Error("expected cleanup to be scheduled")
	}
	checkMembership(t, p)

	types := n.types()
	if types[len(types)-1] != EventJobAborted {
		t.Errorf("expected last event %s, got %v", EventJobAborted, types)
	}
}

func TestCheckJobs_WorkerLimitExhausted(t *testing.T) {
	proc := newGatedProcessor()
	s := newTestSystem(t, WithProcessor(proc), WithWorkerLimit(1))

	a := newTestPrinter(t, s)
	b, err := s.CreatePrinter("lab", "file:///dev/null")
	if err != nil {
		t.Fatal(err)
	}

	ja := mustCreateJob(t, a, "first")
	if err := a.ReleaseJob(ja); err != nil {
		t.Fatal(err)
	}
	proc.nextStarted(t)

	jb := mustCreateJob(t, b, "second")
	if err := b.ReleaseJob(jb); err != nil {
		t.Fatal(err)
	}
	if jb.State() != StateAborted {
		t.Errorf("expected second job aborted without a free worker, got %s", jb.State())
	}

	proc.release <- nil
	waitFor(t, 2*time.Second, func() bool { return ja.State() == StateCompleted })
}

func TestCancelJob_Processing(t *testing.T) {
	proc := newGatedProcessor()
	s := newTestSystem(t, WithProcessor(proc))
	p := newTestPrinter(t, s)
	j := mustCreateJob(t, p, "report")
	if err := p.ReleaseJob(j); err != nil {
		t.Fatal(err)
	}
	proc.nextStarted(t)

	if err := p.CancelJob(j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !j.IsCanceled() {
		t.Error("expected cancel flag to be visible immediately")
	}
	if j.State() != StateProcessing {
		t.Errorf("expected job still processing until the worker stops, got %s", j.State())
	}

	waitFor(t, 2*time.Second, func() bool { return j.State() == StateCanceled })
	if !j.Reasons().Has(ReasonJobCanceledByUser) {
		t.Error("expected job-canceled-by-user")
	}
	if j.Reasons().Has(ReasonProcessingToStopPoint) {
		t.Error("expected processing-to-stop-point to be cleared")
	}
	waitFor(t, 2*time.Second, func() bool { return p.ProcessingJob() == nil })
	checkMembership(t, p)
}

func TestWorker_ProcessorPanicAbortsJob(t *testing.T) {
	proc := ProcessorFunc(func(ctx context.Context, j *Job) error {
		panic("driver crashed")
	})
	s := newTestSystem(t, WithProcessor(proc))
	p := newTestPrinter(t, s)
	j := mustCreateJob(t, p, "report")
	if err := p.ReleaseJob(j); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 2*time.Second, func() bool { return j.State() == StateAborted })
	waitFor(t, 2*time.Second, func() bool { return p.ProcessingJob() == nil })
}

func TestWorker_NoProcessorAbortsJob(t *testing.T) {
	s := newTestSystem(t)
	p := newTestPrinter(t, s)
	j := mustCreateJob(t, p, "report")
	if err := p.ReleaseJob(j); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, func() bool { return j.State() == StateAborted })
}

func TestShutdown_StopsDispatch(t *testing.T) {
	proc := newGatedProcessor()
	s := NewSystem(WithLogger(quietLogger()), WithProcessor(proc), WithCancelPollInterval(5*time.Millisecond))
	p := newTestPrinter(t, s)

	first := mustCreateJob(t, p, "first")
	second := mustCreateJob(t, p, "second")
	markPending(second)
	if err := p.ReleaseJob(first); err != nil {
		t.Fatal(err)
	}
	proc.nextStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}

	if first.State() != StateAborted {
		t.Errorf("expected interrupted job aborted, got %s", first.State())
	}
	if second.State() != StatePending {
		t.Errorf("expected queued job left pending, got %s", second.State())
	}
}

func TestShutdown_RefusesWorkerReservations(t *testing.T) {
	s := newTestSystem(t, WithProcessor(newGatedProcessor()))
	p := newTestPrinter(t, s)

	if !s.reserveWorker() {
		t.Fatal("expected a worker slot before shutdown")
	}
	s.workers.Done()

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if s.reserveWorker() {
		s.workers.Done()
		t.Fatal("expected no worker slot after shutdown")
	}

	j := mustCreateJob(t, p, "late")
	if err := p.ReleaseJob(j); err != nil {
		t.Fatal(err)
	}
	if j.State() != StatePending {
		t.Errorf("expected job released after shutdown to stay pending, got %s", j.State())
	}
	if p.ProcessingJob() != nil {
		t.Error("expected no job to be processing")
	}
}
