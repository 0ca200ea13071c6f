package core

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/orrn/printapp/internal/attrs"
)

func TestJob_NilIsSafe(t *testing.T) {
	var j *Job

	j.SetReasons(ReasonErrorsDetected, ReasonNone)
	j.SetMessage("hello %s", "world")
	j.AddCopiesCompleted(1)
	j.AddImpressionsCompleted(1)
	j.SetImpressions(3)
	j.SetData("x")
	j.SetAttribute(attrs.TagJob, "job-name", "x")
	j.AddDocument("a.pdf", "application/pdf", nil)

	if j.ID() != 0 || j.Name() != "" || j.Username() != "" || j.Format() != "" {
		t.Error("expected zero identity values from nil job")
	}
	if j.State() != StateAborted {
		t.Errorf("expected aborted, got %s", j.State())
	}
	if j.Reasons() != ReasonNone {
		t.Errorf("expected no reasons, got %s", j.Reasons())
	}
	if j.Copies() != 0 || j.CopiesCompleted() != 0 || j.Impressions() != 0 || j.ImpressionsCompleted() != 0 {
		t.Error("expected zero counters from nil job")
	}
	if !j.TimeCreated().IsZero() || !j.TimeProcessed().IsZero() || !j.TimeCompleted().IsZero() {
		t.Error("expected zero timestamps from nil job")
	}
	if j.Message() != "" || j.Data() != nil || j.Attribute("job-name") != nil {
		t.Error("expected empty message, data and attributes from nil job")
	}
	if j.IsCanceled() {
		t.Error("nil job should not report canceled")
	}
	if j.NumberOfDocuments() != 0 || j.Documents() != nil {
		t.Error("expected no documents from nil job")
	}
	if _, _, err := j.CreateFile(t.TempDir(), ""); err == nil {
		t.Error("expected error creating a file for a nil job")
	}
}

func TestJob_SetReasonsEmptyIsNoop(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	before := j.Reasons()
	j.SetReasons(ReasonNone, ReasonNone)
	if got := j.Reasons(); got != before {
		t.Errorf("expected %s, got %s", before, got)
	}
}

func TestJob_SetReasonsRemoveThenAdd(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	j.SetReasons(ReasonErrorsDetected, ReasonJobIncoming)
	r := j.Reasons()
	if r.Has(ReasonJobIncoming) {
		t.Error("expected job-incoming to be removed")
	}
	if !r.Has(ReasonErrorsDetected) {
		t.Error("expected errors-detected to be set")
	}

	// A bit in both sets ends up set.
	j.SetReasons(ReasonWarningsDetected, ReasonWarningsDetected)
	if !j.Reasons().Has(ReasonWarningsDetected) {
		t.Error("expected warnings-detected to be set")
	}
}

func TestJob_ConcurrentCopiesCompleted(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")
	j.AddCopiesCompleted(2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.AddCopiesCompleted(1)
		}()
	}
	wg.Wait()

	if got := j.CopiesCompleted(); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
}

func TestJob_ConcurrentImpressionsCompleted(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.AddImpressionsCompleted(1)
			_ = j.Snapshot()
		}()
	}
	wg.Wait()

	if got := j.ImpressionsCompleted(); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestJob_SetMessageTruncatesOnRuneBoundary(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	j.SetMessage("%s", strings.Repeat("é", 600))
	msg := j.Message()
	if len(msg) > maxMessage {
		t.Errorf("expected at most %d bytes, got %d", maxMessage, len(msg))
	}
	if !utf8.ValidString(msg) {
		t.Error("expected valid UTF-8 after truncation")
	}

	for _, tail := range []string{"é", "€", "😀"} {
		j.SetMessage("%s%s", strings.Repeat("x", maxMessage-1), tail)
		if got := j.Message(); got != strings.Repeat("x", maxMessage-1) {
			t.Errorf("expected split %q to be dropped, got %d bytes", tail, len(got))
		}
	}

	j.SetMessage("%s", strings.Repeat("x", maxMessage))
	if got := j.Message(); len(got) != maxMessage {
		t.Errorf("expected exactly %d bytes, got %d", maxMessage, len(got))
	}

	j.SetMessage("%s", "device said: \xff"+strings.Repeat("x", 2000))
	if got := j.Message(); len(got) != maxMessage || !strings.HasPrefix(got, "device said: \xff") {
		t.Errorf("expected an early invalid byte to leave the message intact, got %d bytes", len(got))
	}

	j.SetMessage("Printing page %d of %d", 2, 5)
	if got := j.Message(); got != "Printing page 2 of 5" {
		t.Errorf("expected replaced message, got %q", got)
	}
}

func TestJob_AbortedWithErrorsDetected(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")
	j.SetReasons(ReasonErrorsDetected, ReasonNone)

	j.mu.Lock()
	j.setStateLocked(StateAborted)
	j.mu.Unlock()

	r := j.Reasons()
	if !r.Has(ReasonAbortedBySystem) {
		t.Error("expected aborted-by-system")
	}
	if !r.Has(ReasonJobCompletedWithErrors) {
		t.Error("expected job-completed-with-errors")
	}
	if r.Has(ReasonJobCanceledByUser) {
		t.Error("did not expect job-canceled-by-user")
	}
}

func TestJob_CompletedTimeMatchesTerminalState(t *testing.T) {
	paths := [][]State{
		{StatePending, StateProcessing, StateCompleted},
		{StatePending, StateProcessing, StateStopped, StatePending, StateProcessing, StateAborted},
		{StatePending, StateStopped, StateCanceled},
		{StateCanceled},
		{StatePending, StateAborted},
	}

	for _, path := range paths {
		s := newTestSystem(t)
		j := mustCreateJob(t, newTestPrinter(t, s), "report")

		for _, state := range path {
			j.mu.Lock()
			if !j.setStateLocked(state) {
				t.Errorf("transition %s -> %s rejected", j.state, state)
			}
			j.mu.Unlock()

			terminal := j.State().Terminal()
			if terminal == j.TimeCompleted().IsZero() {
				t.Errorf("state %s with completed time %v", j.State(), j.TimeCompleted())
			}
		}
	}
}

func TestJob_TerminalStateIsFinal(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	j.mu.Lock()
	j.setStateLocked(StateCanceled)
	completed := j.completed
	ok := j.setStateLocked(StatePending)
	j.mu.Unlock()

	if ok {
		t.Error("expected transition out of canceled to be rejected")
	}
	if j.State() != StateCanceled || !j.TimeCompleted().Equal(completed) {
		t.Error("terminal job changed after rejected transition")
	}
}

func TestJob_ProcessingSetsPrinting(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")
	markPending(j)

	j.mu.Lock()
	j.setStateLocked(StateProcessing)
	j.mu.Unlock()

	if !j.Reasons().Has(ReasonJobPrinting) {
		t.Error("expected job-printing while processing")
	}
	if j.TimeProcessed().IsZero() {
		t.Error("expected processing time to be set")
	}

	j.mu.Lock()
	j.setStateLocked(StateCompleted)
	j.mu.Unlock()

	if j.Reasons().Has(ReasonJobPrinting) {
		t.Error("expected job-printing to be cleared when completed")
	}
}

func TestJob_DocumentsAreCopies(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")

	docAttrs := attrs.New()
	docAttrs.Set(attrs.TagDocument, "document-name", "page1")
	j.AddDocument("/tmp/a.pdf", "application/pdf", docAttrs)

	docs := j.Documents()
	docs[0].Filename = "changed"
	docs[0].Attrs.Set(attrs.TagDocument, "document-name", "changed")

	again := j.Documents()
	if again[0].Filename != "/tmp/a.pdf" {
		t.Errorf("expected stored filename, got %s", again[0].Filename)
	}
	if got := again[0].Attrs.GetString("document-name"); got != "page1" {
		t.Errorf("expected stored document-name page1, got %s", got)
	}
}

func TestJob_IsCanceledFromState(t *testing.T) {
	s := newTestSystem(t)
	j := mustCreateJob(t, newTestPrinter(t, s), "report")
	if j.IsCanceled() {
		t.Fatal("new job should not be canceled")
	}

	j.mu.Lock()
	j.setStateLocked(StateAborted)
	j.mu.Unlock()

	if !j.IsCanceled() {
		t.Error("aborted job should report canceled")
	}
}
