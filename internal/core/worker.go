package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errNoProcessor = errors.New("core: no processor configured")

// reserveWorker counts a worker about to be launched. It fails once
// Shutdown has begun, so no Add can follow the final Wait.
func (s *System) reserveWorker() bool {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.workers.Add(1)
	return true
}

// launch hands j to a new worker goroutine, using a slot taken with
// reserveWorker. Must be called with p.mu held; the worker blocks on p.mu
// when it finishes, so it cannot race the caller.
func (s *System) launch(p *Printer, j *Job) bool {
	ok := s.launcher.TryGo(func() error {
		defer s.workers.Done()
		s.runJob(p, j)
		return nil
	})
	if !ok {
		s.workers.Done()
	}
	return ok
}

// runJob processes one job to a terminal state, then asks the printer for
// the next one.
func (s *System) runJob(p *Printer, j *Job) {
	log := p.log.With("job_id", j.id)
	log.Debug("processing job")

	ctx, cancel := context.WithCancel(s.ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.watchCancel(ctx, j, cancel)
	}()

	err := s.process(ctx, j)
	cancel()
	<-watchDone

	state := p.finishJob(j, err)
	switch state {
	case StateCompleted:
		log.Info("job completed")
	case StateCanceled:
		log.Info("job canceled")
	default:
		log.Warn("job aborted", "error", err)
	}

	p.CheckJobs()
}

func (s *System) process(ctx context.Context, j *Job) (err error) {
	if s.processor == nil {
		return errNoProcessor
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return s.processor.Process(ctx, j)
}

// watchCancel cancels the job context once the job's cancel flag is seen.
func (s *System) watchCancel(ctx context.Context, j *Job, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if j.IsCanceled() {
				cancel()
				return
			}
		}
	}
}

// finishJob moves a processed job to its terminal state and out of the
// active list, and frees the printer for the next job.
func (p *Printer) finishJob(j *Job, err error) State {
	p.mu.Lock()
	j.mu.Lock()
	switch {
	case j.isCanceled:
		j.setStateLocked(StateCanceled)
	case err != nil:
		j.setStateLocked(StateAborted)
		if j.message == "" {
			j.message = truncateMessage(err.Error())
		}
	default:
		j.setStateLocked(StateCompleted)
	}
	snap := j.snapshotLocked()
	state := j.state
	j.mu.Unlock()

	p.completeLocked(j)
	if p.processingJob == j {
		p.processingJob = nil
	}
	p.system.armCleanup()
	p.mu.Unlock()

	p.system.notify(jobEvent(terminalEvent(state), snap))
	return state
}
