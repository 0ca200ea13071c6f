package core

// CheckJobs starts the oldest pending job if the printer is idle. It is safe
// to call at any time and from any goroutine; at most one job is started per
// call and the call never waits for the job to run.
func (p *Printer) CheckJobs() {
	p.mu.Lock()

	switch {
	case p.processingJob != nil:
		id := p.processingJob.id
		p.mu.Unlock()
		p.log.Debug("already processing a job", "job_id", id)
		return
	case p.isDeleted:
		p.mu.Unlock()
		p.log.Debug("printer is being deleted")
		return
	case p.isStopped:
		p.mu.Unlock()
		p.log.Debug("printer is stopped")
		return
	case p.system.isShuttingDown():
		p.mu.Unlock()
		return
	}

	var next *Job
	for _, j := range p.active {
		if j.State() == StatePending {
			next = j
			break
		}
	}
	if next == nil {
		p.mu.Unlock()
		p.log.Debug("no jobs to process at this time")
		return
	}
	if !p.system.reserveWorker() {
		p.mu.Unlock()
		return
	}

	next.mu.Lock()
	next.setStateLocked(StateProcessing)
	started := next.snapshotLocked()
	next.mu.Unlock()
	p.processingJob = next

	if p.system.launch(p, next) {
		p.mu.Unlock()
		p.log.Info("starting job", "job_id", next.id)
		p.system.notify(jobEvent(EventJobStarted, started))
		return
	}

	next.mu.Lock()
	next.setStateLocked(StateAborted)
	next.message = "Unable to start job processing"
	aborted := next.snapshotLocked()
	next.mu.Unlock()

	p.completeLocked(next)
	p.processingJob = nil
	p.system.armCleanup()
	p.mu.Unlock()

	p.log.Error("unable to start job processing", "job_id", next.id)
	p.system.notify(jobEvent(EventJobAborted, aborted))
}
