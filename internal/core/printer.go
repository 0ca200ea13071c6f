package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printapp/internal/attrs"
)

// Printer is a logical print queue. It owns its job registry and allows at
// most one job to be processed at a time.
type Printer struct {
	mu sync.RWMutex

	system    *System
	name      string
	deviceURI string
	resource  string
	startTime time.Time
	log       *slog.Logger

	nextJobID     int
	all           []*Job
	active        []*Job
	completed     []*Job
	processingJob *Job
	isDeleted     bool
	isStopped     bool
}

// Which selects a job listing.
type Which int

const (
	WhichAll Which = iota
	WhichActive
	WhichCompleted
)

// ParseWhich accepts the IPP "which-jobs" keywords plus "active" and "all".
func ParseWhich(s string) (Which, bool) {
	switch s {
	case "", "not-completed", "active":
		return WhichActive, true
	case "completed":
		return WhichCompleted, true
	case "all":
		return WhichAll, true
	default:
		return WhichAll, false
	}
}

// PrinterInfo is a point-in-time view of a printer.
type PrinterInfo struct {
	Name          string    `json:"name"`
	DeviceURI     string    `json:"device_uri"`
	Resource      string    `json:"resource"`
	Stopped       bool      `json:"stopped"`
	Deleted       bool      `json:"deleted"`
	ProcessingJob int       `json:"processing_job,omitempty"`
	NextJobID     int       `json:"next_job_id"`
	ActiveJobs    int       `json:"active_jobs"`
	CompletedJobs int       `json:"completed_jobs"`
	StartTime     time.Time `json:"start_time"`
}

func (p *Printer) Name() string      { return p.name }
func (p *Printer) DeviceURI() string { return p.deviceURI }

func (p *Printer) Info() PrinterInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info := PrinterInfo{
		Name:          p.name,
		DeviceURI:     p.deviceURI,
		Resource:      p.resource,
		Stopped:       p.isStopped,
		Deleted:       p.isDeleted,
		NextJobID:     p.nextJobID,
		ActiveJobs:    len(p.active),
		CompletedJobs: len(p.completed),
		StartTime:     p.startTime,
	}
	if p.processingJob != nil {
		info.ProcessingJob = p.processingJob.id
	}
	return info
}

func (p *Printer) IsStopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isStopped
}

func (p *Printer) IsDeleted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isDeleted
}

// ProcessingJob returns the job currently owned by a worker, or nil.
func (p *Printer) ProcessingJob() *Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.processingJob
}

// CreateJob builds a held job from a submission and registers it. The id is
// assigned and the job inserted into the registry under one lock.
func (p *Printer) CreateJob(sub *Submission) (*Job, error) {
	if p == nil || sub == nil {
		return nil, ErrInvalidSubmission
	}

	j := &Job{
		printer: p,
		system:  p.system,
		attrs:   attrs.New(),
		state:   StateHeld,
		reasons: ReasonJobIncoming,
		copies:  1,
	}
	j.attrs.CopyFrom(sub.Attrs, attrs.TagJob, sub.Requested)

	j.username = sub.Username
	if j.username == "" {
		j.username = sub.Attrs.GetString("requesting-user-name")
	}
	if j.username == "" {
		j.username = defaultUsername
	}
	j.attrs.Set(attrs.TagJob, "job-originating-user-name", j.username)

	if !sub.CreateOnly {
		switch {
		case j.attrs.GetString("document-format-detected") != "":
			j.format = j.attrs.GetString("document-format-detected")
		case j.attrs.GetString("document-format-supplied") != "":
			j.format = j.attrs.GetString("document-format-supplied")
		default:
			j.format = defaultFormat
		}
	}

	if a := sub.Attrs.Get("job-impressions"); a != nil {
		j.impressions = a.Int(0)
	}
	if a := sub.Attrs.Get("copies"); a != nil && a.Int(0) > 0 {
		j.copies = a.Int(0)
	}
	j.name = sub.Attrs.GetString("job-name")

	p.mu.Lock()
	if p.isDeleted {
		p.mu.Unlock()
		return nil, ErrPrinterDeleted
	}

	j.id = p.nextJobID
	p.nextJobID++
	j.created = p.system.now()

	printerURI := sub.PrinterURI
	if printerURI == "" {
		printerURI = p.system.printerURI(p.resource)
	}
	jobURI := fmt.Sprintf("%s/%d", printerURI, j.id)

	j.attrs.Set(attrs.TagJob, "date-time-at-creation", j.created)
	j.attrs.Set(attrs.TagJob, "job-id", j.id)
	j.attrs.Set(attrs.TagJob, "job-uri", jobURI)
	j.attrs.Set(attrs.TagJob, "job-uuid", p.system.jobUUID(p.name, j.id))
	j.attrs.Set(attrs.TagJob, "job-printer-uri", printerURI)
	j.attrs.Set(attrs.TagJob, "time-at-creation", int(j.created.Sub(p.startTime)/time.Second))

	p.insertLocked(j)
	snap := j.snapshotLocked()
	p.mu.Unlock()

	p.log.Debug("job created", "job_id", j.id, "username", j.username, "format", j.format)
	p.system.notify(jobEvent(EventJobCreated, snap))
	return j, nil
}

// jobUUID derives a stable name-based UUID URN for a job.
func (s *System) jobUUID(printer string, id int) string {
	name := fmt.Sprintf("%s/%s/%d", s.printerURI(""), printer, id)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).URN()
}

// FindJob looks a job up by id in the printer's full job list.
func (p *Printer) FindJob(id int) *Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.findLocked(id)
}

// Jobs returns the selected jobs. Active and completed jobs are in
// submission and completion order; all jobs are in id order.
func (p *Printer) Jobs(which Which) []*Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch which {
	case WhichActive:
		return cloneJobs(p.active)
	case WhichCompleted:
		return cloneJobs(p.completed)
	default:
		return cloneJobs(p.all)
	}
}

// ReleaseJob marks a held job whose documents have all arrived as ready to
// print, then tries to start it.
func (p *Printer) ReleaseJob(j *Job) error {
	if j == nil || j.printer != p {
		return ErrInvalidJob
	}

	p.mu.Lock()
	j.mu.Lock()
	if j.state != StateHeld {
		state := j.state
		j.mu.Unlock()
		p.mu.Unlock()
		return fmt.Errorf("release job %d in state %s: %w", j.id, state, ErrJobNotHeld)
	}
	j.setStateLocked(StatePending)
	j.reasons = (j.reasons &^ ReasonJobIncoming) | ReasonJobQueued
	if p.isStopped {
		j.setStateLocked(StateStopped)
		j.reasons |= ReasonPrinterStopped
	}
	snap := j.snapshotLocked()
	j.mu.Unlock()
	p.mu.Unlock()

	p.system.notify(jobEvent(EventJobReleased, snap))
	p.CheckJobs()
	return nil
}

// CancelJob cancels a job. A job that is being processed only gets its
// cancel flag set; its worker finishes it once the processor returns.
func (p *Printer) CancelJob(j *Job) error {
	if j == nil || j.printer != p {
		return ErrInvalidJob
	}

	p.mu.Lock()
	ev, err := p.cancelLocked(j)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		p.log.Info("job canceled", "job_id", ev.JobID)
		p.system.notify(*ev)
	}
	return nil
}

// CancelAllJobs cancels every active job on the printer.
func (p *Printer) CancelAllJobs() {
	p.mu.Lock()
	var events []Event
	for _, j := range cloneJobs(p.active) {
		if ev, err := p.cancelLocked(j); err == nil && ev != nil {
			events = append(events, *ev)
		}
	}
	p.mu.Unlock()

	for _, ev := range events {
		p.log.Info("job canceled", "job_id", ev.JobID)
	}
	p.system.notify(events...)
}

// cancelLocked must be called with p.mu held. It does no logging; callers
// log the returned event after unlocking.
func (p *Printer) cancelLocked(j *Job) (*Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case j.state.Terminal():
		return nil, fmt.Errorf("cancel job %d: %w", j.id, ErrJobTerminal)
	case j.state == StateProcessing:
		j.isCanceled = true
		j.reasons |= ReasonProcessingToStopPoint
		return nil, nil
	}

	j.isCanceled = true
	j.setStateLocked(StateCanceled)
	p.completeLocked(j)
	p.system.armCleanup()
	ev := jobEvent(EventJobCanceled, j.snapshotLocked())
	return &ev, nil
}

// Stop pauses the printer. Queued jobs move to processing-stopped; a job
// already being processed runs to completion.
func (p *Printer) Stop() {
	p.mu.Lock()
	if p.isStopped {
		p.mu.Unlock()
		return
	}
	p.isStopped = true
	var events []Event
	for _, j := range p.active {
		j.mu.Lock()
		if j.state == StatePending && j.setStateLocked(StateStopped) {
			j.reasons |= ReasonPrinterStopped
			events = append(events, jobEvent(EventJobStopped, j.snapshotLocked()))
		}
		j.mu.Unlock()
	}
	p.mu.Unlock()

	p.log.Info("printer stopped")
	p.system.notify(append(events, Event{Type: EventPrinterPaused, Printer: p.name, Timestamp: time.Now()})...)
}

// Start resumes a stopped printer and dispatches the next job.
func (p *Printer) Start() {
	p.mu.Lock()
	if !p.isStopped {
		p.mu.Unlock()
		return
	}
	p.isStopped = false
	for _, j := range p.active {
		j.mu.Lock()
		if j.state == StateStopped && j.setStateLocked(StatePending) {
			j.reasons &^= ReasonPrinterStopped
		}
		j.mu.Unlock()
	}
	p.mu.Unlock()

	p.log.Info("printer started")
	p.system.notify(Event{Type: EventPrinterResume, Printer: p.name, Timestamp: time.Now()})
	p.CheckJobs()
}

// RemoveJob detaches a finished job from the registry and deletes it.
func (p *Printer) RemoveJob(j *Job) error {
	if j == nil || j.printer != p {
		return ErrInvalidJob
	}

	p.mu.Lock()
	if !j.State().Terminal() {
		p.mu.Unlock()
		return fmt.Errorf("remove job %d: %w", j.id, ErrJobActive)
	}
	found := removeJob(&p.completed, j)
	if found {
		p.removeFromAllLocked(j)
	}
	p.mu.Unlock()

	if !found {
		return fmt.Errorf("remove job %d: %w", j.id, ErrJobNotFound)
	}
	p.system.DeleteJob(j)
	return nil
}
