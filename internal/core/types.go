package core

import (
	"context"
	"errors"
	"time"

	"github.com/orrn/printapp/internal/attrs"
)

var (
	ErrPrinterNotFound      = errors.New("core: printer not found")
	ErrPrinterAlreadyExists = errors.New("core: printer already exists")
	ErrPrinterDeleted       = errors.New("core: printer is being deleted")
	ErrJobNotFound          = errors.New("core: job not found")
	ErrInvalidJob           = errors.New("core: invalid job")
	ErrInvalidSubmission    = errors.New("core: invalid submission")
	ErrJobTerminal          = errors.New("core: job is already finished")
	ErrJobNotHeld           = errors.New("core: job is not held")
	ErrJobActive            = errors.New("core: job is still active")
	ErrShuttingDown         = errors.New("core: system is shutting down")
)

const (
	defaultUsername = "anonymous"
	defaultFormat   = "application/octet-stream"
)

// Submission is an incoming job request.
type Submission struct {
	// Attrs holds the request's operation and job attributes.
	Attrs *attrs.Set
	// Requested restricts which job attributes are copied. Empty copies all.
	Requested []string
	Username  string
	// CreateOnly marks a request that carries no document yet. The format
	// is then taken from the first document added.
	CreateOnly bool
	// PrinterURI is the URI the client addressed, if any.
	PrinterURI string
}

// Processor turns a job's documents into output on the device. Process runs
// on the job's worker goroutine with no locks held. Returning nil completes
// the job and an error aborts it. ctx is cancelled when the job is canceled.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Launcher starts worker goroutines. TryGo must run f asynchronously and
// return false when it cannot start it. *errgroup.Group satisfies it.
type Launcher interface {
	TryGo(f func() error) bool
}

type EventType string

const (
	EventJobCreated    EventType = "job.created"
	EventJobReleased   EventType = "job.released"
	EventJobStarted    EventType = "job.started"
	EventJobCompleted  EventType = "job.completed"
	EventJobCanceled   EventType = "job.canceled"
	EventJobAborted    EventType = "job.aborted"
	EventJobStopped    EventType = "job.stopped"
	EventJobDeleted    EventType = "job.deleted"
	EventPrinterPaused EventType = "printer.stopped"
	EventPrinterResume EventType = "printer.started"
)

var eventTypes = map[EventType]bool{
	EventJobCreated:    true,
	EventJobReleased:   true,
	EventJobStarted:    true,
	EventJobCompleted:  true,
	EventJobCanceled:   true,
	EventJobAborted:    true,
	EventJobStopped:    true,
	EventJobDeleted:    true,
	EventPrinterPaused: true,
	EventPrinterResume: true,
}

// Valid reports whether t is one of the event types the engine emits.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// Event describes a job or printer state change.
type Event struct {
	Type      EventType `json:"type"`
	Printer   string    `json:"printer"`
	JobID     int       `json:"job_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Reasons   []string  `json:"reasons,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier receives events. Notify is called with no locks held and must not
// block for long.
type Notifier interface {
	Notify(ev Event)
}

// HistoryRecorder stores the final record of a job when it is deleted.
type HistoryRecorder interface {
	RecordJob(ctx context.Context, snap Snapshot) error
}

// terminalEvent maps a terminal state to its event type.
func terminalEvent(s State) EventType {
	switch s {
	case StateCanceled:
		return EventJobCanceled
	case StateAborted:
		return EventJobAborted
	default:
		return EventJobCompleted
	}
}

func jobEvent(typ EventType, snap Snapshot) Event {
	return Event{
		Type:      typ,
		Printer:   snap.Printer,
		JobID:     snap.ID,
		State:     snap.StateName,
		Reasons:   snap.Reasons,
		Message:   snap.Message,
		Timestamp: time.Now(),
	}
}
