package core

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/orrn/printapp/internal/attrs"
)

// maxMessage is the longest status message kept on a job, in bytes.
const maxMessage = 1023

// Job is one submitted unit of print work.
//
// The id and the printer/system back-pointers are fixed once the job is
// published to the registry. Everything else is guarded by mu.
type Job struct {
	mu sync.RWMutex

	id      int
	printer *Printer
	system  *System

	name     string
	username string
	format   string
	attrs    *attrs.Set

	state      State
	reasons    Reasons
	isCanceled bool

	copies               int
	copiesCompleted      int
	impressions          int
	impressionsCompleted int

	created    time.Time
	processing time.Time
	completed  time.Time

	message   string
	data      any
	documents []Document
}

// Document is one file spooled for a job.
type Document struct {
	Filename string     `json:"filename"`
	Format   string     `json:"format"`
	Attrs    *attrs.Set `json:"-"`
}

// Snapshot is a consistent copy of a job's fields, taken under one read lock.
type Snapshot struct {
	ID                   int            `json:"id"`
	Printer              string         `json:"printer"`
	Name                 string         `json:"name"`
	Username             string         `json:"username"`
	Format               string         `json:"format"`
	State                State          `json:"state"`
	StateName            string         `json:"state_name"`
	Reasons              []string       `json:"reasons"`
	Message              string         `json:"message,omitempty"`
	Copies               int            `json:"copies"`
	CopiesCompleted      int            `json:"copies_completed"`
	Impressions          int            `json:"impressions"`
	ImpressionsCompleted int            `json:"impressions_completed"`
	Documents            []Document     `json:"documents"`
	Attributes           map[string]any `json:"attributes,omitempty"`
	Created              time.Time      `json:"created"`
	Processing           time.Time      `json:"processing,omitempty"`
	Completed            time.Time      `json:"completed,omitempty"`
	IsCanceled           bool           `json:"is_canceled"`
}

func (j *Job) ID() int {
	if j == nil {
		return 0
	}
	return j.id
}

// Printer returns the printer that owns the job.
func (j *Job) Printer() *Printer {
	if j == nil {
		return nil
	}
	return j.printer
}

func (j *Job) Name() string {
	if j == nil {
		return ""
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.name
}

func (j *Job) Username() string {
	if j == nil {
		return ""
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.username
}

func (j *Job) Format() string {
	if j == nil {
		return ""
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.format
}

// Attribute returns a copy of the named job attribute, or nil.
func (j *Job) Attribute(name string) *attrs.Attribute {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attrs.Get(name)
}

// Attributes returns a deep copy of the job's attributes.
func (j *Job) Attributes() *attrs.Set {
	if j == nil {
		return attrs.New()
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attrs.Clone()
}

// SetAttribute adds or replaces a job attribute.
func (j *Job) SetAttribute(group attrs.Tag, name string, values ...any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.attrs == nil {
		j.attrs = attrs.New()
	}
	j.attrs.Set(group, name, values...)
}

// State returns the current job state. A nil job reports StateAborted.
func (j *Job) State() State {
	if j == nil {
		return StateAborted
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) Reasons() Reasons {
	if j == nil {
		return ReasonNone
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.reasons
}

// SetReasons clears remove and then sets add, as one update.
func (j *Job) SetReasons(add, remove Reasons) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.reasons = (j.reasons &^ remove) | add
	j.mu.Unlock()
}

// IsCanceled reports whether a cancel was requested or the job was stopped
// by the system. Processors poll it to stop early.
func (j *Job) IsCanceled() bool {
	if j == nil {
		return false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.isCanceled || j.state == StateCanceled || j.state == StateAborted
}

func (j *Job) Copies() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.copies
}

func (j *Job) CopiesCompleted() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.copiesCompleted
}

// AddCopiesCompleted adds delta to the completed copy count.
func (j *Job) AddCopiesCompleted(delta int) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.copiesCompleted += delta
	j.mu.Unlock()
}

func (j *Job) Impressions() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.impressions
}

// SetImpressions sets the expected number of impressions, typically once the
// driver has counted pages.
func (j *Job) SetImpressions(n int) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.impressions = n
	j.mu.Unlock()
}

func (j *Job) ImpressionsCompleted() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.impressionsCompleted
}

// AddImpressionsCompleted adds delta to the completed impression count.
func (j *Job) AddImpressionsCompleted(delta int) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.impressionsCompleted += delta
	j.mu.Unlock()
}

func (j *Job) TimeCreated() time.Time {
	if j == nil {
		return time.Time{}
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.created
}

func (j *Job) TimeProcessed() time.Time {
	if j == nil {
		return time.Time{}
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.processing
}

func (j *Job) TimeCompleted() time.Time {
	if j == nil {
		return time.Time{}
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.completed
}

func (j *Job) Message() string {
	if j == nil {
		return ""
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.message
}

// SetMessage replaces the status message. Long messages are cut to fit.
func (j *Job) SetMessage(format string, args ...any) {
	if j == nil {
		return
	}
	msg := truncateMessage(fmt.Sprintf(format, args...))
	j.mu.Lock()
	j.message = msg
	j.mu.Unlock()
}

func truncateMessage(s string) string {
	if len(s) <= maxMessage {
		return s
	}
	s = s[:maxMessage]
	// Drop a multi-byte character split by the cut. Bytes before it are
	// kept as they are, valid or not.
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if !utf8.FullRuneInString(s[i:]) {
				s = s[:i]
			}
			break
		}
	}
	return s
}

// Data returns the driver's private per-job value.
func (j *Job) Data() any {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data
}

func (j *Job) SetData(v any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.data = v
	j.mu.Unlock()
}

// AddDocument records a spooled file. The first document's format becomes
// the job format when none was declared at creation.
func (j *Job) AddDocument(filename, format string, docAttrs *attrs.Set) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documents = append(j.documents, Document{Filename: filename, Format: format, Attrs: docAttrs.Clone()})
	if j.format == "" || j.format == defaultFormat {
		j.format = format
	}
}

func (j *Job) NumberOfDocuments() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.documents)
}

// Documents returns copies of the job's document records.
func (j *Job) Documents() []Document {
	if j == nil {
		return nil
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return copyDocuments(j.documents)
}

func copyDocuments(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = Document{Filename: d.Filename, Format: d.Format, Attrs: d.Attrs.Clone()}
	}
	return out
}

// Snapshot copies every field under a single read lock.
func (j *Job) Snapshot() Snapshot {
	if j == nil {
		return Snapshot{State: StateAborted, StateName: StateAborted.String(), Reasons: ReasonNone.Strings()}
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	printer := ""
	if j.printer != nil {
		printer = j.printer.name
	}
	return Snapshot{
		ID:                   j.id,
		Printer:              printer,
		Name:                 j.name,
		Username:             j.username,
		Format:               j.format,
		State:                j.state,
		StateName:            j.state.String(),
		Reasons:              j.reasons.Strings(),
		Message:              j.message,
		Copies:               j.copies,
		CopiesCompleted:      j.copiesCompleted,
		Impressions:          j.impressions,
		ImpressionsCompleted: j.impressionsCompleted,
		Documents:            copyDocuments(j.documents),
		Attributes:           j.attrs.Map(),
		Created:              j.created,
		Processing:           j.processing,
		Completed:            j.completed,
		IsCanceled:           j.isCanceled || j.state == StateCanceled || j.state == StateAborted,
	}
}

func (j *Job) now() time.Time {
	if j.system != nil {
		return j.system.now()
	}
	return time.Now()
}

// setStateLocked moves the job to state and applies the derived timestamps
// and reasons. It returns false when the transition is not allowed.
// Must be called with j.mu held for writing.
func (j *Job) setStateLocked(state State) bool {
	if !canTransition(j.state, state) {
		return false
	}
	j.state = state

	switch {
	case state == StateProcessing:
		j.processing = j.now()
		j.reasons |= ReasonJobPrinting
		j.reasons &^= ReasonJobQueued
	case state.Terminal():
		j.completed = j.now()
		j.reasons &^= ReasonJobPrinting | ReasonJobQueued | ReasonJobIncoming | ReasonProcessingToStopPoint
		if state == StateAborted {
			j.reasons |= ReasonAbortedBySystem
		} else if state == StateCanceled {
			j.reasons |= ReasonJobCanceledByUser
		}
		if j.reasons.Has(ReasonErrorsDetected) {
			j.reasons |= ReasonJobCompletedWithErrors
		}
		if j.reasons.Has(ReasonWarningsDetected) {
			j.reasons |= ReasonJobCompletedWithWarnings
		}
	}
	return true
}
