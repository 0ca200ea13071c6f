package core

import "strings"

// State is the IPP "job-state" value.
type State int

const (
	StatePending    State = 3
	StateHeld       State = 4
	StateProcessing State = 5
	StateStopped    State = 6
	StateCanceled   State = 7
	StateAborted    State = 8
	StateCompleted  State = 9
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateHeld:
		return "pending-held"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "processing-stopped"
	case StateCanceled:
		return "canceled"
	case StateAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCanceled || s == StateAborted || s == StateCompleted
}

// canTransition reports whether the state machine permits from → to.
func canTransition(from, to State) bool {
	if from == to || from.Terminal() {
		return false
	}
	switch to {
	case StatePending:
		return from == StateHeld || from == StateStopped
	case StateProcessing:
		return from == StatePending
	case StateStopped:
		return from == StatePending || from == StateProcessing
	case StateCompleted:
		return from == StateProcessing
	case StateCanceled, StateAborted:
		return true
	default:
		return false
	}
}

// Reasons is the IPP "job-state-reasons" bitset.
type Reasons uint32

const ReasonNone Reasons = 0

const (
	ReasonAbortedBySystem Reasons = 1 << iota
	ReasonCompressionError
	ReasonDocumentFormatError
	ReasonDocumentPasswordError
	ReasonDocumentPermissionError
	ReasonDocumentUnprintableError
	ReasonErrorsDetected
	ReasonJobCanceledAtDevice
	ReasonJobCanceledByUser
	ReasonJobCompletedSuccessfully
	ReasonJobCompletedWithErrors
	ReasonJobCompletedWithWarnings
	ReasonJobDataInsufficient
	ReasonJobIncoming
	ReasonJobPrinting
	ReasonJobQueued
	ReasonJobSpooling
	ReasonPrinterStopped
	ReasonPrinterStoppedPartly
	ReasonProcessingToStopPoint
	ReasonQueuedInDevice
	ReasonWarningsDetected
	ReasonJobHoldUntilSpecified
	ReasonJobCanceledAfterTimeout
	ReasonJobFetchable
	ReasonJobSuspendedForApproval
	ReasonJobReleaseWait
)

// reasonKeywords is indexed by bit position.
var reasonKeywords = [...]string{
	"aborted-by-system",
	"compression-error",
	"document-format-error",
	"document-password-error",
	"document-permission-error",
	"document-unprintable-error",
	"errors-detected",
	"job-canceled-at-device",
	"job-canceled-by-user",
	"job-completed-successfully",
	"job-completed-with-errors",
	"job-completed-with-warnings",
	"job-data-insufficient",
	"job-incoming",
	"job-printing",
	"job-queued",
	"job-spooling",
	"printer-stopped",
	"printer-stopped-partly",
	"processing-to-stop-point",
	"queued-in-device",
	"warnings-detected",
	"job-hold-until-specified",
	"job-canceled-after-timeout",
	"job-fetchable",
	"job-suspended-for-approval",
	"job-release-wait",
}

// Has reports whether every bit of r2 is set in r.
func (r Reasons) Has(r2 Reasons) bool {
	return r&r2 == r2
}

// Strings returns the keyword for each set bit, or ["none"].
func (r Reasons) Strings() []string {
	if r == ReasonNone {
		return []string{"none"}
	}
	var out []string
	for i, kw := range reasonKeywords {
		if r&(1<<uint(i)) != 0 {
			out = append(out, kw)
		}
	}
	return out
}

func (r Reasons) String() string {
	return strings.Join(r.Strings(), ",")
}

// ParseReason returns the bit for an IPP keyword, or ReasonNone.
func ParseReason(keyword string) Reasons {
	for i, kw := range reasonKeywords {
		if kw == keyword {
			return 1 << uint(i)
		}
	}
	return ReasonNone
}
