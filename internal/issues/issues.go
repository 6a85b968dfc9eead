// Package issues holds the shared issue and error taxonomy used by the edit
// engine. Recoverable problems travel as []Issue with a severity; requests that
// must be rejected outright travel as *Error.
package issues

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
	SeverityInfo  Severity = "INFO"
)

// Request-level codes.
const (
	CodeSchemaInvalid       = "SCHEMA_INVALID"
	CodeInvariantViolation  = "INVARIANT_VIOLATION"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeReferenceNotFound   = "REFERENCE_NOT_FOUND"
	CodeOperationInvalid    = "OPERATION_INVALID"
	CodeNotFound            = "NOT_FOUND"
)

// Transcript codes.
const (
	CodeSegmentNotFound     = "SEGMENT_NOT_FOUND"
	CodeSegmentTextEmpty    = "SEGMENT_TEXT_EMPTY"
	CodeSegmentSplitInvalid = "SEGMENT_SPLIT_INVALID"
	CodeSegmentMergeInvalid = "SEGMENT_MERGE_INVALID"
	CodeSegmentOverlap      = "SEGMENT_OVERLAP"
	CodeSegmentRangeInvalid = "SEGMENT_RANGE_INVALID"
	CodeSegmentRefDangling  = "SEGMENT_REF_DANGLING"
	CodeSpeakerConflict     = "SPEAKER_CONFLICT"
)

// Ripple codes.
const (
	CodeLowConfidenceRipple     = "LOW_CONFIDENCE_RIPPLE"
	CodeConfidenceUnknown       = "CONFIDENCE_UNKNOWN"
	CodeRippleAmbiguousBoundary = "RIPPLE_AMBIGUOUS_BOUNDARY"
	CodeRippleNoFootage         = "RIPPLE_NO_FOOTAGE"
)

// Timeline invariant codes.
const (
	CodeClipTooShort        = "CLIP_TOO_SHORT"
	CodeClipOverlap         = "CLIP_OVERLAP"
	CodeClipRangeInvalid    = "CLIP_RANGE_INVALID"
	CodeKeyframeOutOfRange  = "KEYFRAME_OUT_OF_RANGE"
	CodeTrackKindInvalid    = "TRACK_KIND_INVALID"
	CodeDuplicateID         = "DUPLICATE_ID"
	CodeAssetMissing        = "ASSET_MISSING"
	CodeTransitionTooLong   = "TRANSITION_TOO_LONG"
	CodeTrackEmpty          = "TRACK_EMPTY"
	CodePlanLowConfidence   = "PLAN_LOW_CONFIDENCE"
	CodePlanNoOperations    = "PLAN_NO_OPERATIONS"
	CodeOperationsDiscarded = "OPERATIONS_DISCARDED"
)

// Issue is a single finding with a severity. ERROR blocks a commit; WARN and
// INFO are advisory.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	TrackID  string   `json:"track_id,omitempty"`
	ClipID   string   `json:"clip_id,omitempty"`
	Segment  string   `json:"segment_id,omitempty"`
}

func Errorf(code, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func Warnf(code, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityWarn}
}

func Infof(code, format string, args ...any) Issue {
	return Issue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityInfo}
}

// HasErrors reports whether any issue carries ERROR severity.
func HasErrors(list []Issue) bool {
	for _, is := range list {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Filter returns the issues with the given severity.
func Filter(list []Issue, sev Severity) []Issue {
	var out []Issue
	for _, is := range list {
		if is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

// Error rejects a whole request. Index is the offending operation position in
// its batch, or -1 when the error is not tied to one operation.
type Error struct {
	Code    string
	Message string
	Index   int
	Issues  []Issue
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Index >= 0 {
		msg = fmt.Sprintf("operation %d: %s", e.Index, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies the error for status mapping.
func (e *Error) ErrorKind() string {
	switch e.Code {
	case CodeSchemaInvalid:
		return "validation"
	case CodeConcurrencyConflict:
		return "conflict"
	case CodeReferenceNotFound, CodeNotFound, CodeSegmentNotFound:
		return "not_found"
	default:
		return "rejected"
	}
}

func New(code string, index int, format string, args ...any) *Error {
	return &Error{Code: code, Index: index, Message: fmt.Sprintf(format, args...)}
}

// Invariant wraps ERROR issues produced by a validator into a rejection.
func Invariant(list []Issue) *Error {
	return &Error{
		Code:    CodeInvariantViolation,
		Index:   -1,
		Message: fmt.Sprintf("%d invariant error(s)", len(Filter(list, SeverityError))),
		Issues:  list,
	}
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
