package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the commitment and scoring engines.
// Callers should match them with errors.Is.
var (
	// ErrEmptyBatch is returned when a commitment is requested over zero records.
	ErrEmptyBatch = errors.New("empty batch")

	// ErrDuplicateRecord is returned when two records in one batch share an ID.
	ErrDuplicateRecord = errors.New("duplicate record id in batch")

	// ErrIndexOutOfRange is returned when a proof is requested for a nonexistent record.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrMalformedProof is returned when a proof is structurally invalid.
	ErrMalformedProof = errors.New("malformed proof")

	// ErrIncompleteMetrics is returned when a required financial figure is absent.
	ErrIncompleteMetrics = errors.New("incomplete metrics")

	// ErrInvalidMetrics is returned when a financial figure is outside its domain.
	ErrInvalidMetrics = errors.New("invalid metrics")

	// ErrInvalidConfig is returned when scoring thresholds or weights are unusable.
	ErrInvalidConfig = errors.New("invalid scoring config")

	ErrBatchNotFound      = errors.New("batch not found")
	ErrRecordNotFound     = errors.New("record not found in batch")
	ErrScoringRunNotFound = errors.New("scoring run not found")

	// ErrAnchorHistoryUnavailable is returned when the configured anchor cannot list past roots.
	ErrAnchorHistoryUnavailable = errors.New("anchor does not keep a root history")
)

// MetricsError describes a per-entity validation failure. It unwraps to either
// ErrIncompleteMetrics or ErrInvalidMetrics.
type MetricsError struct {
	Err     error
	Company string
	Fields  []string
}

func (e *MetricsError) Error() string {
	verb := "invalid"
	if errors.Is(e.Err, ErrIncompleteMetrics) {
		verb = "missing"
	}
	company := e.Company
	if company == "" {
		company = "<unnamed>"
	}
	return fmt.Sprintf("%s for %q: %s %s", e.Err, company, verb, strings.Join(e.Fields, ", "))
}

func (e *MetricsError) Unwrap() error {
	return e.Err
}

// ErrorKind returns a short machine-readable name for the sentinel behind err,
// or "internal" if err does not wrap a known sentinel.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyBatch):
		return "EmptyBatch"
	case errors.Is(err, ErrDuplicateRecord):
		return "DuplicateRecord"
	case errors.Is(err, ErrIndexOutOfRange):
		return "IndexOutOfRange"
	case errors.Is(err, ErrMalformedProof):
		return "MalformedProof"
	case errors.Is(err, ErrIncompleteMetrics):
		return "IncompleteMetrics"
	case errors.Is(err, ErrInvalidMetrics):
		return "InvalidMetrics"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, ErrBatchNotFound):
		return "BatchNotFound"
	case errors.Is(err, ErrRecordNotFound):
		return "RecordNotFound"
	case errors.Is(err, ErrScoringRunNotFound):
		return "ScoringRunNotFound"
	case errors.Is(err, ErrAnchorHistoryUnavailable):
		return "AnchorHistoryUnavailable"
	default:
		return "internal"
	}
}

// ErrorForKind is the inverse of ErrorKind. It returns nil for unknown kinds.
func ErrorForKind(kind string) error {
	switch kind {
	case "EmptyBatch":
		return ErrEmptyBatch
	case "DuplicateRecord":
		return ErrDuplicateRecord
	case "IndexOutOfRange":
		return ErrIndexOutOfRange
	case "MalformedProof":
		return ErrMalformedProof
	case "IncompleteMetrics":
		return ErrIncompleteMetrics
	case "InvalidMetrics":
		return ErrInvalidMetrics
	case "InvalidConfig":
		return ErrInvalidConfig
	case "BatchNotFound":
		return ErrBatchNotFound
	case "RecordNotFound":
		return ErrRecordNotFound
	case "ScoringRunNotFound":
		return ErrScoringRunNotFound
	case "AnchorHistoryUnavailable":
		return ErrAnchorHistoryUnavailable
	default:
		return nil
	}
}
