package importers

import (
	"errors"
	"fmt"
)

// Structural failures abort the whole import and are reported once.
var (
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrInputTooLarge     = errors.New("input exceeds the configured size limit")
	ErrNoDataSection     = errors.New("document has no usable data section")
	ErrNoPayloadFound    = errors.New("no embedded payload found in survey document")
	ErrMissingHeaders    = errors.New("required headers are missing")
)

// RecordError is a per-record failure. Normalizers and the persister
// accumulate these and keep going; they never stop the remaining records.
type RecordError struct {
	Entity string `json:"entity"` // patient, visit, observation, row
	Index  int    `json:"index"`  // row index or entity position in the source
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s (index %d): %s", e.Entity, e.ID, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s (index %d): %s", e.Entity, e.Index, e.Reason)
}

// Warning is a non-fatal anomaly. Warnings never block success.
type Warning struct {
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.ID != "" {
		return fmt.Sprintf("%s %s: %s", w.Entity, w.ID, w.Message)
	}
	return w.Message
}

// Report accumulates per-record errors and warnings across one import.
type Report struct {
	Errors   []RecordError `json:"errors"`
	Warnings []Warning     `json:"warnings"`
}

func (r *Report) AddError(e RecordError) {
	r.Errors = append(r.Errors, e)
}

func (r *Report) AddWarning(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// Merge folds another report into this one.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}
