package anomaly

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInsufficientData       = errors.New("insufficient data")
	ErrMetricStoreUnavailable = errors.New("metric store unavailable")
	ErrDeliveryFailed         = errors.New("delivery failed")
	ErrInvalidConfig          = errors.New("invalid detection config")
)

type ConflictError struct {
	AlertID        string
	Reason         string
	CurrentStatus  Status
	CurrentVersion int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("alert %s: %s (status=%s, version=%d)", e.AlertID, e.Reason, e.CurrentStatus, e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ValidationError struct {
	Details []ErrorDetail `json:"details"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Problem)
	}
	return "invalid detection config: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}
