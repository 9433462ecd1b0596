package models

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ValidationError names the first field of the input that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Шаги записи, которые может назвать StorageError.
const (
	StepBegin         = "begin"
	StepRead          = "read"
	StepProjection    = "projection"
	StepSample        = "sample"
	StepArchive       = "archive"
	StepDeleteState   = "delete_state"
	StepDeleteSamples = "delete_samples"
	StepCommit        = "commit"
)

// StorageError reports which sub-write of a multi-step operation failed.
// Nothing of the operation is applied when it is returned.
type StorageError struct {
	Step string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Step, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Step: step, Err: err}
}

// ConsistencyRisk describes a flight that is archived but still has live
// state or samples written before the archive was taken (revision <= Revision).
type ConsistencyRisk struct {
	FlightID        string    `json:"flight_id"`
	LogID           string    `json:"log_id"`
	CompletedAt     time.Time `json:"completed_at"`
	Revision        int64     `json:"revision"`
	LeftoverState   bool      `json:"leftover_state"`
	LeftoverSamples int64     `json:"leftover_samples"`
}

func (r ConsistencyRisk) String() string {
	return fmt.Sprintf("flight %s archived as %s at %s still has state=%t samples=%d",
		r.FlightID, r.LogID, r.CompletedAt.Format(time.RFC3339), r.LeftoverState, r.LeftoverSamples)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
