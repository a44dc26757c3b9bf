package catalog

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
)

// Op is the action a PackageEvent asks the record store to perform.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// PackageEvent is the ingestion message carried on the package-updates
// topic. Delete events only need ID.
type PackageEvent struct {
	Op     Op             `json:"op"`
	ID     string         `json:"id"`
	Record *PackageRecord `json:"record,omitempty"`
}

// Validate checks that the event is applicable.
func (e PackageEvent) Validate() error {
	switch e.Op {
	case OpUpsert:
		if e.Record == nil {
			return fmt.Errorf("%w: upsert event without record", apperrors.ErrInvalidInput)
		}
		if e.ID != "" && e.ID != e.Record.ID {
			return fmt.Errorf("%w: event id %q does not match record id %q",
				apperrors.ErrInvalidInput, e.ID, e.Record.ID)
		}
		return e.Record.Validate()
	case OpDelete:
		if e.TargetID() == "" {
			return fmt.Errorf("%w: delete event without id", apperrors.ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", apperrors.ErrInvalidInput, e.Op)
	}
}

// TargetID is the package the event applies to.
func (e PackageEvent) TargetID() string {
	if e.ID != "" {
		return e.ID
	}
	if e.Record != nil {
		return e.Record.ID
	}
	return ""
}
