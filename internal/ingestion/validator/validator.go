// Package validator checks package records and events before they are
// published, and reports every failing field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
)

const maxKeywordLength = 128

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidatePackage checks rec against the record store limits and returns a
// ValidationError listing every failing field.
func ValidatePackage(rec *catalog.PackageRecord) error {
	if rec == nil {
		return &ValidationError{Fields: map[string]string{"record": "record is required"}}
	}
	errs := make(map[string]string)

	id := strings.TrimSpace(rec.ID)
	switch {
	case id == "":
		errs["id"] = "id is required"
	case len(id) > catalog.MaxIDLen:
		errs["id"] = fmt.Sprintf("id must be at most %d bytes", catalog.MaxIDLen)
	case strings.IndexFunc(id, unicode.IsSpace) >= 0:
		errs["id"] = "id must not contain whitespace"
	}
	if len(rec.Description) > catalog.MaxDescriptionLen {
		errs["description"] = fmt.Sprintf("description must be at most %d bytes", catalog.MaxDescriptionLen)
	}
	if len(rec.ReadmeExcerpt) > catalog.MaxReadmeLen {
		errs["readme_excerpt"] = fmt.Sprintf("readme excerpt must be at most %d bytes", catalog.MaxReadmeLen)
	}
	if len(rec.Keywords) > catalog.MaxKeywords {
		errs["keywords"] = fmt.Sprintf("at most %d keywords allowed", catalog.MaxKeywords)
	} else {
		for _, kw := range rec.Keywords {
			if len(kw) > maxKeywordLength {
				errs["keywords"] = fmt.Sprintf("keyword %.16q... exceeds %d bytes", kw, maxKeywordLength)
				break
			}
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEvent checks the op and the record of an event.
func ValidateEvent(ev catalog.PackageEvent) error {
	switch ev.Op {
	case catalog.OpUpsert:
		if err := ValidatePackage(ev.Record); err != nil {
			return err
		}
		if ev.ID != "" && ev.ID != ev.Record.ID {
			return &ValidationError{Fields: map[string]string{
				"id": fmt.Sprintf("event id %q does not match record id %q", ev.ID, ev.Record.ID),
			}}
		}
	case catalog.OpDelete:
		if ev.TargetID() == "" {
			return &ValidationError{Fields: map[string]string{"id": "id is required"}}
		}
	default:
		return &ValidationError{Fields: map[string]string{"op": fmt.Sprintf("unknown op %q", ev.Op)}}
	}
	return nil
}
