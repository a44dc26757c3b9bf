// Package catalog defines the package record held by the record store and
// the rules every stored record satisfies.
package catalog

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode"

	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
)

const (
	MaxIDLen          = 256
	MaxDescriptionLen = 16 << 10
	MaxReadmeLen      = 64 << 10
	MaxKeywords       = 64
)

// PackageRecord is the metadata of one published package. ID is the
// registry package name and never changes.
type PackageRecord struct {
	ID              string    `json:"id"`
	Description     string    `json:"description"`
	Keywords        []string  `json:"keywords"`
	ReadmeExcerpt   string    `json:"readme_excerpt"`
	DownloadsTotal  uint64    `json:"downloads_total"`
	DownloadsRecent uint64    `json:"downloads_recent"`
	LatestVersion   string    `json:"latest_version"`
	DependencyNames []string  `json:"dependency_names"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate reports the first rule the record breaks, wrapped in
// ErrInvalidInput.
func (r *PackageRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", apperrors.ErrInvalidInput)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", apperrors.ErrInvalidInput)
	}
	if len(r.ID) > MaxIDLen {
		return fmt.Errorf("%w: id exceeds %d bytes", apperrors.ErrInvalidInput, MaxIDLen)
	}
	if strings.IndexFunc(r.ID, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: id %q contains whitespace", apperrors.ErrInvalidInput, r.ID)
	}
	if len(r.Description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d bytes", apperrors.ErrInvalidInput, MaxDescriptionLen)
	}
	if len(r.ReadmeExcerpt) > MaxReadmeLen {
		return fmt.Errorf("%w: readme excerpt exceeds %d bytes", apperrors.ErrInvalidInput, MaxReadmeLen)
	}
	if len(r.Keywords) > MaxKeywords {
		return fmt.Errorf("%w: %d keywords, max %d", apperrors.ErrInvalidInput, len(r.Keywords), MaxKeywords)
	}
	return nil
}

// Normalize canonicalises the record in place. Keyword order is kept;
// dependency names are a set and come out sorted.
func (r *PackageRecord) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Description = strings.TrimSpace(r.Description)
	r.ReadmeExcerpt = strings.TrimSpace(r.ReadmeExcerpt)
	r.LatestVersion = strings.TrimSpace(r.LatestVersion)

	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	r.Keywords = keywords

	deps := make([]string, 0, len(r.DependencyNames))
	for _, d := range r.DependencyNames {
		if d = strings.TrimSpace(d); d != "" {
			deps = append(deps, d)
		}
	}
	sort.Strings(deps)
	r.DependencyNames = slices.Compact(deps)

	if !r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.UpdatedAt.UTC()
	}
}

// Clone returns a deep copy.
func (r *PackageRecord) Clone() *PackageRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Keywords = slices.Clone(r.Keywords)
	cp.DependencyNames = slices.Clone(r.DependencyNames)
	return &cp
}

// ContentEqual compares every field except UpdatedAt. Both records are
// expected to be normalised.
func ContentEqual(a, b *PackageRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.Description == b.Description &&
		a.ReadmeExcerpt == b.ReadmeExcerpt &&
		a.DownloadsTotal == b.DownloadsTotal &&
		a.DownloadsRecent == b.DownloadsRecent &&
		a.LatestVersion == b.LatestVersion &&
		slices.Equal(a.Keywords, b.Keywords) &&
		slices.Equal(a.DependencyNames, b.DependencyNames)
}

// NormalizeName folds case and treats '_' and '-' as the same character, so
// "Proc_Macro2" and "proc-macro2" compare equal.
func NormalizeName(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}
