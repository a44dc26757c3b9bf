package catalog

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     PackageRecord
		wantErr bool
	}{
		{"ok", PackageRecord{ID: "serde"}, false},
		{"empty id", PackageRecord{}, true},
		{"whitespace id", PackageRecord{ID: "serde json"}, true},
		{"long id", PackageRecord{ID: strings.Repeat("a", MaxIDLen+1)}, true},
		{"long description", PackageRecord{ID: "x", Description: strings.Repeat("d", MaxDescriptionLen+1)}, true},
		{"too many keywords", PackageRecord{ID: "x", Keywords: make([]string, MaxKeywords+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	r := PackageRecord{
		ID:              " serde ",
		Description:     "  A serialization framework ",
		Keywords:        []string{"serde", " ", "serialization", "no_std"},
		DependencyNames: []string{"syn", "quote", "syn", "", "proc-macro2"},
	}
	r.Normalize()

	assert.Equal(t, "serde", r.ID)
	assert.Equal(t, "A serialization framework", r.Description)
	assert.Equal(t, []string{"serde", "serialization", "no_std"}, r.Keywords)
	assert.Equal(t, []string{"proc-macro2", "quote", "syn"}, r.DependencyNames)
}

func TestContentEqualIgnoresUpdatedAt(t *testing.T) {
	a := &PackageRecord{ID: "rand", Keywords: []string{"random"}, UpdatedAt: time.Now()}
	b := a.Clone()
	b.UpdatedAt = a.UpdatedAt.Add(time.Hour)
	assert.True(t, ContentEqual(a, b))

	b.DownloadsTotal++
	assert.False(t, ContentEqual(a, b))
}

func TestCloneIsDeep(t *testing.T) {
	a := &PackageRecord{ID: "rand", Keywords: []string{"random"}}
	b := a.Clone()
	b.Keywords[0] = "changed"
	assert.Equal(t, "random", a.Keywords[0])
	assert.Nil(t, (*PackageRecord)(nil).Clone())
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "proc-macro2", NormalizeName("Proc_Macro2"))
	assert.Equal(t, NormalizeName("proc-macro2"), NormalizeName("proc_macro2"))
	assert.Equal(t, "serde", NormalizeName("  SERDE "))
}

func TestEventValidate(t *testing.T) {
	require.NoError(t, PackageEvent{Op: OpUpsert, Record: &PackageRecord{ID: "a"}}.Validate())
	require.NoError(t, PackageEvent{Op: OpDelete, ID: "a"}.Validate())

	assert.Error(t, PackageEvent{Op: OpUpsert}.Validate())
	assert.Error(t, PackageEvent{Op: OpDelete}.Validate())
	assert.Error(t, PackageEvent{Op: "merge", ID: "a"}.Validate())
	assert.Error(t, PackageEvent{Op: OpUpsert, ID: "b", Record: &PackageRecord{ID: "a"}}.Validate())
	assert.Equal(t, "a", PackageEvent{Op: OpDelete, Record: &PackageRecord{ID: "a"}}.TargetID())
}
