package model

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchApplyTo(t *testing.T) {
	read := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	count := int64(12)
	now := read.Add(time.Hour)

	tests := []struct {
		name        string
		stored      Status
		updatedAt   time.Time
		patch       Patch
		wantStatus  Status
		wantWritten bool
	}{
		{
			name:        "plain status",
			stored:      StatusIndexed,
			patch:       Patch{Status: StatusFinalized},
			wantStatus:  StatusFinalized,
			wantWritten: true,
		},
		{
			name:      "moved to updated meanwhile",
			stored:    StatusUpdated,
			updatedAt: read,
			patch: Patch{Status: StatusFinalized, FromStatus: StatusIndexed, ReadUpdatedAt: read,
				PreserveStatuses: []Status{StatusUpdated}},
			wantStatus:  StatusUpdated,
			wantWritten: false,
		},
		{
			name:      "updated again while finalizing an updated dataset",
			stored:    StatusUpdated,
			updatedAt: now,
			patch: Patch{Status: StatusFinalized, FromStatus: StatusUpdated, ReadUpdatedAt: read,
				PreserveStatuses: []Status{StatusUpdated}},
			wantStatus:  StatusUpdated,
			wantWritten: false,
		},
		{
			name:      "still the same updated read",
			stored:    StatusUpdated,
			updatedAt: read,
			patch: Patch{Status: StatusFinalized, FromStatus: StatusUpdated, ReadUpdatedAt: read,
				PreserveStatuses: []Status{StatusUpdated}},
			wantStatus:  StatusFinalized,
			wantWritten: true,
		},
		{
			name:      "unrelated status change is overwritten",
			stored:    StatusError,
			updatedAt: read,
			patch: Patch{Status: StatusFinalized, FromStatus: StatusIndexed, ReadUpdatedAt: read,
				PreserveStatuses: []Status{StatusUpdated}},
			wantStatus:  StatusFinalized,
			wantWritten: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dataset{ID: "d1", Status: tt.stored, UpdatedAt: tt.updatedAt}
			p := tt.patch
			p.Count = &count
			p.FinalizedAt = &now
			written := p.ApplyTo(d)
			assert.Equal(t, tt.wantWritten, written)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, count, d.Count)
			require.NotNil(t, d.FinalizedAt)
			assert.True(t, d.FinalizedAt.Equal(now))
		})
	}
}

func TestPatchBBox(t *testing.T) {
	d := &Dataset{BBox: &BBox{1, 2, 3, 4}}
	(&Patch{ClearBBox: true}).ApplyTo(d)
	assert.Nil(t, d.BBox)

	(&Patch{BBox: &BBox{-1, -2, 3, 4}}).ApplyTo(d)
	require.NotNil(t, d.BBox)
	assert.Equal(t, BBox{-1, -2, 3, 4}, *d.BBox)
}

func TestPatchEmpty(t *testing.T) {
	var p *Patch
	assert.True(t, p.Empty())
	assert.True(t, (&Patch{}).Empty())
	assert.False(t, StatusPatch(StatusAnalyzed).Empty())
	assert.False(t, (&Patch{ClearBBox: true}).Empty())
}

func TestStatusOrder(t *testing.T) {
	assert.True(t, StatusLoaded.Before(StatusAnalyzed))
	assert.True(t, StatusIndexed.Before(StatusFinalized))
	assert.False(t, StatusFinalized.Before(StatusLoaded))
	assert.False(t, StatusUpdated.Before(StatusFinalized))
	assert.False(t, StatusError.Before(StatusLoaded))
	assert.True(t, StatusUpdated.Valid())
	assert.False(t, Status("running").Valid())
}

func TestFatal(t *testing.T) {
	assert.Nil(t, Fatal(nil))

	err := errors.Wrap(Fatal(ErrEmptySample), "schematizing")
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrEmptySample))
	assert.False(t, IsFatal(errors.Wrap(ErrEmptySample, "schematizing")))
	assert.True(t, IsValidation(errors.Wrap(ErrTypeConflict, "field a")))
	assert.False(t, IsValidation(errors.New("disk full")))
}

func TestExtendedSchema(t *testing.T) {
	schema := []Field{
		{Key: "lat", Type: TypeNumber, RefersTo: ConceptLatitude},
		{Key: "lon", Type: TypeNumber, RefersTo: ConceptLongitude},
		{Key: "name", Type: TypeString},
	}
	ext := ExtendedSchema(schema)
	keys := make([]string, len(ext))
	for i, f := range ext {
		keys[i] = f.Key
	}
	assert.Equal(t, []string{"lat", "lon", "name", KeyLine, KeyRand, KeyGeopoint}, keys)

	// idempotent: calculated fields are replaced, not duplicated
	again := ExtendedSchema(ext)
	assert.Equal(t, ext, again)
	assert.True(t, SchemaGeoFields(ext).HasGeopoint())
	assert.False(t, SchemaGeoFields(ext).HasGeometry())
}

func TestCloneDoesNotAlias(t *testing.T) {
	d := &Dataset{
		ID:      "v",
		Schema:  []Field{{Key: "a", Enum: []any{"x"}}},
		Virtual: &VirtualSpec{Children: []string{"c1"}},
	}
	c := d.Clone()
	c.Schema[0].Enum[0] = "y"
	c.Virtual.Children[0] = "c2"
	assert.Equal(t, "x", d.Schema[0].Enum[0])
	assert.Equal(t, "c1", d.Virtual.Children[0])
}

func TestCheckReplaceable(t *testing.T) {
	tests := []struct {
		name string
		d    Dataset
		want error
	}{
		{"finalized", Dataset{Status: StatusFinalized}, nil},
		{"error", Dataset{Status: StatusError}, nil},
		{"processing", Dataset{Status: StatusIndexed}, ErrConflict},
		{"virtual", Dataset{Status: StatusFinalized, IsVirtual: true}, ErrInvalidInput},
		{"rest", Dataset{Status: StatusFinalized, IsRest: true}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.CheckReplaceable()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &Dataset{Status: StatusError, File: &File{Name: "old.csv", Encoding: "ISO-8859-1"}}
	ReplaceFilePatch(&File{Name: "new.csv", Size: 3}, at, "alice").ApplyTo(d)
	assert.Equal(t, StatusLoaded, d.Status)
	assert.Equal(t, &File{Name: "new.csv", Size: 3}, d.File)
	assert.Equal(t, "alice", d.UpdatedBy)
	assert.Equal(t, at, d.UpdatedAt)
}
