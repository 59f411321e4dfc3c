package model

import "time"

// Patch is the change-set a stage returns for a dataset. It is applied
// atomically to the stored document; nil fields are left untouched.
type Patch struct {
	Status Status `json:"status,omitempty"`

	// FromStatus is the status the stage read. When the stored status has
	// since become one of PreserveStatuses, Status is not written.
	FromStatus       Status    `json:"-"`
	ReadUpdatedAt    time.Time `json:"-"`
	PreserveStatuses []Status  `json:"-"`

	File        *File        `json:"file,omitempty"`
	Schema      []Field      `json:"schema,omitempty"`
	Count       *int64       `json:"count,omitempty"`
	BBox        *BBox        `json:"bbox,omitempty"`
	ClearBBox   bool         `json:"-"`
	FinalizedAt *time.Time   `json:"finalizedAt,omitempty"`
	Virtual     *VirtualSpec `json:"virtual,omitempty"`
	Extensions  []Extension  `json:"extensions,omitempty"`
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
	UpdatedBy   string       `json:"updatedBy,omitempty"`
}

// StatusPatch returns a patch that only moves the dataset to status.
func StatusPatch(status Status) *Patch {
	return &Patch{Status: status}
}

// ReplaceFilePatch re-arms the pipeline of a dataset whose data file was
// swapped for file.
func ReplaceFilePatch(file *File, at time.Time, by string) *Patch {
	return &Patch{Status: StatusLoaded, File: file, UpdatedAt: &at, UpdatedBy: by}
}

// Empty reports whether applying p would change nothing
func (p *Patch) Empty() bool {
	return p == nil || (p.Status == "" && p.File == nil && p.Schema == nil && p.Count == nil &&
		p.BBox == nil && !p.ClearBBox && p.FinalizedAt == nil && p.Virtual == nil &&
		p.Extensions == nil && p.Title == nil && p.Description == nil && p.UpdatedAt == nil)
}

// preserveStatus reports whether the stored status must survive the patch
// because the dataset was modified externally while the stage was running.
func (p *Patch) preserveStatus(stored *Dataset) bool {
	if p.FromStatus == "" {
		return false
	}
	preserved := false
	for _, s := range p.PreserveStatuses {
		if s == stored.Status {
			preserved = true
			break
		}
	}
	if !preserved {
		return false
	}
	return stored.Status != p.FromStatus || stored.UpdatedAt.After(p.ReadUpdatedAt)
}

// ApplyTo writes the patch into d. It returns false when the status
// change was skipped to keep an external modification visible.
func (p *Patch) ApplyTo(d *Dataset) bool {
	statusWritten := true
	if p.Status != "" {
		if p.preserveStatus(d) {
			statusWritten = false
		} else {
			d.Status = p.Status
		}
	}
	if p.File != nil {
		f := *p.File
		f.Schema = CloneSchema(p.File.Schema)
		d.File = &f
	}
	if p.Schema != nil {
		d.Schema = CloneSchema(p.Schema)
	}
	if p.Count != nil {
		d.Count = *p.Count
	}
	if p.ClearBBox {
		d.BBox = nil
	} else if p.BBox != nil {
		b := *p.BBox
		d.BBox = &b
	}
	if p.FinalizedAt != nil {
		t := *p.FinalizedAt
		d.FinalizedAt = &t
	}
	if p.Virtual != nil {
		d.Virtual = p.Virtual
	}
	if p.Extensions != nil {
		d.Extensions = append([]Extension(nil), p.Extensions...)
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.UpdatedAt != nil {
		d.UpdatedAt = *p.UpdatedAt
		d.UpdatedBy = p.UpdatedBy
	}
	return statusWritten
}
