package model

import (
	"time"

	"github.com/pkg/errors"
)

// Status is the processing state of a dataset.
type Status string

const (
	StatusLoaded      Status = "loaded"
	StatusAnalyzed    Status = "analyzed"
	StatusSchematized Status = "schematized"
	StatusExtended    Status = "extended"
	StatusIndexed     Status = "indexed"
	StatusFinalized   Status = "finalized"
	StatusUpdated     Status = "updated"
	StatusError       Status = "error"
)

var statusOrder = map[Status]int{
	StatusLoaded:      1,
	StatusAnalyzed:    2,
	StatusSchematized: 3,
	StatusExtended:    4,
	StatusIndexed:     5,
	StatusFinalized:   6,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUpdated, StatusError:
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// Before reports whether s precedes other along the forward processing order.
// Updated and error are outside the order and never precede anything.
func (s Status) Before(other Status) bool {
	a, ok1 := statusOrder[s]
	b, ok2 := statusOrder[other]
	return ok1 && ok2 && a < b
}

// OwnerType distinguishes user and organization owners
type OwnerType string

const (
	OwnerUser         OwnerType = "user"
	OwnerOrganization OwnerType = "organization"
)

// Owner identifies who a dataset belongs to
type Owner struct {
	Type OwnerType `json:"type"`
	ID   string    `json:"id"`
	Name string    `json:"name,omitempty"`
}

// FileProps holds parsing hints detected by the analyzer
type FileProps struct {
	Delimiter string `json:"delimiter,omitempty"`
	Header    bool   `json:"header"`
}

// File describes the raw tabular file behind a physical dataset
type File struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mimetype"`
	Encoding string    `json:"encoding,omitempty"`
	Props    FileProps `json:"props"`
	Schema   []Field   `json:"schema,omitempty"`
}

// Filter restricts the rows a virtual dataset exposes
type Filter struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// VirtualSpec lists the children of a virtual dataset, in order
type VirtualSpec struct {
	Children []string `json:"children"`
	Filters  []Filter `json:"filters,omitempty"`
}

// Extension enables a remote service action on a dataset
type Extension struct {
	RemoteService string `json:"remoteService"`
	Action        string `json:"action"`
	Active        bool   `json:"active"`
}

// Dataset is the document persisted for every dataset, physical or virtual
type Dataset struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Owner       Owner        `json:"owner"`
	File        *File        `json:"file,omitempty"`
	Schema      []Field      `json:"schema"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	UpdatedBy   string       `json:"updatedBy,omitempty"`
	FinalizedAt *time.Time   `json:"finalizedAt,omitempty"`
	Count       int64        `json:"count"`
	BBox        *BBox        `json:"bbox"`
	IsVirtual   bool         `json:"isVirtual"`
	Virtual     *VirtualSpec `json:"virtual,omitempty"`
	IsRest      bool         `json:"isRest"`
	Extensions  []Extension  `json:"extensions,omitempty"`
}

// CheckReplaceable tells whether the data file of d may be swapped. Only
// physical datasets whose processing is over qualify.
func (d *Dataset) CheckReplaceable() error {
	if d.IsVirtual || d.IsRest {
		return errors.Wrapf(ErrInvalidInput, "dataset %s has no data file", d.ID)
	}
	if d.Status != StatusFinalized && d.Status != StatusError {
		return errors.Wrapf(ErrConflict, "dataset %s is being processed, status %s", d.ID, d.Status)
	}
	return nil
}

// Clone returns a deep enough copy of d that stages may modify freely.
func (d *Dataset) Clone() *Dataset {
	c := *d
	c.Schema = CloneSchema(d.Schema)
	if d.File != nil {
		f := *d.File
		f.Schema = CloneSchema(d.File.Schema)
		c.File = &f
	}
	if d.Virtual != nil {
		v := VirtualSpec{
			Children: append([]string(nil), d.Virtual.Children...),
			Filters:  append([]Filter(nil), d.Virtual.Filters...),
		}
		c.Virtual = &v
	}
	if d.BBox != nil {
		b := *d.BBox
		c.BBox = &b
	}
	if d.FinalizedAt != nil {
		t := *d.FinalizedAt
		c.FinalizedAt = &t
	}
	c.Extensions = append([]Extension(nil), d.Extensions...)
	return &c
}

// ActiveExtensions returns the extensions that should run on the next extend pass
func (d *Dataset) ActiveExtensions() []Extension {
	var out []Extension
	for _, e := range d.Extensions {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

// BBox is a geographic bounding box: minLon, minLat, maxLon, maxLat
type BBox [4]float64

// Extend grows b so that it also covers o.
func (b BBox) Extend(o BBox) BBox {
	if o[0] < b[0] {
		b[0] = o[0]
	}
	if o[1] < b[1] {
		b[1] = o[1]
	}
	if o[2] > b[2] {
		b[2] = o[2]
	}
	if o[3] > b[3] {
		b[3] = o[3]
	}
	return b
}
