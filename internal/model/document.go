package model

import "time"

// Document is a captured physical document known to the system.
// This is a pure domain model with no database-specific dependencies or tags.
// The ID is assigned once at creation and is never reused.
type Document struct {
	ID          string        `json:"id"`
	ImageKey    string        `json:"image_key"`
	Corners     Quad          `json:"corners"`
	Fingerprint Fingerprint   `json:"-"`
	Properties  DocProperties `json:"properties"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DocProperties is the user-editable metadata shown next to a document.
type DocProperties struct {
	Label       string `json:"label"`
	Author      string `json:"author"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// PropertiesPatch is a partial update of DocProperties.
// Nil fields are left untouched.
type PropertiesPatch struct {
	Label       *string `json:"label,omitempty"`
	Author      *string `json:"author,omitempty"`
	Date        *string `json:"date,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p PropertiesPatch) IsEmpty() bool {
	return p.Label == nil && p.Author == nil && p.Date == nil && p.Description == nil
}

// Apply merges the provided fields into props and returns the result.
func (p PropertiesPatch) Apply(props DocProperties) DocProperties {
	if p.Label != nil {
		props.Label = *p.Label
	}
	if p.Author != nil {
		props.Author = *p.Author
	}
	if p.Date != nil {
		props.Date = *p.Date
	}
	if p.Description != nil {
		props.Description = *p.Description
	}
	return props
}

// ImageUpdate replaces the canonical image of a document after a re-capture.
type ImageUpdate struct {
	ImageKey    string
	Corners     Quad
	Fingerprint Fingerprint
}

// Link is an undirected relationship between two documents.
// Source and Target keep the order in which the link was first requested.
type Link struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a stored fingerprint offered to the match engine.
type Candidate struct {
	DocumentID  string
	Fingerprint Fingerprint
	UpdatedAt   time.Time
}
