// Package auditlog keeps the append-only change history of assessment
// records. Entries form a lineage: every entry names the root of its chain
// (ancestor) and its immediate predecessor (parent).
package auditlog

import (
	"time"

	"gorm.io/datatypes"
)

// RecordType classifies an audit entry.
type RecordType string

const (
	RecordCreate RecordType = "create"
	RecordUpdate RecordType = "update"
	// RecordExport entries log that a subject was exported. They belong to the
	// chain but never seed the parent of the next revision.
	RecordExport RecordType = "export"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordCreate, RecordUpdate, RecordExport:
		return true
	}
	return false
}

// Entry is an immutable audit log entry. A root entry is its own ancestor
// and has no parent.
type Entry struct {
	ID             string                      `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID string                      `gorm:"column:organization_id;index;not null" json:"organizationId"`
	SubjectID      string                      `gorm:"column:subject_id;index:idx_audit_subject_time,priority:1;not null" json:"subjectId"`
	RecordType     RecordType                  `gorm:"column:record_type;not null" json:"recordType"`
	ChangedFields  datatypes.JSONSlice[string] `gorm:"column:changed_fields" json:"changedFields,omitempty"`
	Snapshot       datatypes.JSONMap           `gorm:"column:snapshot" json:"snapshot,omitempty"`
	AncestorID     string                      `gorm:"column:ancestor_id;index;not null" json:"ancestorId"`
	ParentID       string                      `gorm:"column:parent_id;index" json:"parentId,omitempty"`
	Actor          string                      `gorm:"column:actor;not null" json:"actor"`
	Description    string                      `gorm:"column:description" json:"description,omitempty"`
	CreatedAt      time.Time                   `gorm:"column:created_at;index:idx_audit_subject_time,priority:2;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (Entry) TableName() string { return "assessment_audit_log" }

// IsRoot reports whether e starts a lineage.
func (e *Entry) IsRoot() bool { return e.ParentID == "" && e.AncestorID == e.ID }
