// Package assessment attaches versioned green assessment records to
// canonical property views. Revisions are new rows linked to the row they
// supersede; every change is logged in an auditlog lineage.
package assessment

import (
	"time"
)

// GreenAssessment is a certification type, such as a Home Energy Score.
type GreenAssessment struct {
	ID              string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID  string    `gorm:"column:organization_id;uniqueIndex:idx_assessment_org_name,priority:1;not null" json:"organizationId"`
	Name            string    `gorm:"column:name;uniqueIndex:idx_assessment_org_name,priority:2;not null" json:"name"`
	AwardBody       string    `gorm:"column:award_body" json:"awardBody,omitempty"`
	RecognitionType string    `gorm:"column:recognition_type" json:"recognitionType,omitempty"`
	Description     string    `gorm:"column:description" json:"description,omitempty"`
	IsNumericScore  bool      `gorm:"column:is_numeric_score" json:"isNumericScore"`
	IsIntegerScore  bool      `gorm:"column:is_integer_score" json:"isIntegerScore"`
	ValidityDays    int       `gorm:"column:validity_days" json:"validityDays,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (GreenAssessment) TableName() string { return "green_assessments" }

// AssessmentProperty is one version of an assessment awarded to a property
// view. Exactly one version per (view, assessment, reference id) is current.
type AssessmentProperty struct {
	ID                string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID    string     `gorm:"column:organization_id;index:idx_ap_key,priority:1;not null" json:"organizationId"`
	ViewID            string     `gorm:"column:view_id;index:idx_ap_key,priority:2;not null" json:"viewId"`
	AssessmentID      string     `gorm:"column:assessment_id;index:idx_ap_key,priority:3;not null" json:"assessmentId"`
	ReferenceID       string     `gorm:"column:reference_id" json:"referenceId,omitempty"`
	Source            string     `gorm:"column:source" json:"source,omitempty"`
	Status            string     `gorm:"column:status" json:"status,omitempty"`
	StatusDate        *time.Time `gorm:"column:status_date" json:"statusDate,omitempty"`
	Metric            *float64   `gorm:"column:metric" json:"metric,omitempty"`
	Rating            string     `gorm:"column:rating" json:"rating,omitempty"`
	Version           string     `gorm:"column:version" json:"version,omitempty"`
	IssueDate         *time.Time `gorm:"column:issue_date" json:"issueDate,omitempty"`
	TargetDate        *time.Time `gorm:"column:target_date" json:"targetDate,omitempty"`
	Eligibility       *bool      `gorm:"column:eligibility" json:"eligibility,omitempty"`
	ExpirationDate    *time.Time `gorm:"column:expiration_date" json:"expirationDate,omitempty"`
	Revision          int        `gorm:"column:revision;not null" json:"revision"`
	PreviousVersionID string     `gorm:"column:previous_version_id;index" json:"previousVersionId,omitempty"`
	Current           bool       `gorm:"column:is_current;index;not null" json:"current"`
	SupersededAt      *time.Time `gorm:"column:superseded_at" json:"supersededAt,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"createdAt"`
}

func (AssessmentProperty) TableName() string { return "green_assessment_properties" }

// RevisionHead is the optimistic version counter of one business key. A
// revision is only appended after bumping Version from the value it read.
type RevisionHead struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;not null"`
	ViewID         string    `gorm:"column:view_id;uniqueIndex:idx_head_key,priority:1;not null"`
	AssessmentID   string    `gorm:"column:assessment_id;uniqueIndex:idx_head_key,priority:2;not null"`
	ReferenceID    string    `gorm:"column:reference_id;uniqueIndex:idx_head_key,priority:3;not null;default:''"`
	PropertyID     string    `gorm:"column:property_id;not null"`
	Version        int64     `gorm:"column:version;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (RevisionHead) TableName() string { return "green_assessment_revision_heads" }

// AssessmentURL links a supporting document to an assessment version.
type AssessmentURL struct {
	ID                   string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID       string    `gorm:"column:organization_id;not null" json:"organizationId"`
	URL                  string    `gorm:"column:url;type:varchar(512);uniqueIndex:idx_url_property,priority:1;not null" json:"url"`
	AssessmentPropertyID string    `gorm:"column:assessment_property_id;type:varchar(36);uniqueIndex:idx_url_property,priority:2;not null" json:"assessmentPropertyId"`
	CreatedAt            time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (AssessmentURL) TableName() string { return "green_assessment_urls" }

// MeasurementKind is what a measurement quantifies.
type MeasurementKind string

const (
	KindConsumption MeasurementKind = "consumption"
	KindProduction  MeasurementKind = "production"
	KindCapacity    MeasurementKind = "capacity"
)

// SubtypePV marks photovoltaic measurements.
const SubtypePV = "PV"

// Measurement is an energy figure reported with an assessment. Rows are
// shared by every identical tuple.
type Measurement struct {
	ID                   string          `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	OrganizationID       string          `gorm:"column:organization_id;not null" json:"organizationId"`
	AssessmentPropertyID string          `gorm:"column:assessment_property_id;index;not null" json:"assessmentPropertyId"`
	Kind                 MeasurementKind `gorm:"column:kind;not null" json:"kind"`
	Fuel                 string          `gorm:"column:fuel;not null" json:"fuel"`
	Subtype              string          `gorm:"column:subtype" json:"subtype,omitempty"`
	Quantity             float64         `gorm:"column:quantity" json:"quantity"`
	Unit                 string          `gorm:"column:unit" json:"unit,omitempty"`
	Status               string          `gorm:"column:status" json:"status,omitempty"`
	Year                 int             `gorm:"column:year" json:"year,omitempty"`
	CreatedAt            time.Time       `gorm:"column:created_at" json:"createdAt"`
}

func (Measurement) TableName() string { return "green_assessment_measurements" }

// expiration derives the expiration date from the issue date and the
// assessment's validity. It is nil when either is missing.
func expiration(issue *time.Time, validityDays int) *time.Time {
	if issue == nil || validityDays <= 0 {
		return nil
	}
	exp := issue.AddDate(0, 0, validityDays)
	return &exp
}

// snapshot renders p for the audit log.
func (p *AssessmentProperty) snapshot() map[string]any {
	m := map[string]any{
		"id":           p.ID,
		"viewId":       p.ViewID,
		"assessmentId": p.AssessmentID,
		"revision":     p.Revision,
	}
	if p.ReferenceID != "" {
		m["referenceId"] = p.ReferenceID
	}
	if p.Source != "" {
		m["source"] = p.Source
	}
	if p.Status != "" {
		m["status"] = p.Status
	}
	if p.StatusDate != nil {
		m["statusDate"] = p.StatusDate.Format(dateLayout)
	}
	if p.Metric != nil {
		m["metric"] = *p.Metric
	}
	if p.Rating != "" {
		m["rating"] = p.Rating
	}
	if p.Version != "" {
		m["version"] = p.Version
	}
	if p.IssueDate != nil {
		m["date"] = p.IssueDate.Format(dateLayout)
	}
	if p.TargetDate != nil {
		m["targetDate"] = p.TargetDate.Format(dateLayout)
	}
	if p.Eligibility != nil {
		m["eligibility"] = *p.Eligibility
	}
	if p.ExpirationDate != nil {
		m["expirationDate"] = p.ExpirationDate.Format(dateLayout)
	}
	if p.PreviousVersionID != "" {
		m["previousVersionId"] = p.PreviousVersionID
	}
	return m
}
