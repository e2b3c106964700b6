package assessment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides database operations for assessment types, assessment
// properties and the rows hanging off them.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// AutoMigrate creates or updates the assessment tables.
func (s *Store) AutoMigrate() error {
	for _, m := range []any{&GreenAssessment{}, &AssessmentProperty{}, &RevisionHead{}, &AssessmentURL{}, &Measurement{}} {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}

// CreateAssessmentType inserts an assessment type. Name is required and
// unique per organization.
func (s *Store) CreateAssessmentType(ctx context.Context, a *GreenAssessment) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return invalid("name", "is required")
	}
	if a.OrganizationID == "" {
		return invalid("organizationId", "is required")
	}
	if a.ValidityDays < 0 {
		return invalid("validityDays", "must not be negative")
	}
	if a.IsIntegerScore && !a.IsNumericScore {
		return invalid("isIntegerScore", "requires a numeric score")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return invalid("name", "assessment %q already exists", a.Name)
		}
		return fmt.Errorf("create assessment type: %w", err)
	}
	return nil
}

// GetAssessmentType loads an assessment type of the organization.
func (s *Store) GetAssessmentType(ctx context.Context, orgID, id string) (*GreenAssessment, error) {
	var a GreenAssessment
	if err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrAssessmentNotFound)
		}
		return nil, fmt.Errorf("get assessment type: %w", err)
	}
	return &a, nil
}

// ListAssessmentTypes returns the organization's assessment types by name.
func (s *Store) ListAssessmentTypes(ctx context.Context, orgID string) ([]GreenAssessment, error) {
	var types []GreenAssessment
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("name ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("list assessment types: %w", err)
	}
	return types, nil
}

// GetProperty loads any version of an assessment property.
func (s *Store) GetProperty(ctx context.Context, orgID, id string) (*AssessmentProperty, error) {
	var p AssessmentProperty
	if err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("assessment property %s: %w", id, ErrPropertyNotFound)
		}
		return nil, fmt.Errorf("get assessment property: %w", err)
	}
	return &p, nil
}

// propertiesByID loads the given versions keyed by id.
func (s *Store) propertiesByID(ctx context.Context, orgID string, ids []string) (map[string]AssessmentProperty, error) {
	var rows []AssessmentProperty
	if err := s.db.WithContext(ctx).Where("organization_id = ? AND id IN ?", orgID, ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load assessment properties: %w", err)
	}
	out := make(map[string]AssessmentProperty, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// currentRows returns the current versions for a view and assessment,
// narrowed to one reference id when ref is set.
func (s *Store) currentRows(ctx context.Context, orgID, viewID, assessmentID string, ref *string) ([]AssessmentProperty, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ? AND view_id = ? AND assessment_id = ? AND is_current = ?",
		orgID, viewID, assessmentID, true)
	if ref != nil {
		q = q.Where("reference_id = ?", *ref)
	}
	var rows []AssessmentProperty
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find current assessment properties: %w", err)
	}
	return rows, nil
}

// Filter selects current assessment properties. Zero fields do not filter.
type Filter struct {
	ViewID       string
	AssessmentID string
	ReferenceID  string
	Metric       *float64
	IssueDate    *time.Time
}

// Current returns the organization's current assessment properties matching f.
func (s *Store) Current(ctx context.Context, orgID string, f Filter) ([]AssessmentProperty, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ? AND is_current = ?", orgID, true)
	if f.ViewID != "" {
		q = q.Where("view_id = ?", f.ViewID)
	}
	if f.AssessmentID != "" {
		q = q.Where("assessment_id = ?", f.AssessmentID)
	}
	if f.ReferenceID != "" {
		q = q.Where("reference_id = ?", f.ReferenceID)
	}
	if f.Metric != nil {
		q = q.Where("metric = ?", *f.Metric)
	}
	if f.IssueDate != nil {
		q = q.Where("issue_date = ?", *f.IssueDate)
	}
	var rows []AssessmentProperty
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query current assessment properties: %w", err)
	}
	return rows, nil
}

func (s *Store) insertProperty(ctx context.Context, p *AssessmentProperty) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create assessment property: %w", err)
	}
	return nil
}

// supersede flags the current version id as no longer current.
func (s *Store) supersede(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&AssessmentProperty{}).
		Where("id = ? AND is_current = ?", id, true).
		Updates(map[string]any{"is_current": false, "superseded_at": at})
	if result.Error != nil {
		return fmt.Errorf("supersede assessment property: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("supersede %s: %w", id, ErrConcurrentRevision)
	}
	return nil
}

func (s *Store) getHead(ctx context.Context, viewID, assessmentID, ref string) (*RevisionHead, error) {
	var h RevisionHead
	err := s.db.WithContext(ctx).
		Where("view_id = ? AND assessment_id = ? AND reference_id = ?", viewID, assessmentID, ref).
		First(&h).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get revision head: %w", err)
	}
	return &h, nil
}

// createHead starts the version counter of a new business key. Losing the
// race against another first create yields ErrConcurrentRevision.
func (s *Store) createHead(ctx context.Context, p *AssessmentProperty) (*RevisionHead, error) {
	h := &RevisionHead{
		ID:             uuid.New().String(),
		OrganizationID: p.OrganizationID,
		ViewID:         p.ViewID,
		AssessmentID:   p.AssessmentID,
		ReferenceID:    p.ReferenceID,
		PropertyID:     p.ID,
		Version:        1,
	}
	if err := s.db.WithContext(ctx).Create(h).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create revision head: %w", ErrConcurrentRevision)
		}
		return nil, fmt.Errorf("create revision head: %w", err)
	}
	return h, nil
}

// advanceHead moves the head to propertyID, provided it is still at the
// version read earlier.
func (s *Store) advanceHead(ctx context.Context, h *RevisionHead, propertyID string) error {
	result := s.db.WithContext(ctx).Model(&RevisionHead{}).
		Where("id = ? AND version = ?", h.ID, h.Version).
		Updates(map[string]any{
			"version":     gorm.Expr("version + 1"),
			"property_id": propertyID,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("advance revision head: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("head %s moved past version %d: %w", h.ID, h.Version, ErrConcurrentRevision)
	}
	h.Version++
	h.PropertyID = propertyID
	return nil
}

// attachURL links url to the assessment property unless the pair exists.
// It reports whether a row was created.
func (s *Store) attachURL(ctx context.Context, orgID, propertyID, url string) (AssessmentURL, bool, error) {
	var row AssessmentURL
	result := s.db.WithContext(ctx).
		Where("url = ? AND assessment_property_id = ?", url, propertyID).
		Limit(1).Find(&row)
	if result.Error != nil {
		return row, false, fmt.Errorf("find assessment url: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return row, false, nil
	}
	row = AssessmentURL{
		ID:                   uuid.New().String(),
		OrganizationID:       orgID,
		URL:                  url,
		AssessmentPropertyID: propertyID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return row, false, fmt.Errorf("create assessment url: %w", err)
	}
	return row, true, nil
}

// ListURLs returns the URLs attached to one assessment version.
func (s *Store) ListURLs(ctx context.Context, propertyID string) ([]AssessmentURL, error) {
	var rows []AssessmentURL
	if err := s.db.WithContext(ctx).Where("assessment_property_id = ?", propertyID).
		Order("url ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list assessment urls: %w", err)
	}
	return rows, nil
}

// fetchOrCreateMeasurement reuses the row with the same tuple as m or
// inserts m. It reports whether a row was created.
func (s *Store) fetchOrCreateMeasurement(ctx context.Context, m *Measurement) (bool, error) {
	var existing Measurement
	result := s.db.WithContext(ctx).Where(map[string]any{
		"organization_id":        m.OrganizationID,
		"assessment_property_id": m.AssessmentPropertyID,
		"kind":                   m.Kind,
		"fuel":                   m.Fuel,
		"subtype":                m.Subtype,
		"quantity":               m.Quantity,
		"unit":                   m.Unit,
		"status":                 m.Status,
		"year":                   m.Year,
	}).Limit(1).Find(&existing)
	if result.Error != nil {
		return false, fmt.Errorf("find measurement: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		*m = existing
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return false, fmt.Errorf("create measurement: %w", err)
	}
	return true, nil
}

// ListMeasurements returns the measurements of one assessment version.
func (s *Store) ListMeasurements(ctx context.Context, propertyID string) ([]Measurement, error) {
	var rows []Measurement
	if err := s.db.WithContext(ctx).Where("assessment_property_id = ?", propertyID).
		Order("kind ASC").Order("fuel ASC").Order("year ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	return rows, nil
}
