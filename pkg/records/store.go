package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist in the caller's
// organization.
var ErrNotFound = errors.New("record not found")

// Store provides database operations for import records and property views.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// AutoMigrate creates or updates the record tables.
func (s *Store) AutoMigrate() error {
	for _, m := range []any{
		&Cycle{}, &ImportRecord{}, &ImportFile{},
		&PropertyState{}, &Property{}, &PropertyView{},
	} {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", m, err)
		}
	}
	return nil
}

// CreateCycle inserts a cycle for the organization.
func (s *Store) CreateCycle(ctx context.Context, orgID, name string, start, end time.Time) (*Cycle, error) {
	c := &Cycle{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		Start:          start,
		End:            end,
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}
	return c, nil
}

// GetCycle loads a cycle owned by the organization.
func (s *Store) GetCycle(ctx context.Context, orgID, id string) (*Cycle, error) {
	var c Cycle
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("cycle %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return &c, nil
}

// ListCycles returns the organization's cycles, newest start first.
func (s *Store) ListCycles(ctx context.Context, orgID string) ([]Cycle, error) {
	var cycles []Cycle
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).
		Order("start_date DESC").Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	return cycles, nil
}

// CreateImportRecord inserts the dataset for one import run.
func (s *Store) CreateImportRecord(ctx context.Context, orgID, ownerID, name string) (*ImportRecord, error) {
	rec := &ImportRecord{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		OwnerID:        ownerID,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create import record: %w", err)
	}
	return rec, nil
}

// CreateImportFile inserts an import file in status new.
func (s *Store) CreateImportFile(ctx context.Context, f *ImportFile) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = StatusNew
	}
	if f.SourceType == "" {
		f.SourceType = SourceTypeAssessedRaw
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create import file: %w", err)
	}
	return nil
}

// GetImportFile loads an import file by id regardless of organization.
// Callers compare OrganizationID themselves.
func (s *Store) GetImportFile(ctx context.Context, id string) (*ImportFile, error) {
	var f ImportFile
	if err := s.db.WithContext(ctx).First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("import file %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get import file: %w", err)
	}
	return &f, nil
}

// TransitionImportFile moves an import file from one status to the next.
// The update is conditional on the current status so that concurrent or
// out-of-order transitions fail with ErrInvalidTransition.
func (s *Store) TransitionImportFile(ctx context.Context, id string, from, to ImportStatus) error {
	if !CanTransition(from, to) {
		return invalidTransition(from, to)
	}
	result := s.db.WithContext(ctx).Model(&ImportFile{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("transition import file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		f, err := s.GetImportFile(ctx, id)
		if err != nil {
			return err
		}
		return invalidTransition(f.Status, to)
	}
	return nil
}

// MarkImportFileFailed moves a non-terminal import file to failed and records
// which stage failed and why.
func (s *Store) MarkImportFileFailed(ctx context.Context, id, stage, message string) error {
	result := s.db.WithContext(ctx).Model(&ImportFile{}).
		Where("id = ? AND status NOT IN ?", id, []ImportStatus{StatusMatched, StatusFailed}).
		Updates(map[string]any{
			"status":       StatusFailed,
			"failed_stage": stage,
			"last_error":   message,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("mark import file failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		f, err := s.GetImportFile(ctx, id)
		if err != nil {
			return err
		}
		return invalidTransition(f.Status, StatusFailed)
	}
	return nil
}

// SetCachedMappings stores the column mappings the map task will apply.
func (s *Store) SetCachedMappings(ctx context.Context, id string, mappings []ColumnMapping) error {
	result := s.db.WithContext(ctx).Model(&ImportFile{}).Where("id = ?", id).
		Updates(map[string]any{
			"cached_column_mappings": datatypes.JSONSlice[ColumnMapping](mappings),
			"updated_at":             time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("cache column mappings: %w", result.Error)
	}
	return nil
}

// RowCounts names one of the per-stage row counters on ImportFile.
type RowCounts string

const (
	RawRows     RowCounts = "raw_rows"
	MappedRows  RowCounts = "mapped_rows"
	MatchedRows RowCounts = "matched_rows"
)

// SetRowCount records how many rows a stage processed.
func (s *Store) SetRowCount(ctx context.Context, id string, counter RowCounts, n int) error {
	result := s.db.WithContext(ctx).Model(&ImportFile{}).Where("id = ?", id).
		Updates(map[string]any{string(counter): n, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("set %s: %w", counter, result.Error)
	}
	return nil
}

// CreatePropertyStates inserts states in batches, assigning ids.
func (s *Store) CreatePropertyStates(ctx context.Context, states []PropertyState) error {
	if len(states) == 0 {
		return nil
	}
	for i := range states {
		if states[i].ID == "" {
			states[i].ID = uuid.New().String()
		}
		if states[i].MergeState == "" {
			states[i].MergeState = MergeStateUnknown
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(&states, 200).Error; err != nil {
		return fmt.Errorf("create property states: %w", err)
	}
	return nil
}

// ListPropertyStates returns an import file's states in the given data state,
// in source row order.
func (s *Store) ListPropertyStates(ctx context.Context, importFileID string, state DataState) ([]PropertyState, error) {
	var states []PropertyState
	if err := s.db.WithContext(ctx).
		Where("import_file_id = ? AND data_state = ?", importFileID, state).
		Order("source_row ASC").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("list property states: %w", err)
	}
	return states, nil
}

// GetPropertyState loads a state owned by the organization.
func (s *Store) GetPropertyState(ctx context.Context, orgID, id string) (*PropertyState, error) {
	var st PropertyState
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("property state %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get property state: %w", err)
	}
	return &st, nil
}

// SavePropertyState writes every column of an existing state.
func (s *Store) SavePropertyState(ctx context.Context, st *PropertyState) error {
	if err := s.db.WithContext(ctx).Save(st).Error; err != nil {
		return fmt.Errorf("save property state: %w", err)
	}
	return nil
}

// GetView loads a property view owned by the organization.
func (s *Store) GetView(ctx context.Context, orgID, id string) (*PropertyView, error) {
	var v PropertyView
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("property view %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get property view: %w", err)
	}
	return &v, nil
}

// BusinessKey identifies a building by address. PostalCode and CycleID narrow
// the lookup when set.
type BusinessKey struct {
	Address    string
	PostalCode string
	CycleID    string
}

// FindViewsByBusinessKey returns the organization's views whose current state
// has the same normalized address (and postal code and cycle when the key
// carries them). An empty address matches nothing.
func (s *Store) FindViewsByBusinessKey(ctx context.Context, orgID string, key BusinessKey) ([]PropertyView, error) {
	addr := NormalizeAddress(key.Address)
	if addr == "" {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Model(&PropertyView{}).
		Joins("JOIN property_states ON property_states.id = property_views.state_id").
		Where("property_views.organization_id = ? AND property_states.normalized_address = ?", orgID, addr)
	if pc := NormalizePostalCode(key.PostalCode); pc != "" {
		q = q.Where("property_states.normalized_postal_code = ?", pc)
	}
	if key.CycleID != "" {
		q = q.Where("property_views.cycle_id = ?", key.CycleID)
	}

	var views []PropertyView
	if err := q.Order("property_views.id ASC").Find(&views).Error; err != nil {
		return nil, fmt.Errorf("find views by business key: %w", err)
	}
	return views, nil
}

// CreatePropertyWithView creates a new cross-cycle property and its view in
// the state's cycle, pointing at the state.
func (s *Store) CreatePropertyWithView(ctx context.Context, st *PropertyState) (*PropertyView, error) {
	var view *PropertyView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := &Property{ID: uuid.New().String(), OrganizationID: st.OrganizationID}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create property: %w", err)
		}
		view = &PropertyView{
			ID:             uuid.New().String(),
			OrganizationID: st.OrganizationID,
			PropertyID:     p.ID,
			CycleID:        st.CycleID,
			StateID:        st.ID,
		}
		if err := tx.Create(view).Error; err != nil {
			return fmt.Errorf("create property view: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RepointView makes stateID the view's current state.
func (s *Store) RepointView(ctx context.Context, viewID, stateID string) error {
	result := s.db.WithContext(ctx).Model(&PropertyView{}).Where("id = ?", viewID).
		Updates(map[string]any{"state_id": stateID, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("repoint property view: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("property view %s: %w", viewID, ErrNotFound)
	}
	return nil
}

// Transaction runs fn with a Store bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(*Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// DeletePropertyStates removes an import file's states in the given data
// state. Retried raw saves use it to start from a clean slate.
func (s *Store) DeletePropertyStates(ctx context.Context, importFileID string, state DataState) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("import_file_id = ? AND data_state = ?", importFileID, state).
		Delete(&PropertyState{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete property states: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountPropertyStates counts an import file's states in the given data state.
func (s *Store) CountPropertyStates(ctx context.Context, importFileID string, state DataState) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&PropertyState{}).
		Where("import_file_id = ? AND data_state = ?", importFileID, state).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count property states: %w", err)
	}
	return int(n), nil
}
