package auditlog

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no matching entry exists.
	ErrNotFound = errors.New("audit entry not found")
	// ErrBrokenChain is returned when a parent pointer leads nowhere, leaves
	// the lineage or loops.
	ErrBrokenChain = errors.New("broken audit lineage")
	// ErrInvalidEntry is returned by Append for malformed entries.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Store provides append-only operations on audit entries.
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

// AutoMigrate creates or updates the audit log table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("auto-migrate assessment_audit_log: %w", err)
	}
	return nil
}

// Root builds the first entry of a new lineage.
func Root(orgID, subjectID, actor string, fields []string, snapshot map[string]any) *Entry {
	id := uuid.New().String()
	return &Entry{
		ID:             id,
		OrganizationID: orgID,
		SubjectID:      subjectID,
		RecordType:     RecordCreate,
		ChangedFields:  fields,
		Snapshot:       snapshot,
		AncestorID:     id,
		Actor:          actor,
	}
}

// Next builds an entry that continues prior's lineage.
func Next(prior *Entry, recordType RecordType, subjectID, actor string, fields []string, snapshot map[string]any) *Entry {
	return &Entry{
		ID:             uuid.New().String(),
		OrganizationID: prior.OrganizationID,
		SubjectID:      subjectID,
		RecordType:     recordType,
		ChangedFields:  fields,
		Snapshot:       snapshot,
		AncestorID:     prior.AncestorID,
		ParentID:       prior.ID,
		Actor:          actor,
	}
}

// Append stores a new immutable entry. Entries with a parent must share the
// parent's ancestor.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if !e.RecordType.Valid() {
		return fmt.Errorf("%w: record type %q", ErrInvalidEntry, e.RecordType)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidEntry)
	}
	switch {
	case e.ParentID == "":
		if e.AncestorID == "" {
			e.AncestorID = e.ID
		}
		if e.AncestorID != e.ID {
			return fmt.Errorf("%w: root entry must be its own ancestor", ErrInvalidEntry)
		}
	default:
		parent, err := s.Get(ctx, e.ParentID)
		if err != nil {
			return fmt.Errorf("load parent entry: %w", err)
		}
		if parent.AncestorID != e.AncestorID {
			return fmt.Errorf("%w: ancestor %s does not match parent's %s", ErrInvalidEntry, e.AncestorID, parent.AncestorID)
		}
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Get loads one entry.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	if err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get audit entry: %w", err)
	}
	return &e, nil
}

// Latest returns the newest entry for subjectID, skipping export entries.
func (s *Store) Latest(ctx context.Context, subjectID string) (*Entry, error) {
	var e Entry
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND record_type <> ?", subjectID, RecordExport).
		Order("created_at DESC").Order("id DESC").
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("latest entry for %s: %w", subjectID, ErrNotFound)
		}
		return nil, fmt.Errorf("get latest audit entry: %w", err)
	}
	return &e, nil
}

// ListBySubject returns every entry about subjectID, exports included,
// oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).
		Order("created_at ASC").Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// Lineage returns every entry sharing ancestorID, in no particular order.
func (s *Store) Lineage(ctx context.Context, ancestorID string) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Where("ancestor_id = ?", ancestorID).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list lineage: %w", err)
	}
	return entries, nil
}

// Chain follows parent pointers from the entry fromID back to the root of
// its lineage and returns the entries newest first. The whole lineage is
// read with one query.
func (s *Store) Chain(ctx context.Context, fromID string) ([]Entry, error) {
	start, err := s.Get(ctx, fromID)
	if err != nil {
		return nil, err
	}
	lineage, err := s.Lineage(ctx, start.AncestorID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Entry, len(lineage))
	for _, e := range lineage {
		byID[e.ID] = e
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	chain := make([]Entry, 0, len(lineage))
	cur := *start
	for {
		if !seen.Add(cur.ID) {
			return nil, fmt.Errorf("%w: cycle at %s", ErrBrokenChain, cur.ID)
		}
		chain = append(chain, cur)
		if cur.ParentID == "" {
			break
		}
		parent, ok := byID[cur.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: parent %s of %s is not in lineage %s", ErrBrokenChain, cur.ParentID, cur.ID, start.AncestorID)
		}
		cur = parent
	}
	if cur.ID != start.AncestorID {
		return nil, fmt.Errorf("%w: chain ends at %s, not at ancestor %s", ErrBrokenChain, cur.ID, start.AncestorID)
	}
	return chain, nil
}
