package assessment

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/greenbuild/autoload/pkg/auditlog"
	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

// BusinessKey identifies the property view an assessment attaches to.
type BusinessKey = records.BusinessKey

// UpsertResult reports what Upsert did.
type UpsertResult struct {
	Created      bool                  `json:"created"`
	Updated      bool                  `json:"updated"`
	Property     *AssessmentProperty   `json:"property"`
	View         *records.PropertyView `json:"view"`
	AuditEntry   *auditlog.Entry       `json:"auditEntry"`
	URLs         []AssessmentURL       `json:"urls,omitempty"`
	Measurements *ExtractResult        `json:"measurements,omitempty"`
}

// Revision is one step of an assessment's history.
type Revision struct {
	Entry    auditlog.Entry      `json:"entry"`
	Property *AssessmentProperty `json:"property"`
}

// Engine creates and revises assessment properties.
type Engine struct {
	db        *gorm.DB
	extractor *Extractor
	logger    *slog.Logger
	now       func() time.Time

	// testHookBeforeWrite runs after a revision has read its prior state.
	testHookBeforeWrite func(tx *gorm.DB)
}

// NewEngine creates an Engine. A nil extractor uses header inspection only.
func NewEngine(db *gorm.DB, extractor *Extractor, logger *slog.Logger) *Engine {
	if extractor == nil {
		extractor = NewExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, extractor: extractor, logger: logger, now: time.Now}
}

// Store returns the engine's assessment store.
func (e *Engine) Store() *Store { return NewStore(e.db) }

// Upsert attaches the payload to the property view matching key. With no
// current version for (view, assessment, reference id) it creates one;
// otherwise it appends a revision of the latest version that keeps every
// field the payload does not set. All writes run in one transaction and
// nothing is written unless exactly one view matches.
func (e *Engine) Upsert(ctx context.Context, actor tenancy.Actor, key BusinessKey, p Payload) (*UpsertResult, error) {
	if err := actor.Validate(); err != nil {
		return nil, invalid("actor", "%v", err)
	}
	p.AssessmentID = strings.TrimSpace(p.AssessmentID)
	if p.AssessmentID == "" {
		return nil, invalid(FieldAssessment, "is required")
	}

	var res *UpsertResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = e.upsert(ctx, tx, actor, key, &p)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("assessment upserted",
		"actor", actor.String(),
		"assessmentPropertyId", res.Property.ID,
		"viewId", res.View.ID,
		"revision", res.Property.Revision,
		"created", res.Created)
	return res, nil
}

func (e *Engine) upsert(ctx context.Context, tx *gorm.DB, actor tenancy.Actor, key BusinessKey, p *Payload) (*UpsertResult, error) {
	store := NewStore(tx)
	typ, err := store.GetAssessmentType(ctx, actor.Organization, p.AssessmentID)
	if errors.Is(err, ErrAssessmentNotFound) {
		return nil, invalid(FieldAssessment, "assessment %s not found", p.AssessmentID)
	}
	if err != nil {
		return nil, err
	}
	if err := p.validate(typ); err != nil {
		return nil, err
	}

	view, err := resolveView(ctx, records.NewStore(tx), actor.Organization, key)
	if err != nil {
		return nil, err
	}

	priors, err := store.currentRows(ctx, actor.Organization, view.ID, typ.ID, p.ReferenceID)
	if err != nil {
		return nil, err
	}

	res := &UpsertResult{View: view}
	if len(priors) == 0 {
		res.Property, res.AuditEntry, err = e.create(ctx, tx, actor, typ, view, p)
		res.Created = true
	} else {
		res.Property, res.AuditEntry, err = e.revise(ctx, tx, actor, typ, latest(priors), p)
		res.Updated = true
	}
	if err != nil {
		return nil, err
	}

	if res.URLs, err = attachAll(ctx, store, res.Property, p.URLs); err != nil {
		return nil, err
	}

	if len(p.Measurements) > 0 {
		headers := make([]string, 0, len(p.Measurements))
		for h := range p.Measurements {
			headers = append(headers, h)
		}
		slices.Sort(headers)
		values := make([]string, len(headers))
		for i, h := range headers {
			values[i] = p.Measurements[h]
		}
		extracted, err := e.extractor.Extract(ctx, tx, actor, headers, values, res.Property.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range extracted.Skipped {
			e.logger.Warn("measurement skipped", "header", s.Header, "reason", s.Reason)
		}
		res.Measurements = &extracted
	}
	return res, nil
}

// resolveView finds the single view matching key.
func resolveView(ctx context.Context, recs *records.Store, orgID string, key BusinessKey) (*records.PropertyView, error) {
	if strings.TrimSpace(key.Address) == "" {
		return nil, invalid("address", "is required")
	}
	views, err := recs.FindViewsByBusinessKey(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	switch len(views) {
	case 0:
		return nil, fmt.Errorf("address %q: %w", key.Address, ErrEntityNotFound)
	case 1:
		return &views[0], nil
	}
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return nil, &AmbiguousEntityError{Key: key, ViewIDs: ids}
}

func (e *Engine) create(ctx context.Context, tx *gorm.DB, actor tenancy.Actor, typ *GreenAssessment, view *records.PropertyView, p *Payload) (*AssessmentProperty, *auditlog.Entry, error) {
	store := NewStore(tx)
	prop := &AssessmentProperty{
		ID:             uuid.New().String(),
		OrganizationID: actor.Organization,
		ViewID:         view.ID,
		AssessmentID:   typ.ID,
		Revision:       1,
		Current:        true,
		CreatedAt:      e.now(),
	}
	p.apply(prop)
	prop.ExpirationDate = expiration(prop.IssueDate, typ.ValidityDays)

	if _, err := store.createHead(ctx, prop); err != nil {
		return nil, nil, err
	}
	if err := store.insertProperty(ctx, prop); err != nil {
		return nil, nil, err
	}

	entry := auditlog.Root(actor.Organization, prop.ID, actor.String(), p.Fields(), prop.snapshot())
	entry.Description = "created " + typ.Name
	if err := auditlog.NewStore(tx).Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	return prop, entry, nil
}

func (e *Engine) revise(ctx context.Context, tx *gorm.DB, actor tenancy.Actor, typ *GreenAssessment, prior *AssessmentProperty, p *Payload) (*AssessmentProperty, *auditlog.Entry, error) {
	store := NewStore(tx)
	audit := auditlog.NewStore(tx)

	head, err := store.getHead(ctx, prior.ViewID, prior.AssessmentID, prior.ReferenceID)
	if err != nil {
		return nil, nil, err
	}
	if head == nil {
		return nil, nil, fmt.Errorf("no revision head for assessment property %s", prior.ID)
	}
	if head.PropertyID != prior.ID {
		return nil, nil, fmt.Errorf("head points at %s, not %s: %w", head.PropertyID, prior.ID, ErrConcurrentRevision)
	}
	priorEntry, err := audit.Latest(ctx, prior.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find prior audit entry: %w", err)
	}
	if e.testHookBeforeWrite != nil {
		e.testHookBeforeWrite(tx)
	}

	now := e.now()
	next := *prior
	next.ID = uuid.New().String()
	next.PreviousVersionID = prior.ID
	next.Revision = prior.Revision + 1
	next.Current = true
	next.SupersededAt = nil
	next.CreatedAt = now
	p.apply(&next)
	next.ExpirationDate = expiration(next.IssueDate, typ.ValidityDays)

	if err := store.advanceHead(ctx, head, next.ID); err != nil {
		return nil, nil, err
	}
	if err := store.supersede(ctx, prior.ID, now); err != nil {
		return nil, nil, err
	}
	if err := store.insertProperty(ctx, &next); err != nil {
		return nil, nil, err
	}

	entry := auditlog.Next(priorEntry, auditlog.RecordUpdate, next.ID, actor.String(), p.Fields(), next.snapshot())
	entry.Description = fmt.Sprintf("revised %s to revision %d", typ.Name, next.Revision)
	if err := audit.Append(ctx, entry); err != nil {
		return nil, nil, err
	}
	return &next, entry, nil
}

// latest picks the version with the latest issue date. Versions without an
// issue date are the oldest; ties go to the higher revision, then to the
// later insert.
func latest(rows []AssessmentProperty) *AssessmentProperty {
	best := &rows[0]
	for i := 1; i < len(rows); i++ {
		if compareVersions(&rows[i], best) > 0 {
			best = &rows[i]
		}
	}
	return best
}

func compareVersions(a, b *AssessmentProperty) int {
	switch {
	case a.IssueDate == nil && b.IssueDate != nil:
		return -1
	case a.IssueDate != nil && b.IssueDate == nil:
		return 1
	case a.IssueDate != nil && !a.IssueDate.Equal(*b.IssueDate):
		return a.IssueDate.Compare(*b.IssueDate)
	}
	if c := cmp.Compare(a.Revision, b.Revision); c != 0 {
		return c
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

// AttachURLs links urls to an assessment property. Blank urls are ignored
// and existing links are reused.
func (e *Engine) AttachURLs(ctx context.Context, actor tenancy.Actor, propertyID string, urls []string) ([]AssessmentURL, error) {
	var out []AssessmentURL
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := NewStore(tx)
		prop, err := store.GetProperty(ctx, actor.Organization, propertyID)
		if err != nil {
			return err
		}
		out, err = attachAll(ctx, store, prop, urls)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func attachAll(ctx context.Context, store *Store, prop *AssessmentProperty, urls []string) ([]AssessmentURL, error) {
	var out []AssessmentURL
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		row, _, err := store.attachURL(ctx, prop.OrganizationID, prop.ID, u)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// History returns the lineage of the assessment that propertyID is a
// version of, newest first. Superseded versions are only reachable here.
func (e *Engine) History(ctx context.Context, actor tenancy.Actor, propertyID string) ([]Revision, error) {
	store := NewStore(e.db)
	audit := auditlog.NewStore(e.db)

	prop, err := store.GetProperty(ctx, actor.Organization, propertyID)
	if err != nil {
		return nil, err
	}
	newest := prop.ID
	head, err := store.getHead(ctx, prop.ViewID, prop.AssessmentID, prop.ReferenceID)
	if err != nil {
		return nil, err
	}
	if head != nil {
		newest = head.PropertyID
	}

	entry, err := audit.Latest(ctx, newest)
	if err != nil {
		return nil, fmt.Errorf("find newest audit entry: %w", err)
	}
	chain, err := audit.Chain(ctx, entry.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(chain))
	for i, c := range chain {
		ids[i] = c.SubjectID
	}
	props, err := store.propertiesByID(ctx, actor.Organization, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Revision, len(chain))
	for i, c := range chain {
		out[i].Entry = c
		if p, ok := props[c.SubjectID]; ok {
			out[i].Property = &p
		}
	}
	return out, nil
}

// RecordExport logs that an assessment property was exported to target.
// Export entries extend the lineage but are never the parent of a revision.
func (e *Engine) RecordExport(ctx context.Context, actor tenancy.Actor, propertyID, target string) (*auditlog.Entry, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, invalid("target", "is required")
	}
	var entry *auditlog.Entry
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prop, err := NewStore(tx).GetProperty(ctx, actor.Organization, propertyID)
		if err != nil {
			return err
		}
		audit := auditlog.NewStore(tx)
		prior, err := audit.Latest(ctx, prop.ID)
		if err != nil {
			return fmt.Errorf("find prior audit entry: %w", err)
		}
		entry = auditlog.Next(prior, auditlog.RecordExport, prop.ID, actor.String(), nil, prop.snapshot())
		entry.Description = "exported to " + target
		return audit.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("assessment exported", "actor", actor.String(), "assessmentPropertyId", propertyID, "target", target)
	return entry, nil
}

// Current returns the actor's current assessment properties matching f.
func (e *Engine) Current(ctx context.Context, actor tenancy.Actor, f Filter) ([]AssessmentProperty, error) {
	return NewStore(e.db).Current(ctx, actor.Organization, f)
}
