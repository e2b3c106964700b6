package assessment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/greenbuild/autoload/pkg/auditlog"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

func TestExpiration(t *testing.T) {
	issued := time.Date(2017, 7, 10, 0, 0, 0, 0, time.UTC)
	got := expiration(&issued, 365)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2018, 7, 10, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, expiration(nil, 365))
	assert.Nil(t, expiration(&issued, 0))
}

func TestUpsertCreatesThenRevises(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := f.addBuilding(t, f.cycle.ID, "123 Test Road", "02139")
	key := BusinessKey{Address: "123 test rd"}

	first, err := f.engine.Upsert(ctx, testActor, key, Payload{
		AssessmentID: f.hes.ID,
		Source:       ptr("Assessor"),
		Metric:       ptr(10.0),
		IssueDate:    date(t, "2017-07-10"),
	})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.False(t, first.Updated)
	assert.Equal(t, view.ID, first.View.ID)
	assert.Equal(t, 1, first.Property.Revision)
	assert.True(t, first.Property.Current)
	assert.Equal(t, *date(t, "2018-07-10"), *first.Property.ExpirationDate)
	assert.True(t, first.AuditEntry.IsRoot())
	assert.Equal(t, auditlog.RecordCreate, first.AuditEntry.RecordType)
	assert.Equal(t, "alice@org-1", first.AuditEntry.Actor)

	second, err := f.engine.Upsert(ctx, testActor, key, Payload{
		AssessmentID: f.hes.ID,
		Metric:       ptr(11.0),
		IssueDate:    date(t, "2017-07-19"),
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.True(t, second.Updated)
	assert.Equal(t, 2, second.Property.Revision)
	assert.Equal(t, first.Property.ID, second.Property.PreviousVersionID)
	assert.Equal(t, "Assessor", second.Property.Source, "fields missing from the payload carry over")
	assert.Equal(t, 11.0, *second.Property.Metric)
	assert.Equal(t, *date(t, "2018-07-19"), *second.Property.ExpirationDate)
	assert.Equal(t, first.AuditEntry.ID, second.AuditEntry.ParentID)
	assert.Equal(t, first.AuditEntry.ID, second.AuditEntry.AncestorID)
	assert.Equal(t, []string{FieldDate, FieldMetric}, []string(second.AuditEntry.ChangedFields))

	prior, err := f.store.GetProperty(ctx, testActor.Organization, first.Property.ID)
	require.NoError(t, err)
	assert.False(t, prior.Current)
	assert.NotNil(t, prior.SupersededAt)

	current, err := f.engine.Current(ctx, testActor, Filter{Metric: ptr(11.0)})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, second.Property.ID, current[0].ID)

	current, err = f.engine.Current(ctx, testActor, Filter{Metric: ptr(10.0)})
	require.NoError(t, err)
	assert.Empty(t, current, "superseded versions are not current")
}

func TestUpsertEntityNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "1 Main Street", "")

	_, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "2 Main Street"}, Payload{AssessmentID: f.hes.ID, Metric: ptr(5.0)})
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.Zero(t, f.count(t, &AssessmentProperty{}))
}

func TestUpsertAmbiguousWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	next, err := f.recs.CreateCycle(ctx, testActor.Organization, "2017",
		time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2017, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	a := f.addBuilding(t, f.cycle.ID, "9 Elm Street", "")
	b := f.addBuilding(t, next.ID, "9 Elm St", "")

	_, err = f.engine.Upsert(ctx, testActor, BusinessKey{Address: "9 elm street"}, Payload{
		AssessmentID: f.hes.ID,
		Metric:       ptr(7.0),
		URLs:         []string{"https://example.com/report.pdf"},
	})
	var ambiguous *AmbiguousEntityError
	require.ErrorAs(t, err, &ambiguous)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ambiguous.ViewIDs)

	assert.Zero(t, f.count(t, &AssessmentProperty{}))
	assert.Zero(t, f.count(t, &AssessmentURL{}))
	assert.Zero(t, f.count(t, &auditlog.Entry{}))

	// Narrowing by cycle resolves it.
	res, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "9 elm street", CycleID: next.ID}, Payload{AssessmentID: f.hes.ID, Metric: ptr(7.0)})
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.View.ID)
}

func TestUpsertValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "5 Oak Road", "")
	key := BusinessKey{Address: "5 Oak Road"}

	tests := []struct {
		name  string
		actor tenancy.Actor
		key   BusinessKey
		p     Payload
		field string
	}{
		{name: "missing user", actor: tenancy.Actor{Organization: "org-1"}, key: key, p: Payload{AssessmentID: f.hes.ID}, field: "actor"},
		{name: "missing assessment", actor: testActor, key: key, p: Payload{}, field: FieldAssessment},
		{name: "unknown assessment", actor: testActor, key: key, p: Payload{AssessmentID: "nope"}, field: FieldAssessment},
		{name: "other organization's assessment", actor: tenancy.Actor{Organization: "org-2", User: "bob"}, key: key, p: Payload{AssessmentID: f.hes.ID}, field: FieldAssessment},
		{name: "fractional integer score", actor: testActor, key: key, p: Payload{AssessmentID: f.hes.ID, Metric: ptr(7.5)}, field: FieldMetric},
		{name: "rating on numeric score", actor: testActor, key: key, p: Payload{AssessmentID: f.hes.ID, Rating: ptr("Gold")}, field: FieldRating},
		{name: "blank address", actor: testActor, key: BusinessKey{Address: "  "}, p: Payload{AssessmentID: f.hes.ID}, field: "address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Upsert(ctx, tt.actor, tt.key, tt.p)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Zero(t, f.count(t, &AssessmentProperty{}))
}

func TestUpsertReferenceIDsAreSeparateLineages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "7 Pine Road", "")
	key := BusinessKey{Address: "7 Pine Road"}

	a, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, ReferenceID: ptr("A"), Metric: ptr(3.0)})
	require.NoError(t, err)
	b, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, ReferenceID: ptr("B"), Metric: ptr(4.0)})
	require.NoError(t, err)
	assert.True(t, a.Created)
	assert.True(t, b.Created)
	assert.NotEqual(t, a.AuditEntry.AncestorID, b.AuditEntry.AncestorID)

	revised, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, ReferenceID: ptr("A"), Metric: ptr(5.0)})
	require.NoError(t, err)
	assert.True(t, revised.Updated)
	assert.Equal(t, a.Property.ID, revised.Property.PreviousVersionID)

	current, err := f.engine.Current(ctx, testActor, Filter{AssessmentID: f.hes.ID})
	require.NoError(t, err)
	assert.Len(t, current, 2)
}

func TestUpsertRevisesLatestIssueDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "11 Birch Road", "")
	key := BusinessKey{Address: "11 Birch Road"}

	res, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(6.0), IssueDate: date(t, "2017-01-01")})
	require.NoError(t, err)

	// A payload without a date keeps the prior issue date and expiration.
	next, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Status: ptr("Verified")})
	require.NoError(t, err)
	assert.Equal(t, res.Property.IssueDate, next.Property.IssueDate)
	assert.Equal(t, *date(t, "2018-01-01"), *next.Property.ExpirationDate)
	assert.Equal(t, 6.0, *next.Property.Metric)
	assert.Equal(t, "Verified", next.Property.Status)
}

func TestAttachURLsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "3 Cedar Road", "")

	res, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "3 Cedar Road"}, Payload{
		AssessmentID: f.hes.ID,
		Metric:       ptr(8.0),
		URLs:         []string{"https://example.com/a.pdf", "  "},
	})
	require.NoError(t, err)
	require.Len(t, res.URLs, 1)

	again, err := f.engine.AttachURLs(ctx, testActor, res.Property.ID, []string{" https://example.com/a.pdf ", "https://example.com/b.pdf"})
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, res.URLs[0].ID, again[0].ID)

	urls, err := f.store.ListURLs(ctx, res.Property.ID)
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	_, err = f.engine.AttachURLs(ctx, tenancy.Actor{Organization: "org-2", User: "bob"}, res.Property.ID, []string{"https://x"})
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestHistoryIsSingleRootLineage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "21 Maple Street", "")
	key := BusinessKey{Address: "21 Maple Street"}

	var results []*UpsertResult
	for _, metric := range []float64{4, 5, 6} {
		res, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(metric)})
		require.NoError(t, err)
		results = append(results, res)
	}

	// Any version of the lineage yields the whole history.
	history, err := f.engine.History(ctx, testActor, results[0].Property.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	root := results[0].AuditEntry.ID
	var gotIDs, wantIDs []string
	for i, rev := range history {
		want := results[len(results)-1-i]
		wantIDs = append(wantIDs, want.AuditEntry.ID)
		gotIDs = append(gotIDs, rev.Entry.ID)
		assert.Equal(t, root, rev.Entry.AncestorID)
		require.NotNil(t, rev.Property)
		assert.Equal(t, want.Property.ID, rev.Property.ID)
	}
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Errorf("history order mismatch (-want +got):\n%s", diff)
	}

	roots := 0
	for _, rev := range history {
		if rev.Entry.IsRoot() {
			roots++
		}
	}
	assert.Equal(t, 1, roots)

	newest := history[0].Property
	want := *results[2].Property
	if diff := cmp.Diff(want, *newest, cmpopts.IgnoreFields(AssessmentProperty{}, "CreatedAt", "SupersededAt")); diff != "" {
		t.Errorf("newest revision mismatch (-want +got):\n%s", diff)
	}
}

func TestExportEntriesNeverParentRevisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "8 Spruce Road", "")
	key := BusinessKey{Address: "8 Spruce Road"}

	first, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(2.0)})
	require.NoError(t, err)

	export, err := f.engine.RecordExport(ctx, testActor, first.Property.ID, "BuildingSync")
	require.NoError(t, err)
	assert.Equal(t, auditlog.RecordExport, export.RecordType)
	assert.Equal(t, first.AuditEntry.ID, export.ParentID)

	second, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(3.0)})
	require.NoError(t, err)
	assert.Equal(t, first.AuditEntry.ID, second.AuditEntry.ParentID)

	history, err := f.engine.History(ctx, testActor, second.Property.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, rev := range history {
		assert.NotEqual(t, auditlog.RecordExport, rev.Entry.RecordType)
	}

	_, err = f.engine.RecordExport(ctx, testActor, first.Property.ID, " ")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = f.engine.RecordExport(ctx, testActor, "missing", "RESO")
	assert.ErrorIs(t, err, ErrPropertyNotFound)
}

func TestConcurrentRevisionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "4 Walnut Road", "")
	key := BusinessKey{Address: "4 Walnut Road"}

	first, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(1.0)})
	require.NoError(t, err)

	// Another writer advances the head after this revision read it.
	f.engine.testHookBeforeWrite = func(tx *gorm.DB) {
		require.NoError(t, tx.Model(&RevisionHead{}).Where("1 = 1").
			Update("version", gorm.Expr("version + 1")).Error)
	}
	_, err = f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(2.0)})
	assert.ErrorIs(t, err, ErrConcurrentRevision)
	f.engine.testHookBeforeWrite = nil

	current, err := f.engine.Current(ctx, testActor, Filter{})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, first.Property.ID, current[0].ID)
	assert.Equal(t, int64(1), f.count(t, &auditlog.Entry{}))

	retried, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: ptr(2.0)})
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Property.Revision)
}

func TestUpsertExtractsMeasurements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addBuilding(t, f.cycle.ID, "6 Ash Road", "")

	res, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "6 Ash Road"}, Payload{
		AssessmentID: f.hes.ID,
		Metric:       ptr(9.0),
		Measurements: map[string]string{
			"Electricity Consumption":              "1,200 kWh (Estimated)",
			"PV Capacity":                          "5.2 kW in 2016",
			"Electric and Natural Gas Consumption": "40",
			"Notes":                                "not a measurement",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Measurements)
	assert.Equal(t, 2, res.Measurements.Created)
	require.Len(t, res.Measurements.Skipped, 1)
	assert.ErrorIs(t, res.Measurements.Skipped[0].Reason, ErrAmbiguousFuel)

	rows, err := f.store.ListMeasurements(ctx, res.Property.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, KindCapacity, rows[0].Kind)
	assert.Equal(t, "Electricity", rows[0].Fuel)
	assert.Equal(t, SubtypePV, rows[0].Subtype)
	assert.Equal(t, 2016, rows[0].Year)
	assert.Equal(t, KindConsumption, rows[1].Kind)
	assert.Equal(t, 1200.0, rows[1].Quantity)
	assert.Equal(t, "Estimated", rows[1].Status)
}

func TestLatestPicksNewestIssueDate(t *testing.T) {
	d1 := time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	rows := []AssessmentProperty{
		{ID: "undated", Revision: 9, CreatedAt: now},
		{ID: "old", IssueDate: &d1, Revision: 3, CreatedAt: now},
		{ID: "new-low", IssueDate: &d2, Revision: 1, CreatedAt: now},
		{ID: "new-high", IssueDate: &d2, Revision: 2, CreatedAt: now.Add(-time.Hour)},
	}
	assert.Equal(t, "new-high", latest(rows).ID)

	undated := []AssessmentProperty{
		{ID: "a", Revision: 1, CreatedAt: now},
		{ID: "b", Revision: 1, CreatedAt: now.Add(time.Second)},
	}
	assert.Equal(t, "b", latest(undated).ID)
}

func TestUpsertRequiresImportedView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	view := f.addBuilding(t, f.cycle.ID, "10 Fir Street", "94103")

	_, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "10 Fir Street", PostalCode: "94104"}, Payload{AssessmentID: f.hes.ID})
	assert.True(t, errors.Is(err, ErrEntityNotFound))

	res, err := f.engine.Upsert(ctx, testActor, BusinessKey{Address: "10 Fir Street", PostalCode: "94103"}, Payload{AssessmentID: f.hes.ID})
	require.NoError(t, err)
	assert.Equal(t, view.ID, res.View.ID)
	assert.Nil(t, res.Property.ExpirationDate)
}
