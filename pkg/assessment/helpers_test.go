package assessment

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/greenbuild/autoload/pkg/auditlog"
	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/tenancy"
)

var testActor = tenancy.Actor{Organization: "org-1", User: "alice"}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, records.NewStore(db).AutoMigrate())
	require.NoError(t, auditlog.NewStore(db).AutoMigrate())
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

type fixture struct {
	db     *gorm.DB
	engine *Engine
	store  *Store
	recs   *records.Store
	cycle  *records.Cycle
	hes    *GreenAssessment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := setupTestDB(t)
	f := &fixture{db: db, engine: NewEngine(db, nil, nil), store: NewStore(db), recs: records.NewStore(db)}

	var err error
	f.cycle, err = f.recs.CreateCycle(ctx, testActor.Organization, "2016",
		time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2016, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	f.hes = &GreenAssessment{
		OrganizationID: testActor.Organization,
		Name:           "Home Energy Score",
		AwardBody:      "Department of Energy",
		IsNumericScore: true,
		IsIntegerScore: true,
		ValidityDays:   365,
	}
	require.NoError(t, f.store.CreateAssessmentType(ctx, f.hes))
	return f
}

// addBuilding creates a matched state and its view in cycleID.
func (f *fixture) addBuilding(t *testing.T, cycleID, address, zip string) *records.PropertyView {
	t.Helper()
	ctx := context.Background()
	states := []records.PropertyState{{
		OrganizationID:       testActor.Organization,
		CycleID:              cycleID,
		DataState:            records.DataStateMatched,
		MergeState:           records.MergeStateNew,
		AddressLine1:         address,
		PostalCode:           zip,
		NormalizedAddress:    records.NormalizeAddress(address),
		NormalizedPostalCode: records.NormalizePostalCode(zip),
	}}
	require.NoError(t, f.recs.CreatePropertyStates(ctx, states))
	view, err := f.recs.CreatePropertyWithView(ctx, &states[0])
	require.NoError(t, err)
	return view
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func ptr[T any](v T) *T { return &v }

func date(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return &d
}
