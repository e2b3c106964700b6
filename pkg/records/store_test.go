package records

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

func newTestFile(t *testing.T, s *Store, orgID string) (*Cycle, *ImportFile) {
	t.Helper()
	ctx := context.Background()
	cycle, err := s.CreateCycle(ctx, orgID, "2017", time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2017, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	rec, err := s.CreateImportRecord(ctx, orgID, "alice", "autoload")
	require.NoError(t, err)
	f := &ImportFile{ImportRecordID: rec.ID, CycleID: cycle.ID, OrganizationID: orgID, UploadedFilename: "autoload.csv"}
	require.NoError(t, s.CreateImportFile(ctx, f))
	return cycle, f
}

func TestCreateImportFileDefaults(t *testing.T) {
	s := NewStore(setupTestDB(t))
	_, f := newTestFile(t, s, "org-1")

	got, err := s.GetImportFile(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, got.Status)
	assert.Equal(t, SourceTypeAssessedRaw, got.SourceType)
}

func TestGetCycleScopedToOrganization(t *testing.T) {
	s := NewStore(setupTestDB(t))
	cycle, _ := newTestFile(t, s, "org-1")

	_, err := s.GetCycle(context.Background(), "org-2", cycle.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetCycle(context.Background(), "org-1", cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, "2017", got.Name)
}

func TestTransitionImportFile(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	_, f := newTestFile(t, s, "org-1")

	require.NoError(t, s.TransitionImportFile(ctx, f.ID, StatusNew, StatusRawSubmitted))

	// Replaying the same step fails: the file is no longer in new.
	err := s.TransitionImportFile(ctx, f.ID, StatusNew, StatusRawSubmitted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Skipping a step is rejected before touching the database.
	err = s.TransitionImportFile(ctx, f.ID, StatusRawSubmitted, StatusMappingSubmitted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.GetImportFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRawSubmitted, got.Status)
}

func TestTransitionImportFile_Missing(t *testing.T) {
	s := NewStore(setupTestDB(t))
	err := s.TransitionImportFile(context.Background(), "nope", StatusNew, StatusRawSubmitted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkImportFileFailed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	_, f := newTestFile(t, s, "org-1")

	require.NoError(t, s.MarkImportFileFailed(ctx, f.ID, "raw_save", "boom"))
	got, err := s.GetImportFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "raw_save", got.FailedStage)
	assert.Equal(t, "boom", got.LastError)

	// Terminal files stay as they are.
	assert.ErrorIs(t, s.MarkImportFileFailed(ctx, f.ID, "match", "again"), ErrInvalidTransition)
}

func TestCachedMappingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	_, f := newTestFile(t, s, "org-1")

	mappings := []ColumnMapping{
		{FromField: "Address", ToField: "address_line_1", ToTableName: "PropertyState"},
		{FromField: "Score", ToField: "energy_score", ToTableName: "PropertyState"},
	}
	require.NoError(t, s.SetCachedMappings(ctx, f.ID, mappings))

	got, err := s.GetImportFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, mappings, []ColumnMapping(got.CachedColumnMappings))
}

func TestListPropertyStatesOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	cycle, f := newTestFile(t, s, "org-1")

	states := []PropertyState{
		{OrganizationID: "org-1", ImportFileID: f.ID, CycleID: cycle.ID, DataState: DataStateRaw, RowNumber: 2},
		{OrganizationID: "org-1", ImportFileID: f.ID, CycleID: cycle.ID, DataState: DataStateRaw, RowNumber: 1},
		{OrganizationID: "org-1", ImportFileID: f.ID, CycleID: cycle.ID, DataState: DataStateMapped, RowNumber: 3},
	}
	require.NoError(t, s.CreatePropertyStates(ctx, states))

	raw, err := s.ListPropertyStates(ctx, f.ID, DataStateRaw)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, 1, raw[0].RowNumber)
	assert.Equal(t, 2, raw[1].RowNumber)
	assert.Equal(t, MergeStateUnknown, raw[0].MergeState)
}

func createMatchedState(t *testing.T, s *Store, orgID, cycleID, addr, postal string) *PropertyView {
	t.Helper()
	st := PropertyState{
		OrganizationID:       orgID,
		CycleID:              cycleID,
		DataState:            DataStateMatched,
		AddressLine1:         addr,
		PostalCode:           postal,
		NormalizedAddress:    NormalizeAddress(addr),
		NormalizedPostalCode: NormalizePostalCode(postal),
	}
	states := []PropertyState{st}
	require.NoError(t, s.CreatePropertyStates(context.Background(), states))
	view, err := s.CreatePropertyWithView(context.Background(), &states[0])
	require.NoError(t, err)
	return view
}

func TestFindViewsByBusinessKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	c1, _ := newTestFile(t, s, "org-1")
	c2, _ := newTestFile(t, s, "org-1")
	cOther, _ := newTestFile(t, s, "org-2")

	v1 := createMatchedState(t, s, "org-1", c1.ID, "123 Test Road", "80401")
	v2 := createMatchedState(t, s, "org-1", c2.ID, "123 TEST RD.", "80401")
	createMatchedState(t, s, "org-2", cOther.ID, "123 Test Road", "80401")

	views, err := s.FindViewsByBusinessKey(ctx, "org-1", BusinessKey{Address: "123 test road"})
	require.NoError(t, err)
	assert.Len(t, views, 2)

	views, err = s.FindViewsByBusinessKey(ctx, "org-1", BusinessKey{Address: "123 test road", CycleID: c2.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, v2.ID, views[0].ID)

	views, err = s.FindViewsByBusinessKey(ctx, "org-1", BusinessKey{Address: "123 Test Road", PostalCode: "99999"})
	require.NoError(t, err)
	assert.Empty(t, views)

	views, err = s.FindViewsByBusinessKey(ctx, "org-1", BusinessKey{Address: "123 Test Road", PostalCode: "80401", CycleID: c1.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, v1.ID, views[0].ID)

	views, err = s.FindViewsByBusinessKey(ctx, "org-1", BusinessKey{Address: "  "})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestRepointView(t *testing.T) {
	ctx := context.Background()
	s := NewStore(setupTestDB(t))
	c1, _ := newTestFile(t, s, "org-1")
	v := createMatchedState(t, s, "org-1", c1.ID, "1 Main St", "")

	require.NoError(t, s.RepointView(ctx, v.ID, "state-2"))
	got, err := s.GetView(ctx, "org-1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, "state-2", got.StateID)

	assert.ErrorIs(t, s.RepointView(ctx, "missing", "x"), ErrNotFound)
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestGetCycle_DatabaseError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cycles"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := NewStore(db).GetCycle(context.Background(), "org-1", "c1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get cycle: connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionImportFile_DatabaseError(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "import_files"`)).
		WillReturnError(errors.New("deadlock detected"))

	err := NewStore(db).TransitionImportFile(context.Background(), "f1", StatusNew, StatusRawSubmitted)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}
