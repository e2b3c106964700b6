//go:build integration

package assessment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/greenbuild/autoload/pkg/auditlog"
	"github.com/greenbuild/autoload/pkg/records"
)

func setupPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("autoload"),
		postgres.WithUsername("autoload"),
		postgres.WithPassword("autoload"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := records.Open(&records.DatabaseConfig{Driver: "postgres", DSN: dsn, LogLevel: "silent"})
	require.NoError(t, err)

	require.NoError(t, records.NewStore(db).AutoMigrate())
	require.NoError(t, auditlog.NewStore(db).AutoMigrate())
	require.NoError(t, NewStore(db).AutoMigrate())
	return db
}

func TestConcurrentUpsertsPostgres(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	f := &fixture{db: db, engine: NewEngine(db, nil, nil), store: NewStore(db), recs: records.NewStore(db)}

	cycle, err := f.recs.CreateCycle(ctx, testActor.Organization, "2017", *date(t, "2017-01-01"), *date(t, "2017-12-31"))
	require.NoError(t, err)
	f.cycle = cycle
	f.hes = &GreenAssessment{OrganizationID: testActor.Organization, Name: "Home Energy Score", IsNumericScore: true, ValidityDays: 365}
	require.NoError(t, f.store.CreateAssessmentType(ctx, f.hes))
	f.addBuilding(t, cycle.ID, "123 Test Road", "")
	key := BusinessKey{Address: "123 Test Road"}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(metric float64) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				_, err := f.engine.Upsert(ctx, testActor, key, Payload{AssessmentID: f.hes.ID, Metric: &metric})
				if errors.Is(err, ErrConcurrentRevision) {
					continue
				}
				errs <- err
				return
			}
			errs <- fmt.Errorf("writer %v gave up", metric)
		}(float64(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	current, err := f.engine.Current(ctx, testActor, Filter{AssessmentID: f.hes.ID})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, writers, current[0].Revision)

	history, err := f.engine.History(ctx, testActor, current[0].ID)
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, rev := range history {
		require.NotNil(t, rev.Property)
		assert.Equal(t, writers-i, rev.Property.Revision)
	}
}
