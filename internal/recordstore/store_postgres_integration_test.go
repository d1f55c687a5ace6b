//go:build integration

package recordstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
	"medigate/pkg/testutil/containers"
)

// PostgresStoreIntegrationSuite runs the storage contract against a real
// postgres so the jsonb concatenation path and created_at preservation are
// covered end to end.
type PostgresStoreIntegrationSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
}

func (s *PostgresStoreIntegrationSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.Require().NoError(s.store.Migrate(context.Background()))
}

func (s *PostgresStoreIntegrationSuite) TearDownSuite() {
	_ = s.pg.DB.Close()
	_ = s.pg.Container.Terminate(context.Background())
}

func (s *PostgresStoreIntegrationSuite) SetupTest() {
	_, err := s.pg.DB.Exec(`TRUNCATE health_records`)
	s.Require().NoError(err)
}

func TestPostgresStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreIntegrationSuite))
}

func (s *PostgresStoreIntegrationSuite) TestMergeAppendsInSQL() {
	ctx := context.Background()

	result, err := s.store.Upsert(ctx, sampleAggregate("U1", 2), WriteModeMerge)
	s.Require().NoError(err)
	s.True(result.Created)

	result, err = s.store.Upsert(ctx, sampleAggregate("U1", 3), WriteModeMerge)
	s.Require().NoError(err)
	s.False(result.Created)

	got, err := s.store.Get(ctx, "U1")
	s.Require().NoError(err)
	s.Len(got.CheckupEntries, 5)
	s.True(got.UpdatedAt.After(got.CreatedAt))
}

func (s *PostgresStoreIntegrationSuite) TestOverwritePreservesCreatedAt() {
	ctx := context.Background()

	_, err := s.store.Upsert(ctx, sampleAggregate("U1", 4), WriteModeOverwrite)
	s.Require().NoError(err)
	first, err := s.store.Get(ctx, "U1")
	s.Require().NoError(err)

	_, err = s.store.Upsert(ctx, sampleAggregate("U1", 1), WriteModeOverwrite)
	s.Require().NoError(err)

	got, err := s.store.Get(ctx, "U1")
	s.Require().NoError(err)
	s.Len(got.CheckupEntries, 1)
	s.Equal(first.CreatedAt, got.CreatedAt)
}

func (s *PostgresStoreIntegrationSuite) TestNotFoundAndDelete() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, domain.SubjectID("missing"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Upsert(ctx, sampleAggregate("U1", 1), WriteModeOverwrite)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(ctx, "U1"))

	_, err = s.store.Get(ctx, "U1")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Empty(all)
}
