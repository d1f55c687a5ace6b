//go:build integration

package recordstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"medigate/pkg/testutil/containers"
)

// RedisStoreIntegrationSuite runs the storage contract against a real redis.
// miniredis covers the fast path; this catches client/server encoding drift.
type RedisStoreIntegrationSuite struct {
	suite.Suite
	rd    *containers.RedisContainer
	store *RedisStore
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.rd = containers.NewRedisContainer(s.T())
	s.store = NewRedis(s.rd.Client)
}

func (s *RedisStoreIntegrationSuite) TearDownSuite() {
	_ = s.rd.Client.Close()
	_ = s.rd.Container.Terminate(context.Background())
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.rd.FlushAll(context.Background()))
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) TestMergeRoundTrip() {
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

func (s *RedisStoreIntegrationSuite) TestOverwriteKeepsCreatedAt() {
	ctx := context.Background()

	_, err := s.store.Upsert(ctx, sampleAggregate("U1", 2), WriteModeOverwrite)
	s.Require().NoError(err)

	before, err := s.store.Get(ctx, "U1")
	s.Require().NoError(err)

	_, err = s.store.Upsert(ctx, sampleAggregate("U1", 1), WriteModeOverwrite)
	s.Require().NoError(err)

	after, err := s.store.Get(ctx, "U1")
	s.Require().NoError(err)
	s.Len(after.CheckupEntries, 1)
	s.Equal(before.CreatedAt.UTC(), after.CreatedAt.UTC())
}
