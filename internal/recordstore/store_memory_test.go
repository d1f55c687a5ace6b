package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"medigate/pkg/domain"
	"medigate/pkg/platform/sentinel"
)

// RecordStoreSuite exercises the storage contract every backend must honor:
// merge never drops entries, overwrite preserves CreatedAt, missing keys are
// a sentinel rather than an error surprise.
type RecordStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func (s *RecordStoreSuite) SetupTest() {
	s.store = NewInMemory()
}

func TestRecordStoreSuite(t *testing.T) {
	suite.Run(t, new(RecordStoreSuite))
}

func sampleAggregate(subject string, checkups int) HealthRecordAggregate {
	record := HealthRecordAggregate{
		SubjectID:   domain.SubjectID(subject),
		DisplayName: "홍길동",
		ProviderID:  domain.ProviderID("H1"),
		SourceTag:   "provider-collect",
	}
	for i := 0; i < checkups; i++ {
		record.CheckupEntries = append(record.CheckupEntries, CheckupEntry{
			Date: "2025-01-0" + string(rune('1'+i)), Kind: "general",
		})
	}
	return record
}

func (s *RecordStoreSuite) TestGet() {
	s.Run("returns ErrNotFound for a missing subject", func() {
		_, err := s.store.Get(context.Background(), "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns the stored aggregate", func() {
		_, err := s.store.Upsert(context.Background(), sampleAggregate("U1", 1), WriteModeOverwrite)
		s.Require().NoError(err)

		got, err := s.store.Get(context.Background(), "U1")
		s.Require().NoError(err)
		s.Equal(domain.SubjectID("U1"), got.SubjectID)
		s.Len(got.CheckupEntries, 1)
		s.False(got.CreatedAt.IsZero())
	})
}

func (s *RecordStoreSuite) TestUpsertMerge() {
	s.Run("merge appends entries without dropping existing ones", func() {
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
	})

	s.Run("repeated identical merges duplicate entries", func() {
		// The store does not deduplicate by content; the completion latch
		// upstream is what keeps this from happening per attempt.
		ctx := context.Background()
		_, err := s.store.Upsert(ctx, sampleAggregate("U2", 2), WriteModeMerge)
		s.Require().NoError(err)
		_, err = s.store.Upsert(ctx, sampleAggregate("U2", 2), WriteModeMerge)
		s.Require().NoError(err)

		got, err := s.store.Get(ctx, "U2")
		s.Require().NoError(err)
		s.Len(got.CheckupEntries, 4)
	})
}

func (s *RecordStoreSuite) TestUpsertOverwrite() {
	s.Run("overwrite replaces entries and preserves CreatedAt", func() {
		ctx := context.Background()
		s.store.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
		_, err := s.store.Upsert(ctx, sampleAggregate("U1", 4), WriteModeOverwrite)
		s.Require().NoError(err)

		s.store.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
		_, err = s.store.Upsert(ctx, sampleAggregate("U1", 1), WriteModeOverwrite)
		s.Require().NoError(err)

		got, err := s.store.Get(ctx, "U1")
		s.Require().NoError(err)
		s.Len(got.CheckupEntries, 1)
		s.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got.CreatedAt)
		s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), got.UpdatedAt)
	})

	s.Run("repeated identical overwrites converge", func() {
		ctx := context.Background()
		_, err := s.store.Upsert(ctx, sampleAggregate("U3", 2), WriteModeOverwrite)
		s.Require().NoError(err)
		_, err = s.store.Upsert(ctx, sampleAggregate("U3", 2), WriteModeOverwrite)
		s.Require().NoError(err)

		got, err := s.store.Get(ctx, "U3")
		s.Require().NoError(err)
		s.Len(got.CheckupEntries, 2)
	})
}

func (s *RecordStoreSuite) TestDeleteAndList() {
	s.Run("delete removes the aggregate", func() {
		ctx := context.Background()
		_, err := s.store.Upsert(ctx, sampleAggregate("U1", 1), WriteModeOverwrite)
		s.Require().NoError(err)

		s.Require().NoError(s.store.Delete(ctx, "U1"))

		_, err = s.store.Get(ctx, "U1")
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})

	s.Run("delete of a missing subject is a no-op", func() {
		s.Require().NoError(s.store.Delete(context.Background(), "missing"))
	})

	s.Run("list returns every aggregate ordered by subject", func() {
		ctx := context.Background()
		for _, subject := range []string{"U2", "U1", "U3"} {
			_, err := s.store.Upsert(ctx, sampleAggregate(subject, 1), WriteModeOverwrite)
			s.Require().NoError(err)
		}

		all, err := s.store.ListAll(ctx)
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		s.Equal(domain.SubjectID("U1"), all[0].SubjectID)
		s.Equal(domain.SubjectID("U3"), all[2].SubjectID)
	})
}
