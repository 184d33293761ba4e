package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

type RepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo Repository
}

func (s *RepositoryTestSuite) SetupTest() {
	s.db = setupTestDB(s.T())
	s.repo = NewRepository(s.db)
}

func (s *RepositoryTestSuite) TestAppendAssignsTimestamp() {
	entry := &Entry{Kind: KindCashProcessed, Amount: 1000, Accepted: true}
	require.NoError(s.T(), s.repo.Append(context.Background(), entry))

	s.NotZero(entry.ID)
	s.False(entry.CreatedAt.IsZero())
}

func (s *RepositoryTestSuite) TestRecentOrdersNewestFirst() {
	ctx := context.Background()
	first := &Entry{Kind: KindCoinReceived, Amount: 20, Accepted: true, CreatedAt: time.Now().Add(-time.Minute)}
	second := &Entry{Kind: KindCoinReceived, Amount: 50, Accepted: true, CreatedAt: time.Now()}

	require.NoError(s.T(), s.repo.Append(ctx, first))
	require.NoError(s.T(), s.repo.Append(ctx, second))

	entries, err := s.repo.Recent(ctx, 10)
	require.NoError(s.T(), err)
	s.Require().Len(entries, 2)
	s.Equal(second.ID, entries[0].ID)
	s.Equal(first.ID, entries[1].ID)
}

func (s *RepositoryTestSuite) TestSumOnlyCountsAcceptedWithinWindow() {
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	require.NoError(s.T(), s.repo.Append(ctx, &Entry{Kind: KindCashProcessed, Amount: 1000, Accepted: true}))
	require.NoError(s.T(), s.repo.Append(ctx, &Entry{Kind: KindCashProcessed, Amount: 5000, Accepted: false}))
	require.NoError(s.T(), s.repo.Append(ctx, &Entry{Kind: KindCoinReceived, Amount: 20, Accepted: true}))

	total, err := s.repo.Sum(ctx, KindCashProcessed, since)
	require.NoError(s.T(), err)
	s.Equal(1000, total)
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositoryTestSuite))
}
