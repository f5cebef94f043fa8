//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"expedients/internal/expedient/models"
	"expedients/internal/expedient/store"
	"expedients/pkg/platform/sentinel"
	"expedients/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	db    *sql.DB
	store *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	pg := containers.NewPostgresContainer(s.T())
	db, err := sql.Open("pgx", pg.DSN)
	s.Require().NoError(err)
	s.db = db
	s.store = store.NewPostgres(db)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.db.Close()
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE expedients`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestUpsertKeepsCreatedAt() {
	ctx := context.Background()
	now := time.Now().UTC()
	e, err := models.NewExpedient("p-1", "Title", "Description", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(ctx, e))

	title := "Renamed"
	s.Require().NoError(e.Update(models.Changes{Title: &title}, now.Add(time.Second)))
	s.Require().NoError(s.store.Save(ctx, e))

	found, err := s.store.FindByID(ctx, "p-1")
	s.Require().NoError(err)
	s.Equal("Renamed", found.Title)
	s.True(now.Equal(found.CreatedAt))
	s.True(found.UpdatedAt.After(found.CreatedAt))
}

func (s *PostgresStoreSuite) TestFindAllOrderAndDelete() {
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range []string{"p-b", "p-a", "p-c"} {
		e, err := models.NewExpedient(id, "T", "D", now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.Save(ctx, e))
	}

	all, err := s.store.FindAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal([]string{"p-b", "p-a", "p-c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	s.Require().NoError(s.store.Delete(ctx, "p-b"))
	s.ErrorIs(s.store.Delete(ctx, "p-b"), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRunLockedRollsBackOnError() {
	ctx := context.Background()
	e, err := models.NewExpedient("p-tx", "T", "D", time.Now().UTC())
	s.Require().NoError(err)

	boom := errors.New("boom")
	err = s.store.RunLocked(ctx, "p-tx", func(ctx context.Context) error {
		s.Require().NoError(s.store.Save(ctx, e))
		_, err := s.store.FindByID(ctx, "p-tx")
		s.Require().NoError(err, "visible inside the transaction")
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindByID(ctx, "p-tx")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.store.RunLocked(ctx, "p-tx", func(ctx context.Context) error {
		return s.store.Save(ctx, e)
	}))
	_, err = s.store.FindByID(ctx, "p-tx")
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestSameInstantUpdatesStayOrdered() {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 400, time.UTC)
	e, err := models.NewExpedient("p-same", "T", "D", now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(ctx, e))

	previous := now
	for _, title := range []string{"First", "Second"} {
		found, err := s.store.FindByID(ctx, "p-same")
		s.Require().NoError(err)
		s.Require().NoError(found.Update(models.Changes{Title: &title}, now))
		s.Require().NoError(s.store.Save(ctx, found))

		stored, err := s.store.FindByID(ctx, "p-same")
		s.Require().NoError(err)
		s.True(stored.UpdatedAt.After(previous), "updatedAt %s must follow %s", stored.UpdatedAt, previous)
		previous = stored.UpdatedAt
	}
}

func (s *PostgresStoreSuite) TestRunLockedSerialisesWriters() {
	ctx := context.Background()
	e, err := models.NewExpedient("p-lock", "T", "D", time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(ctx, e))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.store.RunLocked(ctx, "p-lock", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	second := make(chan struct{})
	go func() {
		_ = s.store.RunLocked(ctx, "p-lock", func(ctx context.Context) error {
			close(second)
			return nil
		})
	}()

	select {
	case <-second:
		s.Fail("second writer entered while the row lock was held")
	case <-time.After(200 * time.Millisecond):
	}
	close(release)
	s.Require().NoError(<-done)
	select {
	case <-second:
	case <-time.After(5 * time.Second):
		s.Fail("second writer never acquired the lock")
	}
}
