package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"expedients/internal/eventbus"
	"expedients/internal/expedient/models"
	"expedients/internal/expedient/service/mocks"
	"expedients/internal/expedient/store"
	dErrors "expedients/pkg/domain-errors"
	"expedients/pkg/platform/sentinel"
)

// =============================================================================
// Unit suite (mocked store and publisher)
// =============================================================================

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	service   *Service
	now       time.Time
	ctx       context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	var err error
	s.service, err = New(s.store, s.publisher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
		WithIDGenerator(func() string { return "exp-1" }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) existing() *models.Expedient {
	e, err := models.NewExpedient("exp-1", "Title", "Description", s.now.Add(-time.Hour))
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.publisher)
		s.ErrorContains(err, "expedient store is required")
	})

	s.Run("nil publisher returns error", func() {
		_, err := New(s.store, nil)
		s.ErrorContains(err, "event publisher is required")
	})
}

func (s *ServiceSuite) TestCreate() {
	s.Run("persists and publishes the snapshot", func() {
		s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), eventbus.ExpedientCreated, gomock.Any()).
			Do(func(_ context.Context, _ string, payload any) {
				snap := payload.(models.Snapshot)
				s.Equal("exp-1", snap.ID)
			})

		snap, err := s.service.Create(s.ctx, CreateInput{Title: "T", Description: "D"})
		s.Require().NoError(err)
		s.Equal(models.StatusCreated, snap.Status)
		s.False(snap.Completed)
		s.Equal(snap.CreatedAt, snap.UpdatedAt)
	})

	s.Run("empty fields fail before save or publish", func() {
		_, err := s.service.Create(s.ctx, CreateInput{Title: "", Description: "D"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("store failure is internal and publishes nothing", func() {
		s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

		_, err := s.service.Create(s.ctx, CreateInput{Title: "T", Description: "D"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestGet() {
	s.Run("unknown id is not found", func() {
		s.store.EXPECT().FindByID(gomock.Any(), "missing").Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Get(s.ctx, "missing")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("returns snapshot without publishing", func() {
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(s.existing(), nil)

		snap, err := s.service.Get(s.ctx, "exp-1")
		s.Require().NoError(err)
		s.Equal("Title", snap.Title)
	})
}

func (s *ServiceSuite) TestUpdate() {
	s.Run("unknown id is not found and publishes nothing", func() {
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(nil, sentinel.ErrNotFound)

		title := "X"
		_, err := s.service.Update(s.ctx, UpdateInput{ID: "exp-1", Title: &title})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("applies fields and refreshes updatedAt", func() {
		before := s.existing()
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(before.Clone(), nil)
		s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), eventbus.ExpedientUpdated, gomock.Any())

		title := "X"
		snap, err := s.service.Update(s.ctx, UpdateInput{ID: "exp-1", Title: &title})
		s.Require().NoError(err)
		s.Equal("X", snap.Title)
		s.Equal(before.Description, snap.Description)
		s.Equal(before.CreatedAt, snap.CreatedAt)
		s.True(snap.UpdatedAt.After(before.UpdatedAt))
	})
}

func (s *ServiceSuite) TestUncompleteNotCompleted() {
	s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(s.existing(), nil)

	_, err := s.service.Uncomplete(s.ctx, "exp-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func (s *ServiceSuite) TestDelete() {
	s.Run("publishes the pre-deletion snapshot", func() {
		e := s.existing()
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(e, nil)
		s.store.EXPECT().Delete(gomock.Any(), "exp-1").Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), eventbus.ExpedientDeleted, e.Snapshot())

		s.Require().NoError(s.service.Delete(s.ctx, "exp-1"))
	})

	s.Run("unknown id is not found", func() {
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(nil, sentinel.ErrNotFound)

		err := s.service.Delete(s.ctx, "exp-1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestApplyPayment() {
	s.Run("success publishes expedient.payment.success", func() {
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(s.existing(), nil)
		s.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)
		s.publisher.EXPECT().Publish(gomock.Any(), eventbus.ExpedientPaymentSucceeded, gomock.Any())

		snap, err := s.service.ApplyPaymentSuccess(s.ctx, "exp-1")
		s.Require().NoError(err)
		s.Equal(models.StatusPaymentSuccess, snap.Status)
	})

	s.Run("failure after success is an invariant violation", func() {
		paid := s.existing()
		s.Require().NoError(paid.Pay(s.now))
		s.store.EXPECT().FindByID(gomock.Any(), "exp-1").Return(paid, nil)

		_, err := s.service.ApplyPaymentFailure(s.ctx, "exp-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

// =============================================================================
// In-memory store + real bus
// =============================================================================

type capture struct {
	mu     sync.Mutex
	events []string
}

func (c *capture) handle(_ context.Context, evt eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt.Name)
	return nil
}

func (c *capture) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == name {
			n++
		}
	}
	return n
}

func newWiredService(t *testing.T) (*Service, *eventbus.Bus, *capture) {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	c := &capture{}
	for _, name := range []string{
		eventbus.ExpedientCreated, eventbus.ExpedientUpdated, eventbus.ExpedientDeleted,
		eventbus.ExpedientPaymentSucceeded,
	} {
		bus.Subscribe(name, "capture", c.handle)
	}

	svc, err := New(store.NewInMemory(), bus)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, bus, c
}

func flush(t *testing.T, bus *eventbus.Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	svc, bus, c := newWiredService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateInput{Title: "T", Description: "D"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !dErrors.HasCode(err, dErrors.CodeNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	flush(t, bus)
	if n := c.count(eventbus.ExpedientDeleted); n != 1 {
		t.Fatalf("expected exactly one delete event, got %d", n)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	svc, _, _ := newWiredService(t)
	ctx := context.Background()

	created, _ := svc.Create(ctx, CreateInput{Title: "T", Description: "D"})
	first, err := svc.Complete(ctx, created.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := svc.Complete(ctx, created.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if !first.Completed || !second.Completed {
		t.Fatal("expected completed after both calls")
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatal("updatedAt must increase on every mutation")
	}

	undone, err := svc.Uncomplete(ctx, created.ID)
	if err != nil || undone.Completed {
		t.Fatalf("uncomplete after complete: %+v %v", undone, err)
	}
}

// Concurrent use cases on the same id must not lose each other's writes.
func TestConcurrentMutationsDoNotLoseUpdates(t *testing.T) {
	svc, bus, c := newWiredService(t)
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	for i := range n {
		snap, err := svc.Create(ctx, CreateInput{Title: fmt.Sprintf("T%d", i), Description: "D"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids[i] = snap.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Complete(ctx, id)
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.ApplyPaymentSuccess(ctx, id)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		snap, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !snap.Completed || snap.Status != models.StatusPaymentSuccess {
			t.Fatalf("lost update on %s: %+v", id, snap)
		}
	}

	flush(t, bus)
	if got := c.count(eventbus.ExpedientPaymentSucceeded); got != n {
		t.Fatalf("expected %d payment events, got %d", n, got)
	}
}

func TestListKeepsInsertionOrder(t *testing.T) {
	svc, _, _ := newWiredService(t)
	ctx := context.Background()

	var want []string
	for i := range 5 {
		snap, _ := svc.Create(ctx, CreateInput{Title: fmt.Sprintf("T%d", i), Description: "D"})
		want = append(want, snap.ID)
	}
	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, snap := range all {
		if snap.ID != want[i] {
			t.Fatalf("position %d: want %s got %s", i, want[i], snap.ID)
		}
	}
}
