package service

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/repository"
	apperrors "github.com/articurated/orderflow/pkg/errors"
)

// --- Mock Repositories ---

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order, history *domain.StateHistory) error {
	args := m.Called(ctx, order, history)
	return args.Error(0)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

// Transition runs apply against the seeded order, the way the real repository
// runs it against the row-locked state. An apply error aborts with nothing
// persisted.
func (m *mockOrderRepository) Transition(ctx context.Context, id string, apply repository.OrderApplyFunc) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	order := args.Get(0).(*domain.Order)
	if _, err := apply(order); err != nil {
		return nil, err
	}
	return order, args.Error(1)
}

func (m *mockOrderRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	args := m.Called(ctx, id, trackingNumber, carrier, metadata)
	return args.Error(0)
}

func (m *mockOrderRepository) MarkInvoiceGenerated(ctx context.Context, id, invoiceNumber string) (bool, error) {
	args := m.Called(ctx, id, invoiceNumber)
	return args.Bool(0), args.Error(1)
}

// lockedOrderRepo serializes Transition callers on a mutex the way the
// Postgres repository serializes them on SELECT ... FOR UPDATE: each apply
// closure observes the state the previous caller committed.
type lockedOrderRepo struct {
	mockOrderRepository
	mu    sync.Mutex
	order *domain.Order
}

func (r *lockedOrderRepo) Transition(_ context.Context, id string, apply repository.OrderApplyFunc) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order == nil || r.order.ID != id {
		return nil, apperrors.NotFound("order", id)
	}
	if _, err := apply(r.order); err != nil {
		return nil, err
	}
	committed := *r.order
	return &committed, nil
}

type mockReturnRepository struct {
	mock.Mock
}

func (m *mockReturnRepository) Create(ctx context.Context, ret *domain.ReturnRequest, history *domain.StateHistory) error {
	args := m.Called(ctx, ret, history)
	return args.Error(0)
}

func (m *mockReturnRepository) GetByID(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReturnRequest), args.Error(1)
}

func (m *mockReturnRepository) List(ctx context.Context, filter repository.ReturnFilter) ([]domain.ReturnRequest, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]domain.ReturnRequest), args.Int(1), args.Error(2)
}

func (m *mockReturnRepository) Transition(ctx context.Context, id string, apply repository.ReturnApplyFunc) (*domain.ReturnRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	ret := args.Get(0).(*domain.ReturnRequest)
	if _, err := apply(ret); err != nil {
		return nil, err
	}
	return ret, args.Error(1)
}

func (m *mockReturnRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	args := m.Called(ctx, id, trackingNumber, carrier, metadata)
	return args.Error(0)
}

func (m *mockReturnRepository) RecordRefund(ctx context.Context, id, transactionID string) (bool, error) {
	args := m.Called(ctx, id, transactionID)
	return args.Bool(0), args.Error(1)
}

type mockHistoryRepository struct {
	mock.Mock
}

func (m *mockHistoryRepository) ListBySubject(ctx context.Context, subject domain.Subject) ([]domain.StateHistory, error) {
	args := m.Called(ctx, subject)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StateHistory), args.Error(1)
}

// --- Mock Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockPublisher) PublishReturnCreated(ctx context.Context, ret *domain.ReturnRequest) error {
	args := m.Called(ctx, ret)
	return args.Error(0)
}

func (m *mockPublisher) PublishStateChanged(ctx context.Context, rec *domain.StateHistory) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockPublisher) PublishInvoiceRequested(ctx context.Context, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockPublisher) PublishRefundRequested(ctx context.Context, ret *domain.ReturnRequest) error {
	args := m.Called(ctx, ret)
	return args.Error(0)
}

// --- Recording Hooks ---

// recordingHooks captures post-commit hook invocations synchronously so tests
// can assert them without racing goroutines.
type recordingHooks struct {
	mu            sync.Mutex
	orderChanges  []*domain.StateHistory
	returnChanges []*domain.StateHistory
}

func (h *recordingHooks) OrderStateChanged(_ *domain.Order, rec *domain.StateHistory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.orderChanges = append(h.orderChanges, rec)
}

func (h *recordingHooks) ReturnStateChanged(_ *domain.ReturnRequest, rec *domain.StateHistory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.returnChanges = append(h.returnChanges, rec)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string {
	return &s
}
