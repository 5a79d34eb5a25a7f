package worker

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/payment"
	"github.com/articurated/orderflow/internal/repository"
	pkgkafka "github.com/articurated/orderflow/pkg/kafka"
)

type mockOrderRepository struct {
	mock.Mock
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order, history *domain.StateHistory) error {
	return m.Called(ctx, order, history).Error(0)
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
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

func (m *mockOrderRepository) Transition(ctx context.Context, id string, apply repository.OrderApplyFunc) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	return m.Called(ctx, id, trackingNumber, carrier, metadata).Error(0)
}

func (m *mockOrderRepository) MarkInvoiceGenerated(ctx context.Context, id, invoiceNumber string) (bool, error) {
	args := m.Called(ctx, id, invoiceNumber)
	return args.Bool(0), args.Error(1)
}

type mockReturnRepository struct {
	mock.Mock
}

func (m *mockReturnRepository) Create(ctx context.Context, ret *domain.ReturnRequest, history *domain.StateHistory) error {
	return m.Called(ctx, ret, history).Error(0)
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
	return args.Get(0).([]domain.ReturnRequest), args.Int(1), args.Error(2)
}

func (m *mockReturnRepository) Transition(ctx context.Context, id string, apply repository.ReturnApplyFunc) (*domain.ReturnRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReturnRequest), args.Error(1)
}

func (m *mockReturnRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	return m.Called(ctx, id, trackingNumber, carrier, metadata).Error(0)
}

func (m *mockReturnRepository) RecordRefund(ctx context.Context, id, transactionID string) (bool, error) {
	args := m.Called(ctx, id, transactionID)
	return args.Bool(0), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.RefundResult), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func mustEvent(t *testing.T, topic, aggregateID, aggregateType string, data any) *pkgkafka.Event {
	t.Helper()
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, "orderflow", data)
	require.NoError(t, err)
	return evt
}
