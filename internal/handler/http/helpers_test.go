package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/repository"
	"github.com/articurated/orderflow/internal/service"
	"github.com/articurated/orderflow/pkg/health"
	"github.com/articurated/orderflow/pkg/middleware"
)

const testAPIKey = "test-api-key"

// Path IDs must be well-formed UUIDs; the handlers reject anything else
// before the service layer sees it.
const (
	testOrderID  = "5f0c3954-0fbf-4a43-8d4a-0d0f8b3f1a11"
	testReturnID = "9b2b6a1e-6f0e-4f5b-9c3a-2f1d7a8e4c22"
	missingID    = "1dc7a1e2-94b1-4c9a-b3e7-000000000404"
)

// --- Mock Repositories ---

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
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]domain.Order), args.Int(1), args.Error(2)
}

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
	return m.Called(ctx, id, trackingNumber, carrier, metadata).Error(0)
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

// --- No-op collaborators ---

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *domain.Order) error           { return nil }
func (noopPublisher) PublishReturnCreated(context.Context, *domain.ReturnRequest) error  { return nil }
func (noopPublisher) PublishStateChanged(context.Context, *domain.StateHistory) error    { return nil }
func (noopPublisher) PublishInvoiceRequested(context.Context, *domain.Order) error       { return nil }
func (noopPublisher) PublishRefundRequested(context.Context, *domain.ReturnRequest) error { return nil }

type noopHooks struct{}

func (noopHooks) OrderStateChanged(*domain.Order, *domain.StateHistory)          {}
func (noopHooks) ReturnStateChanged(*domain.ReturnRequest, *domain.StateHistory) {}

// --- Router Setup ---

type testEnv struct {
	orders  *mockOrderRepository
	returns *mockReturnRepository
	history *mockHistoryRepository
	router  http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv() *testEnv {
	env := &testEnv{
		orders:  new(mockOrderRepository),
		returns: new(mockReturnRepository),
		history: new(mockHistoryRepository),
	}

	logger := testLogger()
	orderSvc := service.NewOrderService(env.orders, env.history, noopPublisher{}, noopHooks{},
		service.Pricing{TaxRateBPS: service.DefaultTaxRateBPS, ShippingFlat: service.DefaultShippingFlat}, logger)
	returnSvc := service.NewReturnService(env.returns, env.orders, env.history, noopPublisher{}, noopHooks{}, logger)

	env.router = NewRouter(orderSvc, returnSvc, health.NewHandler(), RouterConfig{
		APIKey: testAPIKey,
		CORS:   middleware.DefaultCORSConfig(),
	}, logger)

	return env
}

func newBody(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}

// doRequest performs an authenticated JSON request against the test router.
func (env *testEnv) doRequest(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	req.RemoteAddr = "192.0.2.10:52814"

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the "data" field of the standard response envelope.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// decodeError unmarshals the "error" field of the standard response envelope.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	return envelope.Error
}
