package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antinvestor/mpesa-api/service/business"
	"github.com/antinvestor/mpesa-api/service/coreapi"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/antinvestor/mpesa-api/service/repository"
	"github.com/gorilla/mux"
	"github.com/pitabwire/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockReconciler mocks the business.Reconciler interface.
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Initiate(ctx context.Context, transaction *models.Transaction) (*business.StateTransition, error) {
	args := m.Called(ctx, transaction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*business.StateTransition), args.Error(1)
}

func (m *MockReconciler) ApplyCallback(ctx context.Context, result *models.StkCallbackResult) (*business.StateTransition, error) {
	args := m.Called(ctx, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*business.StateTransition), args.Error(1)
}

func (m *MockReconciler) ApplyResult(ctx context.Context, envelope *models.ResultCallbackEnvelope) (*business.StateTransition, error) {
	args := m.Called(ctx, envelope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*business.StateTransition), args.Error(1)
}

func (m *MockReconciler) QueryStatus(ctx context.Context, transaction *models.Transaction) (bool, error) {
	args := m.Called(ctx, transaction)
	return args.Bool(0), args.Error(1)
}

func testJobServer(t *testing.T) (*JobServer, *repository.MockTransactionRepository, *MockReconciler) {
	t.Helper()

	_, service := frame.NewService("mpesa_tests")
	mockRepo := new(repository.MockTransactionRepository)
	mockReconciler := new(MockReconciler)

	return &JobServer{
		Service:         service,
		Reconciler:      mockReconciler,
		TransactionRepo: mockRepo,
	}, mockRepo, mockReconciler
}

func TestInitiateStkHandlerValidation(t *testing.T) {
	testCases := []struct {
		name string
		body map[string]any
	}{
		{name: "bad phone", body: map[string]any{"reference": "R1", "phone": "12345", "amount": 100}},
		{name: "zero amount", body: map[string]any{"reference": "R1", "phone": "0712345678", "amount": 0}},
		{name: "missing reference", body: map[string]any{"phone": "0712345678", "amount": 100}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			js, mockRepo, _ := testJobServer(t)

			payload, err := json.Marshal(tc.body)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/payments/stk", bytes.NewBuffer(payload))
			rr := httptest.NewRecorder()

			js.InitiateStkHandler(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			mockRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestInitiateStkHandlerBadBody(t *testing.T) {
	js, _, _ := testJobServer(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/stk", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()

	js.InitiateStkHandler(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTransaction(t *testing.T) {
	js, mockRepo, _ := testJobServer(t)

	transaction := &models.Transaction{
		Reference:         "ORDER-42",
		Phone:             "254712345678",
		State:             models.StateDone,
		StateMessage:      "Success",
		MpesaReceipt:      "ABC123XYZ",
		CheckoutRequestID: "ws_1",
	}
	transaction.GenID(context.Background())

	mockRepo.On("GetByID", mock.Anything, transaction.GetID()).Return(transaction, nil)

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+transaction.GetID(), nil)
	req = mux.SetURLVars(req, map[string]string{"transactionID": transaction.GetID()})
	rr := httptest.NewRecorder()

	js.GetTransaction(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	assert.Equal(t, "done", view["state"])
	assert.Equal(t, "ABC123XYZ", view["mpesa_receipt"])
	assert.Equal(t, "ws_1", view["checkout_request_id"])
}

func TestGetTransactionNotFound(t *testing.T) {
	js, mockRepo, _ := testJobServer(t)

	mockRepo.On("GetByID", mock.Anything, "missing").Return(nil, gorm.ErrRecordNotFound)

	req := httptest.NewRequest(http.MethodGet, "/transactions/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"transactionID": "missing"})
	rr := httptest.NewRecorder()

	js.GetTransaction(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestQueryTransactionStatus(t *testing.T) {
	js, mockRepo, mockReconciler := testJobServer(t)

	transaction := &models.Transaction{State: models.StatePending, CheckoutRequestID: "ws_1"}
	transaction.GenID(context.Background())

	mockRepo.On("GetByID", mock.Anything, transaction.GetID()).Return(transaction, nil)
	mockReconciler.On("QueryStatus", mock.Anything, transaction).Return(true, nil)

	req := httptest.NewRequest(http.MethodPost, "/transactions/"+transaction.GetID()+"/query", nil)
	req = mux.SetURLVars(req, map[string]string{"transactionID": transaction.GetID()})
	rr := httptest.NewRecorder()

	js.QueryTransactionStatus(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, true, response["done"])
}

func TestQueryTransactionStatusReconciliationConflict(t *testing.T) {
	js, mockRepo, mockReconciler := testJobServer(t)

	transaction := &models.Transaction{State: models.StatePending, CheckoutRequestID: "ws_1"}
	transaction.GenID(context.Background())

	mockRepo.On("GetByID", mock.Anything, transaction.GetID()).Return(transaction, nil)
	mockReconciler.On("QueryStatus", mock.Anything, transaction).
		Return(false, &business.ReconciliationError{CorrelationID: "ws_1", Matches: 0})

	req := httptest.NewRequest(http.MethodPost, "/transactions/"+transaction.GetID()+"/query", nil)
	req = mux.SetURLVars(req, map[string]string{"transactionID": transaction.GetID()})
	rr := httptest.NewRecorder()

	js.QueryTransactionStatus(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestReverseTransactionHandlerRequiresSettled(t *testing.T) {
	js, mockRepo, _ := testJobServer(t)

	transaction := &models.Transaction{State: models.StatePending, CheckoutRequestID: "ws_1"}
	transaction.GenID(context.Background())
	mockRepo.On("GetByID", mock.Anything, transaction.GetID()).Return(transaction, nil)

	req := httptest.NewRequest(http.MethodPost,
		"/transactions/"+transaction.GetID()+"/reverse", bytes.NewBufferString(`{}`))
	req = mux.SetURLVars(req, map[string]string{"transactionID": transaction.GetID()})
	rr := httptest.NewRecorder()

	js.ReverseTransactionHandler(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestReverseTransactionHandlerNotFound(t *testing.T) {
	js, mockRepo, _ := testJobServer(t)

	mockRepo.On("GetByID", mock.Anything, "missing").Return(nil, gorm.ErrRecordNotFound)

	req := httptest.NewRequest(http.MethodPost, "/transactions/missing/reverse",
		bytes.NewBufferString(`{}`))
	req = mux.SetURLVars(req, map[string]string{"transactionID": "missing"})
	rr := httptest.NewRecorder()

	js.ReverseTransactionHandler(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAccountBalanceHandler(t *testing.T) {
	js, _, _ := testJobServer(t)
	mockClient := new(coreapi.MockClient)
	js.Client = mockClient
	js.Builder = coreapi.NewRequestBuilder("174379", "passkey123", "testapi", "credential==",
		"https://pay.example.com/payments/mpesa/callback",
		"https://pay.example.com/payments/mpesa/result",
		"https://pay.example.com/payments/mpesa/timeout")

	mockClient.On("QueryAccountBalance", mock.Anything, mock.MatchedBy(func(r *models.AccountBalanceRequest) bool {
		return r.CommandID == models.CommandAccountBalance && r.PartyA == "174379"
	})).Return(&models.GatewayResponse{
		ConversationID:      "AG_20240315_9999",
		ResponseCode:        "0",
		ResponseDescription: "Accept the service request successfully.",
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/account-balance", nil)
	rr := httptest.NewRecorder()

	js.AccountBalanceHandler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var response models.GatewayResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "AG_20240315_9999", response.ConversationID)
	mockClient.AssertExpectations(t)
}

func TestWriteErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "validation", err: &coreapi.ValidationError{Field: "phone", Reason: "invalid"}, expected: http.StatusBadRequest},
		{name: "reconciliation", err: &business.ReconciliationError{CorrelationID: "ws_x"}, expected: http.StatusConflict},
		{name: "auth", err: &coreapi.AuthError{Cause: assert.AnError}, expected: http.StatusBadGateway},
		{name: "gateway", err: &coreapi.GatewayError{StatusCode: 500}, expected: http.StatusBadGateway},
		{name: "unknown", err: assert.AnError, expected: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tc.err)
			assert.Equal(t, tc.expected, rr.Code)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	HealthHandler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
