package coreapi

import (
	"context"

	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of the MpesaApiClient interface.
type MockClient struct {
	mock.Mock
}

// GenerateAccessToken mocks the GenerateAccessToken method.
func (m *MockClient) GenerateAccessToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// InitiateStkPush mocks the InitiateStkPush method.
func (m *MockClient) InitiateStkPush(ctx context.Context, request *models.StkPushRequest) (*models.StkPushResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StkPushResponse), args.Error(1)
}

// QueryStkStatus mocks the QueryStkStatus method.
func (m *MockClient) QueryStkStatus(ctx context.Context, request *models.StkQueryRequest) (*models.StkQueryResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StkQueryResponse), args.Error(1)
}

// SendB2C mocks the SendB2C method.
func (m *MockClient) SendB2C(ctx context.Context, request *models.B2CRequest) (*models.GatewayResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResponse), args.Error(1)
}

// SendB2B mocks the SendB2B method.
func (m *MockClient) SendB2B(ctx context.Context, request *models.B2BRequest) (*models.GatewayResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResponse), args.Error(1)
}

// ReverseTransaction mocks the ReverseTransaction method.
func (m *MockClient) ReverseTransaction(ctx context.Context, request *models.ReversalRequest) (*models.GatewayResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResponse), args.Error(1)
}

// QueryTransactionStatus mocks the QueryTransactionStatus method.
func (m *MockClient) QueryTransactionStatus(ctx context.Context, request *models.TransactionStatusRequest) (*models.GatewayResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResponse), args.Error(1)
}

// RegisterCallbackURLs mocks the RegisterCallbackURLs method.
func (m *MockClient) RegisterCallbackURLs(ctx context.Context, request *models.RegisterURLRequest) (*models.RegisterURLResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RegisterURLResponse), args.Error(1)
}

// QueryAccountBalance mocks the QueryAccountBalance method.
func (m *MockClient) QueryAccountBalance(ctx context.Context, request *models.AccountBalanceRequest) (*models.GatewayResponse, error) {
	args := m.Called(ctx, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GatewayResponse), args.Error(1)
}
