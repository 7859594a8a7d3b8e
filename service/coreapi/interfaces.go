package coreapi

import (
	"context"

	"github.com/antinvestor/mpesa-api/service/models"
)

type MpesaApiClient interface {
	GenerateAccessToken(ctx context.Context) (string, error)
	InitiateStkPush(ctx context.Context, request *models.StkPushRequest) (*models.StkPushResponse, error)
	QueryStkStatus(ctx context.Context, request *models.StkQueryRequest) (*models.StkQueryResponse, error)
	SendB2C(ctx context.Context, request *models.B2CRequest) (*models.GatewayResponse, error)
	SendB2B(ctx context.Context, request *models.B2BRequest) (*models.GatewayResponse, error)
	ReverseTransaction(ctx context.Context, request *models.ReversalRequest) (*models.GatewayResponse, error)
	QueryTransactionStatus(ctx context.Context, request *models.TransactionStatusRequest) (*models.GatewayResponse, error)
	RegisterCallbackURLs(ctx context.Context, request *models.RegisterURLRequest) (*models.RegisterURLResponse, error)
	QueryAccountBalance(ctx context.Context, request *models.AccountBalanceRequest) (*models.GatewayResponse, error)
}
