package coreapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/antinvestor/mpesa-api/service/models"
)

const (
	oauthPath             = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath           = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath          = "/mpesa/stkpushquery/v1/query"
	b2cPath               = "/mpesa/b2c/v1/paymentrequest"
	b2bPath               = "/mpesa/b2b/v1/paymentrequest"
	reversalPath          = "/mpesa/reversal/v1/request"
	transactionStatusPath = "/mpesa/transactionstatus/v1/query"
	registerURLPath       = "/mpesa/c2b/v1/registerurl"
	accountBalancePath    = "/mpesa/accountbalance/v1/query"
)

// Tokens are valid for an hour; renew with headroom so an in-flight request
// never carries one that expires mid-call.
const tokenLifetime = 50 * time.Minute

// Client talks to the Daraja API. It owns access token acquisition and
// caching; no other component ever sees the token.
type Client struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	HTTPClient     *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a gateway client for the given host and consumer credentials.
func New(baseURL, consumerKey, consumerSecret string) *Client {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	return &Client{
		BaseURL:        baseURL,
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		HTTPClient: &http.Client{
			Transport: tr,
			Timeout:   30 * time.Second,
		},
	}
}

// tokenResponse is the body of the OAuth generate endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// gatewayErrorBody is the error envelope payment endpoints reply with.
type gatewayErrorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// GenerateAccessToken returns a bearer token for the configured consumer
// credentials, reusing a cached one while it remains valid.
func (c *Client) GenerateAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+oauthPath, nil)
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", &AuthError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Cause: fmt.Errorf("token endpoint returned %s: %s", resp.Status, string(body))}
	}

	var token tokenResponse
	if err = json.Unmarshal(body, &token); err != nil {
		return "", &AuthError{Cause: fmt.Errorf("could not decode token response: %w", err)}
	}
	if token.AccessToken == "" {
		return "", &AuthError{Cause: fmt.Errorf("token endpoint returned no access_token: %s", string(body))}
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	c.mu.Unlock()

	return token.AccessToken, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// post sends an authorised JSON request to a payment endpoint and decodes the
// reply into out. A 401 invalidates the cached token; there is no retry here,
// retrying is the caller's policy.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	token, err := c.GenerateAccessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &GatewayError{Cause: fmt.Errorf("could not encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return &GatewayError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &GatewayError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{StatusCode: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{StatusCode: resp.StatusCode}
		var errBody gatewayErrorBody
		if jsonErr := json.Unmarshal(respBody, &errBody); jsonErr == nil && errBody.ErrorMessage != "" {
			gwErr.Code = errBody.ErrorCode
			gwErr.Message = errBody.ErrorMessage
		} else {
			gwErr.Message = string(respBody)
		}
		return gwErr
	}

	if err = json.Unmarshal(respBody, out); err != nil {
		return &GatewayError{StatusCode: resp.StatusCode,
			Cause: fmt.Errorf("could not decode response: %w", err)}
	}
	return nil
}

// InitiateStkPush pushes a payment prompt to the payer's phone.
func (c *Client) InitiateStkPush(ctx context.Context, request *models.StkPushRequest) (*models.StkPushResponse, error) {
	var response models.StkPushResponse
	if err := c.post(ctx, stkPushPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// QueryStkStatus fetches the outcome of a previously initiated STK push.
func (c *Client) QueryStkStatus(ctx context.Context, request *models.StkQueryRequest) (*models.StkQueryResponse, error) {
	var response models.StkQueryResponse
	if err := c.post(ctx, stkQueryPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SendB2C initiates a payout to a customer phone.
func (c *Client) SendB2C(ctx context.Context, request *models.B2CRequest) (*models.GatewayResponse, error) {
	var response models.GatewayResponse
	if err := c.post(ctx, b2cPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SendB2B initiates a transfer to another business short code.
func (c *Client) SendB2B(ctx context.Context, request *models.B2BRequest) (*models.GatewayResponse, error) {
	var response models.GatewayResponse
	if err := c.post(ctx, b2bPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ReverseTransaction refunds a settled transaction.
func (c *Client) ReverseTransaction(ctx context.Context, request *models.ReversalRequest) (*models.GatewayResponse, error) {
	var response models.GatewayResponse
	if err := c.post(ctx, reversalPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// QueryTransactionStatus looks up a transaction by gateway receipt.
func (c *Client) QueryTransactionStatus(ctx context.Context, request *models.TransactionStatusRequest) (*models.GatewayResponse, error) {
	var response models.GatewayResponse
	if err := c.post(ctx, transactionStatusPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// RegisterCallbackURLs registers C2B confirmation and validation URLs.
func (c *Client) RegisterCallbackURLs(ctx context.Context, request *models.RegisterURLRequest) (*models.RegisterURLResponse, error) {
	var response models.RegisterURLResponse
	if err := c.post(ctx, registerURLPath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// QueryAccountBalance requests the short code's account balances.
func (c *Client) QueryAccountBalance(ctx context.Context, request *models.AccountBalanceRequest) (*models.GatewayResponse, error) {
	var response models.GatewayResponse
	if err := c.post(ctx, accountBalancePath, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}
