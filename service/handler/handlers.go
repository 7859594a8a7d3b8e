package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/antinvestor/mpesa-api/service/business"
	"github.com/antinvestor/mpesa-api/service/coreapi"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/antinvestor/mpesa-api/service/repository"
	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JobServer carries the dependencies the HTTP surface needs.
type JobServer struct {
	Service         *frame.Service
	RedisClient     *redis.Client
	Reconciler      business.Reconciler
	TransactionRepo repository.TransactionRepository
	Client          coreapi.MpesaApiClient
	Builder         *coreapi.RequestBuilder
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StkPushRequestBody is the inbound payload for initiating a payment.
type StkPushRequestBody struct {
	Reference        string `json:"reference"`
	Phone            string `json:"phone"`
	Amount           int64  `json:"amount"`
	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
	CommandID        string `json:"command_id"`
}

// InitiateStkHandler accepts a payment request, persists a draft transaction
// and queues it for initiation. The gateway round trip happens on the event
// worker, not on this request.
func (js *JobServer) InitiateStkHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "InitiateStkHandler")

	var body StkPushRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		logger.WithError(err).Error("failed to decode request body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	msisdn, err := coreapi.NormalizePhoneNumber(body.Phone)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if body.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be greater than zero"})
		return
	}
	if body.Reference == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "reference is required"})
		return
	}

	transaction := &models.Transaction{
		Reference:        body.Reference,
		CommandID:        body.CommandID,
		Phone:            msisdn,
		Amount:           decimal.NullDecimal{Valid: true, Decimal: decimal.NewFromInt(body.Amount)},
		Currency:         "KES",
		AccountReference: body.AccountReference,
		Description:      body.Description,
		State:            models.StateDraft,
	}
	transaction.GenID(ctx)

	if err = js.TransactionRepo.Save(ctx, transaction); err != nil {
		logger.WithError(err).Error("failed to persist draft transaction")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save transaction"})
		return
	}

	job := models.Job{ID: uuid.New().String(), TransactionID: transaction.GetID()}
	js.setJobStatus(ctx, job.ID, models.JobStatusPending)

	if err = js.Service.Emit(ctx, "initiate.stk", &job); err != nil {
		logger.WithError(err).Error("failed to emit initiate event")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue transaction"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":         job.ID,
		"transaction_id": transaction.GetID(),
		"status":         models.JobStatusPending,
	})
}

// GetJobStatus reports the acceptance status of a queued initiation.
func (js *JobServer) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]

	status, err := js.RedisClient.Get(jobID + "_status").Result()
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	message, _ := js.RedisClient.Get(jobID + "_message").Result()

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  jobID,
		"status":  status,
		"message": message,
	})
}

// GetTransaction returns the current state of a transaction.
func (js *JobServer) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["transactionID"]

	transaction, err := js.TransactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		js.Service.Log(ctx).WithError(err).Error("failed to load transaction")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load transaction"})
		return
	}

	writeJSON(w, http.StatusOK, transactionView(transaction))
}

// QueryTransactionStatus issues a synchronous status query against the
// gateway and applies the outcome to the record.
func (js *JobServer) QueryTransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["transactionID"]
	logger := js.Service.Log(ctx).WithField("type", "QueryTransactionStatus").WithField("transactionId", id)

	transaction, err := js.TransactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		logger.WithError(err).Error("failed to load transaction")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load transaction"})
		return
	}

	done, err := js.Reconciler.QueryStatus(ctx, transaction)
	if err != nil {
		logger.WithError(err).Error("status query failed")
		writeError(w, err)
		return
	}

	updated, loadErr := js.TransactionRepo.GetByID(ctx, id)
	if loadErr == nil {
		transaction = updated
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"done":        done,
		"transaction": transactionView(transaction),
	})
}

// ReverseTransactionRequestBody is the inbound payload for reversing a
// settled transaction. Amount defaults to the full original amount.
type ReverseTransactionRequestBody struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// ReverseTransactionHandler creates a reversal draft for a settled
// transaction and queues it for initiation against the gateway.
func (js *JobServer) ReverseTransactionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["transactionID"]
	logger := js.Service.Log(ctx).WithField("type", "ReverseTransactionHandler").WithField("transactionId", id)

	var body ReverseTransactionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	original, err := js.TransactionRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		logger.WithError(err).Error("failed to load transaction")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load transaction"})
		return
	}

	if original.State != models.StateDone || original.MpesaReceipt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only settled transactions can be reversed"})
		return
	}

	amount := body.Amount
	if amount == 0 {
		amount = original.Amount.Decimal.IntPart()
	}
	if amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be greater than zero"})
		return
	}

	description := body.Description
	if description == "" {
		description = "Reversal of " + original.MpesaReceipt
	}

	// MpesaReceipt on the draft is the receipt being reversed; settlement
	// replaces it with the reversal's own receipt.
	reversal := &models.Transaction{
		Reference:        original.Reference,
		CommandID:        models.CommandTransactionReversal,
		Phone:            original.Phone,
		Amount:           decimal.NullDecimal{Valid: true, Decimal: decimal.NewFromInt(amount)},
		Currency:         original.Currency,
		AccountReference: original.AccountReference,
		Description:      description,
		State:            models.StateDraft,
		MpesaReceipt:     original.MpesaReceipt,
	}
	reversal.GenID(ctx)

	if err = js.TransactionRepo.Save(ctx, reversal); err != nil {
		logger.WithError(err).Error("failed to persist reversal transaction")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not save transaction"})
		return
	}

	job := models.Job{ID: uuid.New().String(), TransactionID: reversal.GetID()}
	js.setJobStatus(ctx, job.ID, models.JobStatusPending)

	if err = js.Service.Emit(ctx, "initiate.stk", &job); err != nil {
		logger.WithError(err).Error("failed to emit initiate event")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue transaction"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":         job.ID,
		"transaction_id": reversal.GetID(),
		"status":         models.JobStatusPending,
	})
}

// AccountBalanceHandler issues a balance query for the configured short code.
// The gateway acknowledges synchronously and posts the balances to the
// result URL.
func (js *JobServer) AccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "AccountBalanceHandler")

	payload, err := js.Builder.AccountBalance("Account balance query")
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := js.Client.QueryAccountBalance(ctx, payload)
	if err != nil {
		logger.WithError(err).Error("failed to query account balance")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// RegisterUrlRequestBody is the inbound payload for C2B URL registration.
type RegisterUrlRequestBody struct {
	ResponseType    string `json:"response_type"`
	ConfirmationURL string `json:"confirmation_url"`
	ValidationURL   string `json:"validation_url"`
}

// RegisterUrlHandler registers C2B confirmation and validation URLs for the
// configured short code.
func (js *JobServer) RegisterUrlHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "RegisterUrlHandler")

	var body RegisterUrlRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	payload, err := js.Builder.RegisterURL(body.ResponseType, body.ConfirmationURL, body.ValidationURL)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := js.Client.RegisterCallbackURLs(ctx, payload)
	if err != nil {
		logger.WithError(err).Error("failed to register callback urls")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (js *JobServer) setJobStatus(ctx context.Context, jobID, status string) {
	if js.RedisClient == nil {
		return
	}
	if err := js.RedisClient.Set(jobID+"_status", status, 0).Err(); err != nil {
		js.Service.Log(ctx).WithError(err).WithField("jobId", jobID).Warn("could not save job status to redis")
	}
}

func transactionView(transaction *models.Transaction) map[string]any {
	return map[string]any{
		"id":                  transaction.GetID(),
		"reference":           transaction.Reference,
		"state":               models.StateName(transaction.State),
		"state_message":       transaction.StateMessage,
		"mpesa_receipt":       transaction.MpesaReceipt,
		"checkout_request_id": transaction.CheckoutRequestID,
		"merchant_request_id": transaction.MerchantRequestID,
		"conversation_id":     transaction.ConversationID,
		"phone":               transaction.Phone,
		"amount":              transaction.Amount.Decimal.String(),
		"currency":            transaction.Currency,
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *coreapi.ValidationError
	var reconciliationErr *business.ReconciliationError
	var authErr *coreapi.AuthError
	var gatewayErr *coreapi.GatewayError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &reconciliationErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &authErr), errors.As(err, &gatewayErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
