//nolint:revive // package name matches directory structure
package events_stk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antinvestor/mpesa-api/service/business"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/antinvestor/mpesa-api/service/repository"
	"github.com/go-redis/redis"
	"github.com/pitabwire/frame"
)

// InitiateStk handles the initiate.stk events: it loads the draft
// transaction referenced by the job and pushes it through the reconciler.
type InitiateStk struct {
	Service         *frame.Service
	Reconciler      business.Reconciler
	TransactionRepo repository.TransactionRepository
	RedisClient     *redis.Client
}

// NewInitiateStk creates an InitiateStk handler with its dependencies.
func NewInitiateStk(service *frame.Service, reconciler business.Reconciler,
	transactionRepo repository.TransactionRepository, redisClient *redis.Client) *InitiateStk {
	return &InitiateStk{
		Service:         service,
		Reconciler:      reconciler,
		TransactionRepo: transactionRepo,
		RedisClient:     redisClient,
	}
}

// Name returns the name of the event handler.
func (h *InitiateStk) Name() string {
	return "initiate.stk"
}

// PayloadType returns the type of payload this event expects.
func (h *InitiateStk) PayloadType() any {
	return &models.Job{}
}

// Validate validates the payload.
func (h *InitiateStk) Validate(_ context.Context, payload any) error {
	job, ok := payload.(*models.Job)
	if !ok {
		return errors.New("invalid payload type, expected *models.Job")
	}

	if job.ID == "" {
		return errors.New("job ID is required")
	}
	if job.TransactionID == "" {
		return errors.New("transaction ID is required")
	}

	return nil
}

// Handle implements the frame.SubscribeWorker interface.
func (h *InitiateStk) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	payload := h.PayloadType()
	if err := json.Unmarshal(message, payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := h.Validate(ctx, payload); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}

	return h.Execute(ctx, payload)
}

// Execute loads the transaction and initiates it against the gateway.
func (h *InitiateStk) Execute(ctx context.Context, payload any) error {
	job, ok := payload.(*models.Job)
	if !ok {
		return errors.New("invalid payload type, expected *models.Job")
	}

	logger := h.Service.Log(ctx).
		WithField("jobId", job.ID).
		WithField("transactionId", job.TransactionID)
	logger.Info("processing initiate.stk event")

	transaction, err := h.TransactionRepo.GetByID(ctx, job.TransactionID)
	if err != nil {
		h.setJobStatus(ctx, job.ID, models.JobStatusFailed, err.Error())
		return fmt.Errorf("load transaction: %w", err)
	}

	transition, err := h.Reconciler.Initiate(ctx, transaction)
	if err != nil {
		logger.WithError(err).Error("failed to initiate transaction")
		h.setJobStatus(ctx, job.ID, models.JobStatusFailed, err.Error())
		return fmt.Errorf("initiate transaction: %w", err)
	}

	logger.WithField("state", models.StateName(transition.To)).Info("transaction initiated")
	h.setJobStatus(ctx, job.ID, models.JobStatusCompleted, transition.Message)
	return nil
}

// setJobStatus records the job's acceptance outcome in redis. Failures are
// logged only; the transaction's own state is authoritative.
func (h *InitiateStk) setJobStatus(ctx context.Context, jobID, status, message string) {
	if h.RedisClient == nil {
		return
	}
	if err := h.RedisClient.Set(jobID+"_status", status, 0).Err(); err != nil {
		h.Service.Log(ctx).WithError(err).WithField("jobId", jobID).Warn("could not save job status to redis")
	}
	if err := h.RedisClient.Set(jobID+"_message", message, 0).Err(); err != nil {
		h.Service.Log(ctx).WithError(err).WithField("jobId", jobID).Warn("could not save job message to redis")
	}
}
