//nolint:revive // package name matches directory structure
package events_callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antinvestor/mpesa-api/service/business"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/pitabwire/frame"
)

// ResultCallback reconciles B2B/B2C result posts against their transactions.
type ResultCallback struct {
	Service    *frame.Service
	Reconciler business.Reconciler
}

// Name returns the name of the event handler.
func (h *ResultCallback) Name() string {
	return "mpesa.result.callback"
}

// PayloadType returns the type of payload this event expects.
func (h *ResultCallback) PayloadType() any {
	return &models.ResultCallbackEnvelope{}
}

// Validate validates the payload.
func (h *ResultCallback) Validate(_ context.Context, payload any) error {
	envelope, ok := payload.(*models.ResultCallbackEnvelope)
	if !ok {
		return errors.New("invalid payload type, expected *models.ResultCallbackEnvelope")
	}

	if envelope.Result.ConversationID == "" {
		return errors.New("conversation ID is required")
	}

	return nil
}

// Handle implements the frame.SubscribeWorker interface.
func (h *ResultCallback) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	payload := h.PayloadType()
	if err := json.Unmarshal(message, payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := h.Validate(ctx, payload); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}

	return h.Execute(ctx, payload)
}

// Execute applies the result post to its transaction.
func (h *ResultCallback) Execute(ctx context.Context, payload any) error {
	envelope, ok := payload.(*models.ResultCallbackEnvelope)
	if !ok {
		return errors.New("invalid payload type, expected *models.ResultCallbackEnvelope")
	}

	logger := h.Service.Log(ctx).
		WithField("conversationId", envelope.Result.ConversationID).
		WithField("resultCode", envelope.Result.ResultCode)
	logger.Info("processing mpesa.result.callback event")

	transition, err := h.Reconciler.ApplyResult(ctx, envelope)
	if err != nil {
		var reconciliationErr *business.ReconciliationError
		if errors.As(err, &reconciliationErr) {
			logger.WithError(err).Error("result could not be correlated, rejecting")
			return nil
		}
		return fmt.Errorf("apply result: %w", err)
	}

	logger.WithField("state", models.StateName(transition.To)).Info("result reconciled")
	return nil
}
