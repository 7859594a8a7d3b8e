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

// StkCallback reconciles asynchronous STK confirmations against their
// transactions.
type StkCallback struct {
	Service    *frame.Service
	Reconciler business.Reconciler
}

// Name returns the name of the event handler.
func (h *StkCallback) Name() string {
	return "mpesa.stk.callback"
}

// PayloadType returns the type of payload this event expects.
func (h *StkCallback) PayloadType() any {
	return &models.StkCallbackResult{}
}

// Validate validates the payload.
func (h *StkCallback) Validate(_ context.Context, payload any) error {
	result, ok := payload.(*models.StkCallbackResult)
	if !ok {
		return errors.New("invalid payload type, expected *models.StkCallbackResult")
	}

	if result.CheckoutRequestID == "" {
		return errors.New("checkout request ID is required")
	}

	return nil
}

// Handle implements the frame.SubscribeWorker interface.
func (h *StkCallback) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	payload := h.PayloadType()
	if err := json.Unmarshal(message, payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if err := h.Validate(ctx, payload); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}

	return h.Execute(ctx, payload)
}

// Execute applies the callback to its transaction.
func (h *StkCallback) Execute(ctx context.Context, payload any) error {
	result, ok := payload.(*models.StkCallbackResult)
	if !ok {
		return errors.New("invalid payload type, expected *models.StkCallbackResult")
	}

	logger := h.Service.Log(ctx).
		WithField("checkoutRequestId", result.CheckoutRequestID).
		WithField("resultCode", result.ResultCode)
	logger.Info("processing mpesa.stk.callback event")

	transition, err := h.Reconciler.ApplyCallback(ctx, result)
	if err != nil {
		var reconciliationErr *business.ReconciliationError
		if errors.As(err, &reconciliationErr) {
			// Data integrity alarm. The event is rejected for good,
			// requeueing it can never succeed.
			logger.WithError(err).Error("callback could not be correlated, rejecting")
			return nil
		}
		return fmt.Errorf("apply callback: %w", err)
	}

	if transition.NoOp() {
		logger.Info("transaction already finalized, callback ignored")
		return nil
	}

	logger.WithField("state", models.StateName(transition.To)).Info("callback reconciled")
	return nil
}
