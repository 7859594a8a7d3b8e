package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/antinvestor/mpesa-api/service/models"
)

// gatewayAck is the acknowledgement body the gateway expects from callback
// endpoints.
var gatewayAck = map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}

// HandleStkCallback receives the gateway's asynchronous STK confirmation.
// The webhook sender is acknowledged immediately; reconciliation happens on
// the event queue so this endpoint never blocks on our own processing.
func (js *JobServer) HandleStkCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "StkCallbackHandler")

	var envelope models.StkCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		logger.WithError(err).Error("failed to decode callback body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result := envelope.Flatten()
	if result.CheckoutRequestID == "" || result.MerchantRequestID == "" {
		logger.Error("missing correlation identifiers in callback")
		http.Error(w, "Missing correlation identifiers", http.StatusBadRequest)
		return
	}

	logger = logger.WithField("checkoutRequestId", result.CheckoutRequestID).
		WithField("resultCode", result.ResultCode)
	logger.Info("received STK callback")

	// The request context dies with this response; reconcile on a
	// background context so the emit is not cancelled mid-flight.
	bgCtx := context.Background()
	go func(callback models.StkCallbackResult) {
		gLogger := js.Service.Log(bgCtx).WithField("type", "StkCallbackProcessing").
			WithField("checkoutRequestId", callback.CheckoutRequestID)

		if err := js.Service.Emit(bgCtx, "mpesa.stk.callback", &callback); err != nil {
			gLogger.WithError(err).Error("failed to emit callback event")
			return
		}
		gLogger.Info("callback queued for reconciliation")
	}(*result)

	writeJSON(w, http.StatusOK, gatewayAck)
}

// HandleResultCallback receives B2B/B2C result posts.
func (js *JobServer) HandleResultCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "ResultCallbackHandler")

	var envelope models.ResultCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		logger.WithError(err).Error("failed to decode result body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if envelope.Result.ConversationID == "" {
		logger.Error("missing conversation id in result")
		http.Error(w, "Missing conversation id", http.StatusBadRequest)
		return
	}

	logger.WithField("conversationId", envelope.Result.ConversationID).Info("received result callback")

	bgCtx := context.Background()
	go func(result models.ResultCallbackEnvelope) {
		gLogger := js.Service.Log(bgCtx).WithField("type", "ResultCallbackProcessing").
			WithField("conversationId", result.Result.ConversationID)

		if err := js.Service.Emit(bgCtx, "mpesa.result.callback", &result); err != nil {
			gLogger.WithError(err).Error("failed to emit result event")
			return
		}
		gLogger.Info("result queued for reconciliation")
	}(envelope)

	writeJSON(w, http.StatusOK, gatewayAck)
}

// HandleTimeoutCallback receives queue-timeout notices. The transaction stays
// pending; a later status query resolves it.
func (js *JobServer) HandleTimeoutCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := js.Service.Log(ctx).WithField("type", "TimeoutCallbackHandler")

	var timeout models.TimeoutCallback
	if err := json.NewDecoder(r.Body).Decode(&timeout); err != nil {
		logger.WithError(err).Error("failed to decode timeout body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	logger.WithField("conversationId", timeout.ConversationID).
		Warn("gateway reported queue timeout")

	writeJSON(w, http.StatusOK, gatewayAck)
}
