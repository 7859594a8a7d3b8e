package business

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/antinvestor/mpesa-api/service/coreapi"
	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/antinvestor/mpesa-api/service/repository"
	"github.com/pitabwire/frame"
	"gorm.io/datatypes"
)

const (
	// EventTransactionStatusSave is the event persisting status audit rows.
	EventTransactionStatusSave = "transaction.status.save"

	gatewayAcceptedCode = "0"
	resultCodeSuccess   = 0
	resultCodeCancelled = 1032
)

// StateTransition describes one applied (or absorbed) state change.
type StateTransition struct {
	TransactionID string
	From          int32
	To            int32
	Message       string
}

// NoOp reports whether the transition changed nothing, which happens when a
// duplicate confirmation arrives after the record is already terminal.
func (t *StateTransition) NoOp() bool {
	return t.From == t.To
}

// Reconciler drives transactions through the gateway lifecycle: it issues
// requests and folds synchronous replies, asynchronous callbacks and status
// query results into at-most-once state transitions.
type Reconciler interface {
	Initiate(ctx context.Context, transaction *models.Transaction) (*StateTransition, error)
	ApplyCallback(ctx context.Context, result *models.StkCallbackResult) (*StateTransition, error)
	ApplyResult(ctx context.Context, envelope *models.ResultCallbackEnvelope) (*StateTransition, error)
	QueryStatus(ctx context.Context, transaction *models.Transaction) (bool, error)
}

// NewReconciler wires a reconciler over its collaborators.
func NewReconciler(_ context.Context, service *frame.Service,
	transactionRepo repository.TransactionRepository,
	client coreapi.MpesaApiClient, builder *coreapi.RequestBuilder) (Reconciler, error) {
	if service == nil || transactionRepo == nil || client == nil || builder == nil {
		return nil, ErrorInitializationFail
	}
	return &reconciler{
		service:         service,
		transactionRepo: transactionRepo,
		client:          client,
		builder:         builder,
	}, nil
}

type reconciler struct {
	service         *frame.Service
	transactionRepo repository.TransactionRepository
	client          coreapi.MpesaApiClient
	builder         *coreapi.RequestBuilder
}

func (rc *reconciler) Initiate(ctx context.Context, transaction *models.Transaction) (*StateTransition, error) {
	if transaction.State != models.StateDraft {
		return nil, ErrorTransactionNotDraft
	}

	commandID := transaction.CommandID
	if commandID == "" {
		commandID = models.CommandCustomerPayBillOnline
	}

	switch commandID {
	case models.CommandCustomerPayBillOnline:
		return rc.initiateStkPush(ctx, transaction)
	case models.CommandBusinessPayment, models.CommandSalaryPayment, models.CommandPromotionPayment:
		return rc.initiateB2C(ctx, transaction, commandID)
	case models.CommandBusinessPayBill, models.CommandBusinessBuyGoods:
		return rc.initiateB2B(ctx, transaction, commandID)
	case models.CommandTransactionReversal:
		return rc.initiateReversal(ctx, transaction)
	default:
		return nil, fmt.Errorf("%w: %s", ErrorUnsupportedCommand, commandID)
	}
}

func (rc *reconciler) initiateStkPush(ctx context.Context, transaction *models.Transaction) (*StateTransition, error) {
	logger := rc.service.Log(ctx).WithField("transactionId", transaction.GetID())

	payload, err := rc.builder.StkPush(transaction.Phone,
		transaction.Amount.Decimal.IntPart(),
		accountReference(transaction), transaction.Description)
	if err != nil {
		return nil, err
	}

	response, err := rc.client.InitiateStkPush(ctx, payload)
	if err != nil {
		// The record stays draft; surfacing the error without any
		// partial write keeps initiation safely retryable.
		return nil, err
	}

	if response.ResponseCode != gatewayAcceptedCode {
		return nil, &coreapi.GatewayError{
			Code:    response.ResponseCode,
			Message: response.ResponseDescription,
		}
	}

	transaction.Phone = payload.PhoneNumber
	transaction.CheckoutRequestID = response.CheckoutRequestID
	transaction.MerchantRequestID = response.MerchantRequestID
	transaction.StateMessage = response.ResponseDescription

	// Some gateway revisions settle inline and return a receipt with the
	// synchronous response. Normally settlement arrives on the callback.
	to := models.StatePending
	if response.MpesaReceiptNumber != "" {
		to = models.StateDone
		transaction.MpesaReceipt = response.MpesaReceiptNumber
	}
	transaction.State = to

	if err = rc.transactionRepo.Save(ctx, transaction); err != nil {
		return nil, fmt.Errorf("could not persist accepted transaction: %w", err)
	}

	transition := &StateTransition{
		TransactionID: transaction.GetID(),
		From:          models.StateDraft,
		To:            to,
		Message:       response.ResponseDescription,
	}
	rc.emitStatus(ctx, transaction.GetID(), to, map[string]any{
		"checkout_request_id": response.CheckoutRequestID,
		"merchant_request_id": response.MerchantRequestID,
		"message":             response.ResponseDescription,
	})
	logger.WithField("state", models.StateName(to)).Info("gateway accepted request")
	return transition, nil
}

func (rc *reconciler) initiateB2C(ctx context.Context, transaction *models.Transaction, commandID string) (*StateTransition, error) {
	payload, err := rc.builder.B2C(commandID, transaction.Phone,
		transaction.Amount.Decimal.IntPart(), transaction.Description)
	if err != nil {
		return nil, err
	}

	response, err := rc.client.SendB2C(ctx, payload)
	if err != nil {
		return nil, err
	}

	return rc.acceptAsyncCommand(ctx, transaction, response)
}

func (rc *reconciler) initiateB2B(ctx context.Context, transaction *models.Transaction, commandID string) (*StateTransition, error) {
	payload, err := rc.builder.B2B(commandID, transaction.Phone,
		transaction.Amount.Decimal.IntPart(),
		accountReference(transaction), transaction.Description)
	if err != nil {
		return nil, err
	}

	response, err := rc.client.SendB2B(ctx, payload)
	if err != nil {
		return nil, err
	}

	return rc.acceptAsyncCommand(ctx, transaction, response)
}

// initiateReversal refunds a settled gateway receipt. The draft carries the
// receipt being reversed; the reversal's own settlement arrives on the result
// URL like any other async command.
func (rc *reconciler) initiateReversal(ctx context.Context, transaction *models.Transaction) (*StateTransition, error) {
	payload, err := rc.builder.Reversal(transaction.MpesaReceipt,
		transaction.Amount.Decimal.IntPart(), transaction.Description)
	if err != nil {
		return nil, err
	}

	response, err := rc.client.ReverseTransaction(ctx, payload)
	if err != nil {
		return nil, err
	}

	return rc.acceptAsyncCommand(ctx, transaction, response)
}

// acceptAsyncCommand handles the shared acknowledgement shape of the B2B/B2C
// family: acceptance is always pending, settlement arrives on the result URL.
func (rc *reconciler) acceptAsyncCommand(ctx context.Context, transaction *models.Transaction,
	response *models.GatewayResponse) (*StateTransition, error) {
	if response.ResponseCode != gatewayAcceptedCode {
		return nil, &coreapi.GatewayError{
			Code:    response.ResponseCode,
			Message: response.ResponseDescription,
		}
	}

	transaction.ConversationID = response.ConversationID
	transaction.StateMessage = response.ResponseDescription
	transaction.State = models.StatePending

	if err := rc.transactionRepo.Save(ctx, transaction); err != nil {
		return nil, fmt.Errorf("could not persist accepted transaction: %w", err)
	}

	rc.emitStatus(ctx, transaction.GetID(), models.StatePending, map[string]any{
		"conversation_id": response.ConversationID,
		"message":         response.ResponseDescription,
	})

	return &StateTransition{
		TransactionID: transaction.GetID(),
		From:          models.StateDraft,
		To:            models.StatePending,
		Message:       response.ResponseDescription,
	}, nil
}

func (rc *reconciler) ApplyCallback(ctx context.Context, result *models.StkCallbackResult) (*StateTransition, error) {
	matches, err := rc.transactionRepo.GetByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("could not look up transaction: %w", err)
	}
	if len(matches) != 1 {
		return nil, &ReconciliationError{CorrelationID: result.CheckoutRequestID, Matches: len(matches)}
	}

	return rc.applyOutcome(ctx, matches[0], result.ResultCode, result.ResultDesc, result.MpesaReceiptNumber, result)
}

func (rc *reconciler) ApplyResult(ctx context.Context, envelope *models.ResultCallbackEnvelope) (*StateTransition, error) {
	result := envelope.Result
	matches, err := rc.transactionRepo.GetByConversationID(ctx, result.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("could not look up transaction: %w", err)
	}
	if len(matches) != 1 {
		return nil, &ReconciliationError{CorrelationID: result.ConversationID, Matches: len(matches)}
	}

	// The receipt only belongs on a settled record; a failed result still
	// carries a TransactionID that must not be persisted.
	receipt := ""
	if result.ResultCode == resultCodeSuccess {
		receipt = result.TransactionID
	}

	return rc.applyOutcome(ctx, matches[0], result.ResultCode, result.ResultDesc, receipt, envelope)
}

func (rc *reconciler) QueryStatus(ctx context.Context, transaction *models.Transaction) (bool, error) {
	if transaction.IsFinal() {
		return transaction.State == models.StateDone, nil
	}

	switch transaction.CommandID {
	case "", models.CommandCustomerPayBillOnline:
		return rc.queryStkStatus(ctx, transaction)
	default:
		return rc.queryTransactionStatus(ctx, transaction)
	}
}

func (rc *reconciler) queryStkStatus(ctx context.Context, transaction *models.Transaction) (bool, error) {
	if transaction.CheckoutRequestID == "" {
		return false, ErrorTransactionNotCorrelated
	}

	payload, err := rc.builder.StkStatus(transaction.CheckoutRequestID)
	if err != nil {
		return false, err
	}

	response, err := rc.client.QueryStkStatus(ctx, payload)
	if err != nil {
		return false, err
	}

	if response.ResponseCode != gatewayAcceptedCode {
		return false, &coreapi.GatewayError{
			Code:    response.ResponseCode,
			Message: response.ResponseDescription,
		}
	}

	resultCode, err := strconv.Atoi(response.ResultCode)
	if err != nil {
		return false, &coreapi.GatewayError{
			Cause: fmt.Errorf("malformed result code %q: %w", response.ResultCode, err),
		}
	}

	transition, err := rc.applyOutcome(ctx, transaction, resultCode, response.ResultDesc, "", response)
	if err != nil {
		return false, err
	}
	return transition.To == models.StateDone, nil
}

// queryTransactionStatus issues the generic status query for the async
// command family. The gateway only acknowledges synchronously and posts the
// verdict to the result URL, so the record stays pending here.
func (rc *reconciler) queryTransactionStatus(ctx context.Context, transaction *models.Transaction) (bool, error) {
	identifier := transaction.MpesaReceipt
	if identifier == "" {
		identifier = transaction.ConversationID
	}
	if identifier == "" {
		return false, ErrorTransactionNotCorrelated
	}

	payload, err := rc.builder.TransactionStatus(identifier, transaction.Description)
	if err != nil {
		return false, err
	}

	response, err := rc.client.QueryTransactionStatus(ctx, payload)
	if err != nil {
		return false, err
	}

	if response.ResponseCode != gatewayAcceptedCode {
		return false, &coreapi.GatewayError{
			Code:    response.ResponseCode,
			Message: response.ResponseDescription,
		}
	}

	return false, nil
}

// applyOutcome folds a gateway verdict into the record. It is the single
// interpretation point shared by callbacks, result posts and status queries,
// and it performs no outbound calls.
func (rc *reconciler) applyOutcome(ctx context.Context, transaction *models.Transaction,
	resultCode int, resultDesc, receipt string, rawPayload any) (*StateTransition, error) {
	logger := rc.service.Log(ctx).
		WithField("transactionId", transaction.GetID()).
		WithField("resultCode", resultCode)

	if transaction.IsFinal() {
		logger.Info("duplicate confirmation for finalized transaction, ignoring")
		return &StateTransition{
			TransactionID: transaction.GetID(),
			From:          transaction.State,
			To:            transaction.State,
			Message:       transaction.StateMessage,
		}, nil
	}

	var to int32
	var message string
	switch resultCode {
	case resultCodeSuccess:
		to = models.StateDone
		message = models.ResultCodeMessage(resultCodeSuccess)
	case resultCodeCancelled:
		to = models.StateCancelled
		message = models.ResultCodeMessage(resultCodeCancelled)
	default:
		to = models.StateCancelled
		message = resultDesc
		if message == "" {
			message = models.ResultCodeMessage(resultCode)
		}
	}

	updated, err := rc.transactionRepo.FinalizeState(ctx, transaction.GetID(), to, message, receipt)
	if err != nil {
		return nil, fmt.Errorf("could not finalize transaction: %w", err)
	}
	if !updated {
		// Lost the race against another confirmation; that one won.
		return &StateTransition{
			TransactionID: transaction.GetID(),
			From:          transaction.State,
			To:            transaction.State,
			Message:       transaction.StateMessage,
		}, nil
	}

	from := transaction.State
	transaction.State = to
	transaction.StateMessage = message
	if receipt != "" {
		transaction.MpesaReceipt = receipt
	}

	statusExtra := map[string]any{"message": message, "result_code": resultCode}
	if raw, jsonErr := json.Marshal(rawPayload); jsonErr == nil {
		statusExtra["raw_payload"] = string(raw)
	}
	rc.emitStatus(ctx, transaction.GetID(), to, statusExtra)

	logger.WithField("state", models.StateName(to)).Info("transaction finalized")
	return &StateTransition{
		TransactionID: transaction.GetID(),
		From:          from,
		To:            to,
		Message:       message,
	}, nil
}

// emitStatus queues an audit status row. Failures are logged, not surfaced;
// the transaction's own state is already durable at this point.
func (rc *reconciler) emitStatus(ctx context.Context, transactionID string, state int32, extra map[string]any) {
	status := models.TransactionStatus{
		TransactionID: transactionID,
		State:         state,
		Extra:         datatypes.JSONMap(extra),
	}
	status.GenID(ctx)

	if err := rc.service.Emit(ctx, EventTransactionStatusSave, status); err != nil {
		rc.service.Log(ctx).WithError(err).
			WithField("transactionId", transactionID).
			Warn("could not emit transaction status")
	}
}

func accountReference(transaction *models.Transaction) string {
	if transaction.AccountReference != "" {
		return transaction.AccountReference
	}
	return transaction.Reference
}
