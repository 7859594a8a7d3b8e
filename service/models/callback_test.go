package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 1.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254708374149}
				]
			}
		}
	}
}`

const cancelledCallbackBody = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user."
		}
	}
}`

func TestFlattenSuccessCallback(t *testing.T) {
	var envelope StkCallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successCallbackBody), &envelope))

	result := envelope.Flatten()
	assert.Equal(t, "ws_CO_191220191020363925", result.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", result.MerchantRequestID)
	assert.Equal(t, 0, result.ResultCode)
	assert.Equal(t, "NLJ7RT61SV", result.MpesaReceiptNumber)
	assert.Equal(t, 1.00, result.Amount)
	assert.Equal(t, "254708374149", result.PhoneNumber)
	assert.Equal(t, int64(20191219102115), result.TransactionDate)
}

func TestFlattenCallbackWithoutMetadata(t *testing.T) {
	var envelope StkCallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(cancelledCallbackBody), &envelope))

	result := envelope.Flatten()
	assert.Equal(t, 1032, result.ResultCode)
	assert.Empty(t, result.MpesaReceiptNumber)
	assert.Zero(t, result.Amount)
}

func TestResultCodeMessage(t *testing.T) {
	assert.Equal(t, "Success", ResultCodeMessage(0))
	assert.Equal(t, "Insufficient Funds", ResultCodeMessage(1))
	assert.Equal(t, "Request cancelled by user", ResultCodeMessage(1032))
	assert.Equal(t, "Transaction failed", ResultCodeMessage(9999))
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "draft", StateName(StateDraft))
	assert.Equal(t, "pending", StateName(StatePending))
	assert.Equal(t, "done", StateName(StateDone))
	assert.Equal(t, "cancelled", StateName(StateCancelled))
	assert.Equal(t, "unknown", StateName(42))
}

func TestTransactionIsFinal(t *testing.T) {
	transaction := &Transaction{State: StateDraft}
	assert.False(t, transaction.IsFinal())

	transaction.State = StatePending
	assert.False(t, transaction.IsFinal())

	transaction.State = StateDone
	assert.True(t, transaction.IsFinal())

	transaction.State = StateCancelled
	assert.True(t, transaction.IsFinal())
}
