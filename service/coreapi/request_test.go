package coreapi

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClockBuilder() *RequestBuilder {
	builder := NewRequestBuilder("174379", "passkey123", "testapi", "credential==",
		"https://pay.example.com/payments/mpesa/callback",
		"https://pay.example.com/payments/mpesa/result",
		"https://pay.example.com/payments/mpesa/timeout")
	builder.Now = func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	}
	return builder
}

func TestNormalizePhoneNumber(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "canonical form", input: "254712345678", expected: "254712345678"},
		{name: "plus prefix", input: "+254712345678", expected: "254712345678"},
		{name: "leading zero", input: "0712345678", expected: "254712345678"},
		{name: "bare seven prefix", input: "712345678", expected: "254712345678"},
		{name: "too short", input: "07123", wantErr: true},
		{name: "too long", input: "2547123456789", wantErr: true},
		{name: "landline prefix", input: "254204345678", wantErr: true},
		{name: "alpha characters", input: "07one2345678", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := NormalizePhoneNumber(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				var validationErr *ValidationError
				assert.True(t, errors.As(err, &validationErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestTimestampIsGatewayLocal(t *testing.T) {
	builder := fixedClockBuilder()

	// 10:30 UTC is 13:30 in Nairobi.
	timestamp := builder.Timestamp()
	assert.Equal(t, "20240315133000", timestamp)
	assert.Len(t, timestamp, 14)
}

func TestPasswordEncoding(t *testing.T) {
	builder := fixedClockBuilder()

	timestamp := builder.Timestamp()
	password := builder.Password(timestamp)

	decoded, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey123"+timestamp, string(decoded))
}

func TestStkPushRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.StkPush("0712345678", 150, "INV-001", "order payment")
	require.NoError(t, err)

	assert.Equal(t, "174379", request.BusinessShortCode)
	assert.Equal(t, "20240315133000", request.Timestamp)
	assert.Equal(t, builder.Password("20240315133000"), request.Password)
	assert.Equal(t, models.CommandCustomerPayBillOnline, request.TransactionType)
	assert.Equal(t, int64(150), request.Amount)
	assert.Equal(t, "254712345678", request.PartyA)
	assert.Equal(t, "254712345678", request.PhoneNumber)
	assert.Equal(t, "174379", request.PartyB)
	assert.Equal(t, "https://pay.example.com/payments/mpesa/callback", request.CallBackURL)
	assert.Equal(t, "INV-001", request.AccountReference)
}

func TestStkPushRequestValidation(t *testing.T) {
	builder := fixedClockBuilder()

	testCases := []struct {
		name      string
		phone     string
		amount    int64
		reference string
		field     string
	}{
		{name: "zero amount", phone: "0712345678", amount: 0, reference: "INV-001", field: "amount"},
		{name: "negative amount", phone: "0712345678", amount: -5, reference: "INV-001", field: "amount"},
		{name: "missing reference", phone: "0712345678", amount: 10, reference: "", field: "accountReference"},
		{name: "reference too long", phone: "0712345678", amount: 10, reference: "ABCDEFGHIJKLM", field: "accountReference"},
		{name: "bad phone", phone: "12345", amount: 10, reference: "INV-001", field: "phone"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := builder.StkPush(tc.phone, tc.amount, tc.reference, "desc")
			require.Error(t, err)

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestStkPushRequiresShortCodeCredentials(t *testing.T) {
	builder := fixedClockBuilder()
	builder.PassKey = ""

	_, err := builder.StkPush("0712345678", 100, "INV-001", "desc")
	require.Error(t, err)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "passKey", validationErr.Field)
}

func TestStkStatusRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.StkStatus("ws_CO_123456")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123456", request.CheckoutRequestID)
	assert.Equal(t, builder.Password(request.Timestamp), request.Password)

	_, err = builder.StkStatus("")
	require.Error(t, err)
}

func TestB2CRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.B2C(models.CommandBusinessPayment, "+254712345678", 500, "refund")
	require.NoError(t, err)

	assert.Equal(t, "testapi", request.InitiatorName)
	assert.Equal(t, "credential==", request.SecurityCredential)
	assert.Equal(t, models.CommandBusinessPayment, request.CommandID)
	assert.Equal(t, "174379", request.PartyA)
	assert.Equal(t, "254712345678", request.PartyB)
	assert.Equal(t, "https://pay.example.com/payments/mpesa/result", request.ResultURL)
	assert.Equal(t, "https://pay.example.com/payments/mpesa/timeout", request.QueueTimeOutURL)
}

func TestB2CRequiresInitiatorCredentials(t *testing.T) {
	builder := fixedClockBuilder()
	builder.SecurityCredential = ""

	_, err := builder.B2C(models.CommandBusinessPayment, "0712345678", 500, "refund")
	require.Error(t, err)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "securityCredential", validationErr.Field)
}

func TestB2BRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.B2B(models.CommandBusinessPayBill, "600000", 1000, "ACC-9", "settlement")
	require.NoError(t, err)

	assert.Equal(t, "4", request.SenderIdentifierType)
	assert.Equal(t, "4", request.RecieverIdentifierType)
	assert.Equal(t, "600000", request.PartyB)
	assert.Equal(t, "ACC-9", request.AccountReference)

	_, err = builder.B2B(models.CommandBusinessPayBill, "", 1000, "ACC-9", "settlement")
	require.Error(t, err)
}

func TestReversalRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.Reversal("QDS7YZ91XK", 200, "duplicate charge")
	require.NoError(t, err)

	assert.Equal(t, models.CommandTransactionReversal, request.CommandID)
	assert.Equal(t, "QDS7YZ91XK", request.TransactionID)
	assert.Equal(t, "11", request.RecieverIdentifierType)

	_, err = builder.Reversal("", 200, "duplicate charge")
	require.Error(t, err)
}

func TestTransactionStatusRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.TransactionStatus("QDS7YZ91XK", "status check")
	require.NoError(t, err)

	assert.Equal(t, models.CommandTransactionStatus, request.CommandID)
	assert.Equal(t, "QDS7YZ91XK", request.TransactionID)
	assert.Equal(t, "174379", request.PartyA)
	assert.Equal(t, "4", request.IdentifierType)
	assert.Equal(t, "https://pay.example.com/payments/mpesa/result", request.ResultURL)

	_, err = builder.TransactionStatus("", "status check")
	require.Error(t, err)
}

func TestRegisterURLRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.RegisterURL("Completed",
		"https://pay.example.com/c2b/confirm", "https://pay.example.com/c2b/validate")
	require.NoError(t, err)
	assert.Equal(t, "174379", request.ShortCode)
	assert.Equal(t, "Completed", request.ResponseType)

	_, err = builder.RegisterURL("Maybe",
		"https://pay.example.com/c2b/confirm", "https://pay.example.com/c2b/validate")
	require.Error(t, err)

	_, err = builder.RegisterURL("Cancelled", "", "")
	require.Error(t, err)
}

func TestAccountBalanceRequest(t *testing.T) {
	builder := fixedClockBuilder()

	request, err := builder.AccountBalance("working balance")
	require.NoError(t, err)
	assert.Equal(t, models.CommandAccountBalance, request.CommandID)
	assert.Equal(t, "4", request.IdentifierType)
}
