package coreapi

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"time"

	"github.com/antinvestor/mpesa-api/service/models"
)

// TimestampFormat is the gateway's YYYYMMDDHHmmss layout.
const TimestampFormat = "20060102150405"

// The gateway operates on East Africa Time regardless of where this service
// runs; password hashes are only valid against timestamps in that zone.
var gatewayTimezone = time.FixedZone("EAT", 3*60*60)

var phonePattern = regexp.MustCompile(`^(?:2547|\+2547|07|7)(\d{8})$`)

const maxAccountReferenceLen = 12

// NormalizePhoneNumber canonicalises a Kenyan MSISDN to the 2547XXXXXXXX form
// the gateway expects. Accepted inputs are 2547XXXXXXXX, +2547XXXXXXXX,
// 07XXXXXXXX and 7XXXXXXXX; anything else fails.
func NormalizePhoneNumber(phone string) (string, error) {
	match := phonePattern.FindStringSubmatch(phone)
	if match == nil {
		return "", &ValidationError{Field: "phone", Reason: fmt.Sprintf("%q is not a valid Kenyan mobile number", phone)}
	}
	return "2547" + match[1], nil
}

// RequestBuilder assembles signed gateway payloads from acquirer
// configuration. The clock is injectable so tests can pin the timestamp.
type RequestBuilder struct {
	ShortCode          string
	PassKey            string
	InitiatorName      string
	SecurityCredential string

	CallbackURL     string
	ResultURL       string
	QueueTimeoutURL string

	Now func() time.Time
}

// NewRequestBuilder creates a builder for the given short code credentials and
// callback surface.
func NewRequestBuilder(shortCode, passKey, initiatorName, securityCredential string,
	callbackURL, resultURL, queueTimeoutURL string) *RequestBuilder {
	return &RequestBuilder{
		ShortCode:          shortCode,
		PassKey:            passKey,
		InitiatorName:      initiatorName,
		SecurityCredential: securityCredential,
		CallbackURL:        callbackURL,
		ResultURL:          resultURL,
		QueueTimeoutURL:    queueTimeoutURL,
		Now:                time.Now,
	}
}

// Timestamp renders the current gateway-local time in the password layout.
func (b *RequestBuilder) Timestamp() string {
	return b.Now().In(gatewayTimezone).Format(TimestampFormat)
}

// Password computes base64(shortCode + passKey + timestamp), the credential
// the STK endpoints expect alongside the matching timestamp.
func (b *RequestBuilder) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(b.ShortCode + b.PassKey + timestamp))
}

func (b *RequestBuilder) checkShortCodeCredentials() error {
	if b.ShortCode == "" {
		return &ValidationError{Field: "shortCode", Reason: "is required"}
	}
	if b.PassKey == "" {
		return &ValidationError{Field: "passKey", Reason: "is required"}
	}
	return nil
}

func (b *RequestBuilder) checkInitiatorCredentials() error {
	if b.InitiatorName == "" {
		return &ValidationError{Field: "initiatorName", Reason: "is required"}
	}
	if b.SecurityCredential == "" {
		return &ValidationError{Field: "securityCredential", Reason: "is required"}
	}
	return nil
}

func checkAmount(amount int64) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}

func checkAccountReference(ref string) error {
	if ref == "" {
		return &ValidationError{Field: "accountReference", Reason: "is required"}
	}
	if len(ref) > maxAccountReferenceLen {
		return &ValidationError{Field: "accountReference",
			Reason: fmt.Sprintf("must not exceed %d characters", maxAccountReferenceLen)}
	}
	return nil
}

// StkPush builds a customer-pay-bill-online prompt request.
func (b *RequestBuilder) StkPush(phone string, amount int64, accountReference, description string) (*models.StkPushRequest, error) {
	if err := b.checkShortCodeCredentials(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if err := checkAccountReference(accountReference); err != nil {
		return nil, err
	}

	msisdn, err := NormalizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}

	timestamp := b.Timestamp()
	return &models.StkPushRequest{
		BusinessShortCode: b.ShortCode,
		Password:          b.Password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   models.CommandCustomerPayBillOnline,
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            b.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       b.CallbackURL,
		AccountReference:  accountReference,
		TransactionDesc:   description,
	}, nil
}

// StkStatus builds a status query for a previously initiated STK push.
func (b *RequestBuilder) StkStatus(checkoutRequestID string) (*models.StkQueryRequest, error) {
	if err := b.checkShortCodeCredentials(); err != nil {
		return nil, err
	}
	if checkoutRequestID == "" {
		return nil, &ValidationError{Field: "checkoutRequestId", Reason: "is required"}
	}

	timestamp := b.Timestamp()
	return &models.StkQueryRequest{
		BusinessShortCode: b.ShortCode,
		Password:          b.Password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}, nil
}

// B2C builds a payout to a customer phone for the given command.
func (b *RequestBuilder) B2C(commandID, phone string, amount int64, remarks string) (*models.B2CRequest, error) {
	if err := b.checkInitiatorCredentials(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	msisdn, err := NormalizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}

	return &models.B2CRequest{
		InitiatorName:      b.InitiatorName,
		SecurityCredential: b.SecurityCredential,
		CommandID:          commandID,
		Amount:             amount,
		PartyA:             b.ShortCode,
		PartyB:             msisdn,
		Remarks:            remarks,
		QueueTimeOutURL:    b.QueueTimeoutURL,
		ResultURL:          b.ResultURL,
		Occasion:           remarks,
	}, nil
}

// B2B builds a transfer to another business short code.
func (b *RequestBuilder) B2B(commandID, partyB string, amount int64, accountReference, remarks string) (*models.B2BRequest, error) {
	if err := b.checkInitiatorCredentials(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if partyB == "" {
		return nil, &ValidationError{Field: "partyB", Reason: "is required"}
	}
	if err := checkAccountReference(accountReference); err != nil {
		return nil, err
	}

	return &models.B2BRequest{
		Initiator:              b.InitiatorName,
		SecurityCredential:     b.SecurityCredential,
		CommandID:              commandID,
		SenderIdentifierType:   "4",
		RecieverIdentifierType: "4",
		Amount:                 amount,
		PartyA:                 b.ShortCode,
		PartyB:                 partyB,
		AccountReference:       accountReference,
		Remarks:                remarks,
		QueueTimeOutURL:        b.QueueTimeoutURL,
		ResultURL:              b.ResultURL,
	}, nil
}

// Reversal builds a refund request for a settled transaction receipt.
func (b *RequestBuilder) Reversal(transactionID string, amount int64, remarks string) (*models.ReversalRequest, error) {
	if err := b.checkInitiatorCredentials(); err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, &ValidationError{Field: "transactionId", Reason: "is required"}
	}

	return &models.ReversalRequest{
		Initiator:              b.InitiatorName,
		SecurityCredential:     b.SecurityCredential,
		CommandID:              models.CommandTransactionReversal,
		TransactionID:          transactionID,
		Amount:                 amount,
		ReceiverParty:          b.ShortCode,
		RecieverIdentifierType: "11",
		ResultURL:              b.ResultURL,
		QueueTimeOutURL:        b.QueueTimeoutURL,
		Remarks:                remarks,
		Occasion:               remarks,
	}, nil
}

// TransactionStatus builds a generic status query for a gateway receipt.
func (b *RequestBuilder) TransactionStatus(transactionID, remarks string) (*models.TransactionStatusRequest, error) {
	if err := b.checkInitiatorCredentials(); err != nil {
		return nil, err
	}
	if transactionID == "" {
		return nil, &ValidationError{Field: "transactionId", Reason: "is required"}
	}

	return &models.TransactionStatusRequest{
		Initiator:          b.InitiatorName,
		SecurityCredential: b.SecurityCredential,
		CommandID:          models.CommandTransactionStatus,
		TransactionID:      transactionID,
		PartyA:             b.ShortCode,
		IdentifierType:     "4",
		ResultURL:          b.ResultURL,
		QueueTimeOutURL:    b.QueueTimeoutURL,
		Remarks:            remarks,
		Occasion:           remarks,
	}, nil
}

// RegisterURL builds a C2B callback registration for the short code.
func (b *RequestBuilder) RegisterURL(responseType, confirmationURL, validationURL string) (*models.RegisterURLRequest, error) {
	if b.ShortCode == "" {
		return nil, &ValidationError{Field: "shortCode", Reason: "is required"}
	}
	if responseType != "Completed" && responseType != "Cancelled" {
		return nil, &ValidationError{Field: "responseType", Reason: `must be "Completed" or "Cancelled"`}
	}
	if confirmationURL == "" || validationURL == "" {
		return nil, &ValidationError{Field: "callbackUrls", Reason: "confirmation and validation URLs are required"}
	}

	return &models.RegisterURLRequest{
		ShortCode:       b.ShortCode,
		ResponseType:    responseType,
		ConfirmationURL: confirmationURL,
		ValidationURL:   validationURL,
	}, nil
}

// AccountBalance builds a balance query for the short code's accounts.
func (b *RequestBuilder) AccountBalance(remarks string) (*models.AccountBalanceRequest, error) {
	if err := b.checkInitiatorCredentials(); err != nil {
		return nil, err
	}

	return &models.AccountBalanceRequest{
		Initiator:          b.InitiatorName,
		SecurityCredential: b.SecurityCredential,
		CommandID:          models.CommandAccountBalance,
		PartyA:             b.ShortCode,
		IdentifierType:     "4",
		Remarks:            remarks,
		QueueTimeOutURL:    b.QueueTimeoutURL,
		ResultURL:          b.ResultURL,
	}, nil
}
