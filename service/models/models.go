package models

import (
	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Transaction states. A transaction is created in draft, moves to pending once
// the gateway has accepted the request, and ends in done or cancelled. Done and
// cancelled are terminal.
const (
	StateDraft int32 = iota
	StatePending
	StateDone
	StateCancelled
)

// Daraja command identifiers supported by the integration.
const (
	CommandCustomerPayBillOnline = "CustomerPayBillOnline"
	CommandBusinessPayment       = "BusinessPayment"
	CommandSalaryPayment         = "SalaryPayment"
	CommandPromotionPayment      = "PromotionPayment"
	CommandBusinessPayBill       = "BusinessPayBill"
	CommandBusinessBuyGoods      = "BusinessBuyGoods"
	CommandTransactionReversal   = "TransactionReversal"
	CommandTransactionStatus     = "TransactionStatusQuery"
	CommandAccountBalance        = "AccountBalance"
)

// Gateway result codes and the messages the reconciler attaches when a
// transaction fails with them. Loaded once, never mutated.
var resultCodeMessages = map[int]string{
	0:    "Success",
	1:    "Insufficient Funds",
	2:    "Less Than Minimum Transaction Value",
	3:    "More Than Maximum Transaction Value",
	4:    "Would Exceed Daily Transfer Limit",
	5:    "Would Exceed Minimum Balance",
	6:    "Unresolved Primary Party",
	7:    "Unresolved Receiver Party",
	8:    "Would Exceed Maximum Balance",
	11:   "Debit Account Invalid",
	12:   "Credit Account Invalid",
	13:   "Unresolved Debit Account",
	14:   "Unresolved Credit Account",
	15:   "Duplicate Detected",
	17:   "Internal Failure",
	20:   "Unresolved Initiator",
	26:   "Traffic blocking condition in place",
	1001: "Unable to lock subscriber, a transaction is already in process",
	1019: "Transaction has expired",
	1025: "An error occurred while sending the push request",
	1032: "Request cancelled by user",
	1037: "Timeout waiting for user input",
	2001: "The initiator information is invalid",
}

// ResultCodeName is the string used when a gateway code is not in the table.
const unknownResultMessage = "Transaction failed"

// ResultCodeMessage maps a gateway result code to a human readable message.
func ResultCodeMessage(code int) string {
	if msg, ok := resultCodeMessages[code]; ok {
		return msg
	}
	return unknownResultMessage
}

// StateName returns the readable name for a transaction state.
func StateName(state int32) string {
	switch state {
	case StateDraft:
		return "draft"
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transaction holds one payment attempt against the gateway.
type Transaction struct {
	frame.BaseModel

	Reference        string              `gorm:"type:varchar(50)"`
	CommandID        string              `gorm:"type:varchar(50)"`
	Phone            string              `gorm:"type:varchar(15)"`
	Amount           decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	Currency         string              `gorm:"type:varchar(10)"`
	AccountReference string              `gorm:"type:varchar(12)"`
	Description      string              `gorm:"type:varchar(255)"`

	State        int32  `gorm:"type:integer"`
	StateMessage string `gorm:"type:text"`

	// MpesaReceipt is the gateway receipt number confirming settlement.
	MpesaReceipt string `gorm:"type:varchar(50)"`

	// CheckoutRequestID correlates an STK push to its asynchronous callback.
	CheckoutRequestID string `gorm:"type:varchar(100);index"`
	MerchantRequestID string `gorm:"type:varchar(100)"`

	// ConversationID correlates B2B/B2C requests to their result callbacks.
	ConversationID string `gorm:"type:varchar(100);index"`

	Extra datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}

// IsFinal reports whether the transaction has reached a terminal state.
func (model *Transaction) IsFinal() bool {
	return model.State == StateDone || model.State == StateCancelled
}

// TransactionStatus records one state change for audit purposes.
type TransactionStatus struct {
	frame.BaseModel

	TransactionID string            `gorm:"type:varchar(50)"`
	State         int32             `gorm:"type:integer"`
	Extra         datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}
