package models

import "strconv"

// formatMsisdn renders a phone number the gateway sent as a JSON number.
func formatMsisdn(phone float64) string {
	return strconv.FormatFloat(phone, 'f', -1, 64)
}

// StkCallbackEnvelope is the JSON body the gateway posts to the STK callback
// endpoint. The interesting fields sit under Body.stkCallback with the
// settlement details packed into a name/value item list.
type StkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string  `json:"MerchantRequestID"`
			CheckoutRequestID string  `json:"CheckoutRequestID"`
			ResultCode        int     `json:"ResultCode"`
			ResultDesc        string  `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []StkCallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// StkCallbackResult is the flattened form of a callback the reconciler
// consumes. Status queries produce the same shape so both paths share one
// interpretation.
type StkCallbackResult struct {
	CheckoutRequestID  string  `json:"CheckoutRequestID"`
	MerchantRequestID  string  `json:"MerchantRequestID"`
	ResultCode         int     `json:"ResultCode"`
	ResultDesc         string  `json:"ResultDesc"`
	MpesaReceiptNumber string  `json:"MpesaReceiptNumber"`
	Amount             float64 `json:"Amount"`
	PhoneNumber        string  `json:"PhoneNumber"`
	TransactionDate    int64   `json:"TransactionDate"`
}

// Flatten unpacks the envelope's metadata item list into a StkCallbackResult.
func (e *StkCallbackEnvelope) Flatten() *StkCallbackResult {
	cb := e.Body.StkCallback
	result := &StkCallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if cb.CallbackMetadata == nil {
		return result
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if receipt, ok := item.Value.(string); ok {
				result.MpesaReceiptNumber = receipt
			}
		case "Amount":
			if amount, ok := item.Value.(float64); ok {
				result.Amount = amount
			}
		case "PhoneNumber":
			switch phone := item.Value.(type) {
			case string:
				result.PhoneNumber = phone
			case float64:
				result.PhoneNumber = formatMsisdn(phone)
			}
		case "TransactionDate":
			if date, ok := item.Value.(float64); ok {
				result.TransactionDate = int64(date)
			}
		}
	}
	return result
}

// ResultCallbackEnvelope is the JSON body posted to the B2B/B2C result
// endpoint.
type ResultCallbackEnvelope struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         *struct {
			ResultParameter []StkCallbackItem `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// TimeoutCallback is the body posted to the queue-timeout endpoint. Only the
// correlation identifiers are of interest.
type TimeoutCallback struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ConversationID           string `json:"ConversationID"`
}
