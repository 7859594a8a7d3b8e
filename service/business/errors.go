package business

import (
	"errors"
	"fmt"
)

var (
	ErrorInitializationFail = errors.New("internal configuration is invalid")

	ErrorTransactionNotDraft = errors.New("only draft transactions can be initiated")

	ErrorUnsupportedCommand = errors.New("unsupported gateway command")

	ErrorTransactionNotCorrelated = errors.New("transaction has no correlation identifier yet")
)

// ReconciliationError reports a callback that matched zero or more than one
// transaction. It signals data corruption or gateway misbehaviour; the event
// is rejected, never retried.
type ReconciliationError struct {
	CorrelationID string
	Matches       int
}

func (e *ReconciliationError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no transaction found for correlation id %q", e.CorrelationID)
	}
	return fmt.Sprintf("%d transactions found for correlation id %q", e.Matches, e.CorrelationID)
}
