package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/pitabwire/frame"
)

type TransactionRepository interface {
	GetByID(ctx context.Context, id string) (*models.Transaction, error)

	// GetByCheckoutRequestID returns every transaction correlating to the
	// given checkout request id. Callers decide what zero or multiple
	// matches mean; the reconciler treats both as a data integrity fault.
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) ([]*models.Transaction, error)
	GetByConversationID(ctx context.Context, conversationID string) ([]*models.Transaction, error)

	Search(ctx context.Context, query string) ([]*models.Transaction, error)
	Save(ctx context.Context, transaction *models.Transaction) error

	// FinalizeState moves a transaction to the given state only if it has
	// not already reached a terminal state. It reports whether a row was
	// updated; false means the record was already finalized and the caller
	// should treat the transition as a no-op.
	FinalizeState(ctx context.Context, id string, state int32, stateMessage, mpesaReceipt string) (bool, error)
}

type transactionRepository struct {
	abstractRepository
}

func NewTransactionRepository(_ context.Context, service *frame.Service) TransactionRepository {
	return &transactionRepository{abstractRepository{service: service}}
}

func (repo *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	transaction := models.Transaction{}
	err := repo.readDB(ctx).First(&transaction, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (repo *transactionRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	err := repo.readDB(ctx).Find(&transactions,
		"checkout_request_id = ?", checkoutRequestID).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) GetByConversationID(ctx context.Context, conversationID string) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	err := repo.readDB(ctx).Find(&transactions,
		"conversation_id = ?", conversationID).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) Search(ctx context.Context, query string) ([]*models.Transaction, error) {
	query = strings.TrimSpace(query)
	var transactions []*models.Transaction
	transactionQuery := repo.readDB(ctx)
	if query != "" {
		searchQ := fmt.Sprintf("%%%s%%", query)

		transactionQuery = transactionQuery.
			Where(" id ILIKE ? OR reference ILIKE ? OR mpesa_receipt ILIKE ?", searchQ, searchQ, searchQ)
	}

	err := transactionQuery.Find(&transactions).Error
	if err != nil {
		return nil, err
	}
	return transactions, nil
}

func (repo *transactionRepository) Save(ctx context.Context, transaction *models.Transaction) error {
	return repo.writeDB(ctx).Save(transaction).Error
}

func (repo *transactionRepository) FinalizeState(ctx context.Context, id string, state int32, stateMessage, mpesaReceipt string) (bool, error) {
	updates := map[string]any{
		"state":         state,
		"state_message": stateMessage,
	}
	if mpesaReceipt != "" {
		updates["mpesa_receipt"] = mpesaReceipt
	}

	// The guard on non-terminal states makes the update atomic against a
	// racing synchronous response and asynchronous callback: whichever
	// lands first wins, the loser affects zero rows.
	result := repo.writeDB(ctx).Model(&models.Transaction{}).
		Where("id = ? AND state IN ?", id, []int32{models.StateDraft, models.StatePending}).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
