package events

import (
	"context"
	"errors"

	"github.com/antinvestor/mpesa-api/service/models"
	"github.com/pitabwire/frame"
	"gorm.io/gorm/clause"
)

// TransactionStatusSave persists status audit rows emitted by the reconciler.
type TransactionStatusSave struct {
	Service *frame.Service
}

func (event *TransactionStatusSave) Name() string {
	return "transaction.status.save"
}

func (event *TransactionStatusSave) PayloadType() any {
	return &models.TransactionStatus{}
}

func (event *TransactionStatusSave) Validate(_ context.Context, payload any) error {
	status, ok := payload.(*models.TransactionStatus)
	if !ok {
		return errors.New("payload is not of type models.TransactionStatus")
	}

	if status.GetID() == "" {
		return errors.New("transaction status id should already have been set")
	}
	if status.TransactionID == "" {
		return errors.New("transaction id is required")
	}

	return nil
}

func (event *TransactionStatusSave) Execute(ctx context.Context, payload any) error {
	status := payload.(*models.TransactionStatus)

	logger := event.Service.Log(ctx).WithField("type", event.Name())
	logger.WithField("payload", status).Debug("handling event")

	result := event.Service.DB(ctx, false).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(status)

	if result.Error != nil {
		logger.WithError(result.Error).Warn("could not save to db")
		return result.Error
	}

	logger.WithField("rows affected", result.RowsAffected).Debug("successfully saved record to db")
	return nil
}
