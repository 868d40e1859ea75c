package repository

import (
	"time"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
)

// TransferEventModel is the persistence model for the transfer_events table.
type TransferEventModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	SubscriptionID int    `gorm:"not null"`
	State          string `gorm:"type:varchar(20);not null"`
	StateCode      int    `gorm:"not null"`
	PendingCount   int    `gorm:"not null;default:0"`
	ErrorCode      int    `gorm:"not null;default:0"`
	ErrorName      string `gorm:"type:varchar(40);not null"`
	CreatedAt      time.Time
}

func (TransferEventModel) TableName() string {
	return "transfer_events"
}

func transferEventModelFromDomain(e *domain.TransferEvent) *TransferEventModel {
	if e == nil {
		return nil
	}

	return &TransferEventModel{
		ID:             e.ID,
		SubscriptionID: e.SubscriptionID,
		State:          e.State.String(),
		StateCode:      int(e.State),
		PendingCount:   e.PendingCount,
		ErrorCode:      int(e.ErrorCode),
		ErrorName:      e.ErrorCode.String(),
		CreatedAt:      e.CreatedAt,
	}
}

func transferEventModelToDomain(m *TransferEventModel) *domain.TransferEvent {
	if m == nil {
		return nil
	}

	return &domain.TransferEvent{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		State:          domain.TransferState(m.StateCode),
		PendingCount:   m.PendingCount,
		ErrorCode:      domain.ErrorCode(m.ErrorCode),
		CreatedAt:      m.CreatedAt,
	}
}
