package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReceiptAudit is one append-only version row of a receipt. The row id acts
// as the version id; the receipt's current state is always "apply the latest
// row". Null PreviousQty means the receipt did not exist before the action,
// null NewQty means it no longer exists after it.
type ReceiptAudit struct {
	ID                    int                `gorm:"primary_key" json:"id"`
	ReceiptId             int                `gorm:"index;not null" json:"receipt_id"`
	PartId                int                `gorm:"not null" json:"part_id"`
	SectionId             int                `gorm:"not null" json:"section_id"`
	OpNumber              int                `gorm:"not null" json:"op_number"`
	Action                ReceiptAuditAction `gorm:"type:enum('Created','Deleted','Reverted');not null" json:"action"`
	PreviousQty           *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"previous_qty"`
	NewQty                *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"new_qty"`
	PreviousBalance       decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"previous_balance"`
	NewBalance            decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"new_balance"`
	PreviousLabelId       *int               `gorm:"default:null" json:"previous_label_id"`
	NewLabelId            *int               `gorm:"default:null" json:"new_label_id"`
	PreviousLabelAssigned *bool              `gorm:"default:null" json:"previous_label_assigned"`
	NewLabelAssigned      *bool              `gorm:"default:null" json:"new_label_assigned"`
	PreviousLabelQty      *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"previous_label_qty"`
	NewLabelQty           *decimal.Decimal   `gorm:"type:decimal(20,4)" json:"new_label_qty"`
	UserId                int                `gorm:"not null" json:"user_id"`
	CreatedAt             time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func appendReceiptAudit(tx *gorm.DB, audit *ReceiptAudit) error {
	return tx.Create(audit).Error
}

// GetReceiptAudits returns the version history of a receipt, oldest first.
func GetReceiptAudits(ctx context.Context, receiptId int) ([]*ReceiptAudit, error) {
	db := config.GetDB()
	var results []*ReceiptAudit
	err := db.WithContext(ctx).
		Where("receipt_id = ?", receiptId).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
