package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransferAudit captures one transfer's full before/after state. The
// TransactionId groups the parent row with its per-location operation rows
// so a multi-leg transfer (origin, destination, optional warehouse leg) is
// reconstructible and revertible as one unit.
type TransferAudit struct {
	ID                int                      `gorm:"primary_key" json:"id"`
	TransferId        int                      `gorm:"uniqueIndex;not null" json:"transfer_id"`
	TransactionId     string                   `gorm:"size:36;index;not null" json:"transaction_id"`
	PartId            int                      `gorm:"index;not null" json:"part_id"`
	FromSectionId     int                      `gorm:"not null" json:"from_section_id"`
	FromOpNumber      int                      `gorm:"not null" json:"from_op_number"`
	ToSectionId       int                      `gorm:"not null" json:"to_section_id"`
	ToOpNumber        int                      `gorm:"not null" json:"to_op_number"`
	FromBalanceBefore decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"from_balance_before"`
	FromBalanceAfter  decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"from_balance_after"`
	ToBalanceBefore   decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"to_balance_before"`
	ToBalanceAfter    decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"to_balance_after"`
	LabelId           *int                     `gorm:"default:null" json:"label_id"`
	LabelQtyBefore    *decimal.Decimal         `gorm:"type:decimal(20,4)" json:"label_qty_before"`
	LabelQtyAfter     *decimal.Decimal         `gorm:"type:decimal(20,4)" json:"label_qty_after"`
	ScrapQty          *decimal.Decimal         `gorm:"type:decimal(20,4)" json:"scrap_qty"`
	ScrapType         *ScrapType               `gorm:"type:enum('T','E')" json:"scrap_type"`
	IsReverted        *bool                    `gorm:"not null;default:0" json:"is_reverted"`
	RevertedAt        *time.Time               `gorm:"default:null" json:"reverted_at"`
	UserId            int                      `gorm:"not null" json:"user_id"`
	Operations        []TransferAuditOperation `gorm:"foreignKey:TransferAuditId" json:"operations"`
	CreatedAt         time.Time                `gorm:"autoCreateTime" json:"created_at"`
}

// TransferAuditOperation records the balance movement at one distinct
// (sectionId, opNumber) the transfer touched. QtyChange is negative for the
// origin leg, positive for the destination leg and zero for a warehouse
// pass-through leg.
type TransferAuditOperation struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TransferAuditId int             `gorm:"index;not null" json:"transfer_audit_id"`
	TransactionId   string          `gorm:"size:36;index;not null" json:"transaction_id"`
	PartId          int             `gorm:"not null" json:"part_id"`
	SectionId       int             `gorm:"not null" json:"section_id"`
	OpNumber        int             `gorm:"not null" json:"op_number"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance_after"`
	QtyChange       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_change"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func appendTransferAudit(tx *gorm.DB, audit *TransferAudit) error {
	return tx.Create(audit).Error
}

// getTransferAuditForUpdate locks the audit row of a transfer so the revert
// guard cannot race with a concurrent revert.
func getTransferAuditForUpdate(tx *gorm.DB, transferId int) (*TransferAudit, error) {
	var audit TransferAudit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transfer_id = ?", transferId).
		First(&audit).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := tx.Where("transfer_audit_id = ?", audit.ID).Order("id ASC").Find(&audit.Operations).Error; err != nil {
		return nil, err
	}
	return &audit, nil
}

// GetTransferAudit returns the audit record of a transfer with its
// per-location operation rows.
func GetTransferAudit(ctx context.Context, transferId int) (*TransferAudit, error) {
	db := config.GetDB()
	var audit TransferAudit
	err := db.WithContext(ctx).
		Preload("Operations").
		Where("transfer_id = ?", transferId).
		First(&audit).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &audit, nil
}
