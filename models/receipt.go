package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Receipt is an inbound addition of quantity at one balance location,
// optionally drawn from a label lot. The row is never edited directly; every
// state change goes through the audit trail so it can be reverted.
type Receipt struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PartId      int             `gorm:"index;not null" json:"part_id" binding:"required"`
	SectionId   int             `gorm:"index;not null" json:"section_id" binding:"required"`
	OpNumber    int             `gorm:"not null" json:"op_number" binding:"required"`
	ReceiptDate time.Time       `gorm:"not null" json:"receipt_date" binding:"required"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	LabelId     *int            `gorm:"default:null" json:"label_id"`
	Comment     string          `gorm:"size:255" json:"comment"`
	IsDeleted   *bool           `gorm:"not null;default:0" json:"is_deleted"`
	CreatedBy   int             `gorm:"not null" json:"created_by"`
	Part        *Part           `gorm:"foreignKey:PartId" json:"part,omitempty"`
	Section     *Section        `gorm:"foreignKey:SectionId" json:"section,omitempty"`
	Label       *Label          `gorm:"foreignKey:LabelId" json:"label,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReceipt struct {
	PartId      int             `json:"part_id" binding:"required"`
	SectionId   int             `json:"section_id" binding:"required"`
	OpNumber    int             `json:"op_number" binding:"required"`
	ReceiptDate time.Time       `json:"receipt_date" binding:"required"`
	Qty         decimal.Decimal `json:"qty" binding:"required"`
	LabelId     *int            `json:"label_id"`
	Comment     string          `json:"comment"`
}

func (r Receipt) balanceKey() BalanceKey {
	return BalanceKey{PartId: r.PartId, SectionId: r.SectionId, OpNumber: r.OpNumber}
}

func (input NewReceipt) validate(ctx context.Context) error {
	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return ErrorInvalidQuantity
	}
	if err := utils.ValidateResourceId[Part](ctx, input.PartId); err != nil {
		return errors.New("part not found")
	}
	if err := utils.ValidateResourceId[Section](ctx, input.SectionId); err != nil {
		return errors.New("section not found")
	}
	if input.LabelId != nil {
		if err := utils.ValidateResourceId[Label](ctx, *input.LabelId); err != nil {
			return errors.New("label not found")
		}
	}
	return nil
}

func AddReceipt(ctx context.Context, input *NewReceipt) (*Receipt, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	logger := config.GetLogger()
	debug := config.DebugEnabled("DEBUG_RECEIPT")

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":      "AddReceipt",
			"part_id":    input.PartId,
			"section_id": input.SectionId,
			"op_number":  input.OpNumber,
			"qty":        input.Qty,
			"label_id":   input.LabelId,
		}).Info("begin receipt create")
	}

	receipt := Receipt{
		PartId:      input.PartId,
		SectionId:   input.SectionId,
		OpNumber:    input.OpNumber,
		ReceiptDate: input.ReceiptDate,
		Qty:         input.Qty,
		LabelId:     input.LabelId,
		Comment:     input.Comment,
		IsDeleted:   utils.NewFalse(),
		CreatedBy:   userId,
	}

	tx := db.Begin()

	var labelBefore, labelAfter *Label
	if input.LabelId != nil {
		var err error
		labelBefore, labelAfter, err = consumeLabel(tx.WithContext(ctx), *input.LabelId, input.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	balance, balanceBefore, err := incrementBalance(tx.WithContext(ctx), receipt.balanceKey(), input.Qty)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Create(&receipt).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	audit := ReceiptAudit{
		ReceiptId:       receipt.ID,
		PartId:          receipt.PartId,
		SectionId:       receipt.SectionId,
		OpNumber:        receipt.OpNumber,
		Action:          ReceiptAuditActionCreated,
		PreviousQty:     nil,
		NewQty:          &receipt.Qty,
		PreviousBalance: balanceBefore,
		NewBalance:      balance.Qty,
		UserId:          userId,
	}
	if labelBefore != nil {
		audit.PreviousLabelId = &labelBefore.ID
		audit.PreviousLabelAssigned = labelBefore.IsAssigned
		audit.PreviousLabelQty = &labelBefore.RemainingQty
	}
	if labelAfter != nil {
		audit.NewLabelId = &labelAfter.ID
		audit.NewLabelAssigned = labelAfter.IsAssigned
		audit.NewLabelQty = &labelAfter.RemainingQty
	}
	if err := appendReceiptAudit(tx.WithContext(ctx), &audit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":       "AddReceipt",
			"receipt_id":  receipt.ID,
			"new_balance": balance.Qty,
		}).Info("receipt committed")
	}

	return &receipt, nil
}

// DeleteReceipt reverses the receipt's balance increment, releases any label
// quantity it consumed and appends a Deleted audit row. The receipt row is
// kept (flagged deleted) so its history stays navigable.
func DeleteReceipt(ctx context.Context, receiptId int) (*Receipt, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	receipt, err := utils.FetchModel[Receipt](ctx, receiptId)
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if receipt.IsDeleted != nil && *receipt.IsDeleted {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()

	balance, balanceBefore, err := decrementBalance(tx.WithContext(ctx), receipt.balanceKey(), receipt.Qty)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var labelBefore, labelAfter *Label
	if receipt.LabelId != nil {
		labelBefore, labelAfter, err = releaseLabel(tx.WithContext(ctx), *receipt.LabelId, receipt.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Model(receipt).Update("is_deleted", true).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	receipt.IsDeleted = utils.NewTrue()

	audit := ReceiptAudit{
		ReceiptId:       receipt.ID,
		PartId:          receipt.PartId,
		SectionId:       receipt.SectionId,
		OpNumber:        receipt.OpNumber,
		Action:          ReceiptAuditActionDeleted,
		PreviousQty:     &receipt.Qty,
		NewQty:          nil,
		PreviousBalance: balanceBefore,
		NewBalance:      balance.Qty,
		UserId:          userId,
	}
	if labelBefore != nil {
		audit.PreviousLabelId = &labelBefore.ID
		audit.PreviousLabelAssigned = labelBefore.IsAssigned
		audit.PreviousLabelQty = &labelBefore.RemainingQty
	}
	if labelAfter != nil {
		audit.NewLabelId = &labelAfter.ID
		audit.NewLabelAssigned = labelAfter.IsAssigned
		audit.NewLabelQty = &labelAfter.RemainingQty
	}
	if err := appendReceiptAudit(tx.WithContext(ctx), &audit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return receipt, nil
}

// RevertReceipt rolls the receipt back to the state captured before the
// given audit version. The recorded previous balance, quantity and label
// quantity are applied verbatim, never recomputed, and a Reverted audit row
// is appended on top.
func RevertReceipt(ctx context.Context, receiptId int, toVersionId int) (*Receipt, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	receipt, err := utils.FetchModel[Receipt](ctx, receiptId)
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	version, err := utils.FetchModel[ReceiptAudit](ctx, toVersionId)
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if version.ReceiptId != receipt.ID {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()

	balance, balanceBefore, err := setBalanceQty(tx.WithContext(ctx), receipt.balanceKey(), version.PreviousBalance)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// restore the receipt row to the captured quantity; a null previous
	// quantity means the receipt did not exist at that version
	previousQty := receipt.Qty
	wasDeleted := receipt.IsDeleted != nil && *receipt.IsDeleted
	if version.PreviousQty == nil {
		if err := tx.WithContext(ctx).Model(receipt).Update("is_deleted", true).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		receipt.IsDeleted = utils.NewTrue()
	} else {
		updates := map[string]interface{}{
			"qty":        *version.PreviousQty,
			"is_deleted": false,
		}
		if err := tx.WithContext(ctx).Model(receipt).Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		receipt.Qty = *version.PreviousQty
		receipt.IsDeleted = utils.NewFalse()
	}

	var labelBefore, labelAfter *Label
	if version.PreviousLabelId != nil && version.PreviousLabelQty != nil {
		labelBefore, labelAfter, err = setLabelRemainingQty(tx.WithContext(ctx), *version.PreviousLabelId, *version.PreviousLabelQty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	audit := ReceiptAudit{
		ReceiptId:       receipt.ID,
		PartId:          receipt.PartId,
		SectionId:       receipt.SectionId,
		OpNumber:        receipt.OpNumber,
		Action:          ReceiptAuditActionReverted,
		NewQty:          version.PreviousQty,
		PreviousBalance: balanceBefore,
		NewBalance:      balance.Qty,
		UserId:          userId,
	}
	if !wasDeleted {
		audit.PreviousQty = &previousQty
	}
	if labelBefore != nil {
		audit.PreviousLabelId = &labelBefore.ID
		audit.PreviousLabelAssigned = labelBefore.IsAssigned
		audit.PreviousLabelQty = &labelBefore.RemainingQty
	}
	if labelAfter != nil {
		audit.NewLabelId = &labelAfter.ID
		audit.NewLabelAssigned = labelAfter.IsAssigned
		audit.NewLabelQty = &labelAfter.RemainingQty
	}
	if err := appendReceiptAudit(tx.WithContext(ctx), &audit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return receipt, nil
}

func GetReceipt(ctx context.Context, id int) (*Receipt, error) {
	return utils.FetchModel[Receipt](ctx, id, "Part", "Section", "Label")
}

func GetReceipts(ctx context.Context, partId *int, sectionId *int) ([]*Receipt, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Receipt{}).Where("is_deleted = ?", false)
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	if sectionId != nil {
		dbCtx = dbCtx.Where("section_id = ?", *sectionId)
	}
	var results []*Receipt
	if err := dbCtx.Preload("Part").Preload("Section").Order("receipt_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
