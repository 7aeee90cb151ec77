package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Transfer moves quantity of a part between two route locations, optionally
// splitting off scrap at the origin, consuming a label lot and passing
// through the central warehouse.
type Transfer struct {
	ID            int             `gorm:"primary_key" json:"id"`
	PartId        int             `gorm:"index;not null" json:"part_id" binding:"required"`
	FromSectionId int             `gorm:"not null" json:"from_section_id"`
	FromOpNumber  int             `gorm:"not null" json:"from_op_number" binding:"required"`
	ToSectionId   int             `gorm:"not null" json:"to_section_id"`
	ToOpNumber    int             `gorm:"not null" json:"to_op_number" binding:"required"`
	TransferDate  time.Time       `gorm:"not null" json:"transfer_date" binding:"required"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Comment       string          `gorm:"size:255" json:"comment"`
	LabelId       *int            `gorm:"default:null" json:"label_id"`
	ViaWarehouse  *bool           `gorm:"not null;default:0" json:"via_warehouse"`
	IsDeleted     *bool           `gorm:"not null;default:0" json:"is_deleted"`
	CreatedBy     int             `gorm:"not null" json:"created_by"`
	Scrap         *Scrap          `gorm:"foreignKey:TransferId" json:"scrap,omitempty"`
	Part          *Part           `gorm:"foreignKey:PartId" json:"part,omitempty"`
	Label         *Label          `gorm:"foreignKey:LabelId" json:"label,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTransfer struct {
	PartId       int             `json:"part_id" binding:"required"`
	FromOpNumber int             `json:"from_op_number" binding:"required"`
	ToOpNumber   int             `json:"to_op_number" binding:"required"`
	TransferDate time.Time       `json:"transfer_date" binding:"required"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	Comment      string          `json:"comment"`
	LabelId      *int            `json:"label_id"`
	ViaWarehouse *bool           `json:"via_warehouse"`
	Scrap        *NewScrap       `json:"scrap"`
}

func (input NewTransfer) validate(ctx context.Context) error {
	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return ErrorInvalidQuantity
	}
	if input.FromOpNumber == input.ToOpNumber {
		return errors.New("transfers cannot be made within the same operation. please choose a different one and proceed")
	}
	if input.Scrap != nil {
		if input.Scrap.Qty.LessThanOrEqual(decimal.Zero) {
			return ErrorInvalidQuantity
		}
		if !input.Scrap.ScrapType.IsValid() {
			return errors.New("invalid scrap type")
		}
	}
	if err := utils.ValidateResourceId[Part](ctx, input.PartId); err != nil {
		return errors.New("part not found")
	}
	if input.LabelId != nil {
		if err := utils.ValidateResourceId[Label](ctx, *input.LabelId); err != nil {
			return errors.New("label not found")
		}
	}
	return nil
}

func AddTransfer(ctx context.Context, input *NewTransfer) (*Transfer, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	logger := config.GetLogger()
	debug := config.DebugEnabled("DEBUG_TRANSFER")

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	// resolve section ids from the part's route
	fromStep, err := GetRouteStep(ctx, input.PartId, input.FromOpNumber)
	if err != nil {
		return nil, errors.New("no route step at the origin operation")
	}
	toStep, err := GetRouteStep(ctx, input.PartId, input.ToOpNumber)
	if err != nil {
		return nil, errors.New("no route step at the destination operation")
	}

	viaWarehouse := input.ViaWarehouse != nil && *input.ViaWarehouse
	var warehouse *Section
	if viaWarehouse {
		warehouse, err = GetWarehouseSection(ctx)
		if err != nil {
			return nil, err
		}
		// the audit keeps one operation row per distinct location; a pass
		// through the destination's own section would duplicate it
		if warehouse.ID == toStep.SectionId {
			return nil, errors.New("destination is already the warehouse section")
		}
	}

	scrapQty := decimal.Zero
	if input.Scrap != nil {
		scrapQty = input.Scrap.Qty
	}
	totalDeduction := input.Qty.Add(scrapQty)

	if debug {
		logger.WithFields(logrus.Fields{
			"field":           "AddTransfer",
			"part_id":         input.PartId,
			"from_op_number":  input.FromOpNumber,
			"to_op_number":    input.ToOpNumber,
			"qty":             input.Qty,
			"scrap_qty":       scrapQty,
			"total_deduction": totalDeduction,
			"via_warehouse":   viaWarehouse,
		}).Info("begin transfer create")
	}

	transfer := Transfer{
		PartId:        input.PartId,
		FromSectionId: fromStep.SectionId,
		FromOpNumber:  input.FromOpNumber,
		ToSectionId:   toStep.SectionId,
		ToOpNumber:    input.ToOpNumber,
		TransferDate:  input.TransferDate,
		Qty:           input.Qty,
		Comment:       input.Comment,
		LabelId:       input.LabelId,
		ViaWarehouse:  &viaWarehouse,
		IsDeleted:     utils.NewFalse(),
		CreatedBy:     userId,
	}

	fromKey := BalanceKey{PartId: input.PartId, SectionId: fromStep.SectionId, OpNumber: input.FromOpNumber}
	toKey := BalanceKey{PartId: input.PartId, SectionId: toStep.SectionId, OpNumber: input.ToOpNumber}

	tx := db.Begin()

	// the transfer quantity and the scrap quantity come off the origin
	// balance in one deduction
	fromBalance, fromBefore, err := decrementBalance(tx.WithContext(ctx), fromKey, totalDeduction)
	if err != nil {
		if debug {
			logger.WithFields(logrus.Fields{
				"field": "AddTransfer",
				"stage": "decrement_origin",
				"error": err.Error(),
			}).Error("transfer create failed; rollback")
		}
		tx.Rollback()
		return nil, err
	}

	operations := []TransferAuditOperation{{
		PartId:        input.PartId,
		SectionId:     fromKey.SectionId,
		OpNumber:      fromKey.OpNumber,
		BalanceBefore: fromBefore,
		BalanceAfter:  fromBalance.Qty,
		QtyChange:     totalDeduction.Neg(),
	}}

	// a warehouse leg passes the quantity through the warehouse section at
	// the destination op number; the leg nets to zero but is audited so the
	// movement through the warehouse is reconstructible
	if viaWarehouse {
		whKey := BalanceKey{PartId: input.PartId, SectionId: warehouse.ID, OpNumber: input.ToOpNumber}
		_, whBefore, err := incrementBalance(tx.WithContext(ctx), whKey, input.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		whBalance, _, err := decrementBalance(tx.WithContext(ctx), whKey, input.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		operations = append(operations, TransferAuditOperation{
			PartId:        input.PartId,
			SectionId:     whKey.SectionId,
			OpNumber:      whKey.OpNumber,
			BalanceBefore: whBefore,
			BalanceAfter:  whBalance.Qty,
			QtyChange:     decimal.Zero,
		})
	}

	toBalance, toBefore, err := incrementBalance(tx.WithContext(ctx), toKey, input.Qty)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	operations = append(operations, TransferAuditOperation{
		PartId:        input.PartId,
		SectionId:     toKey.SectionId,
		OpNumber:      toKey.OpNumber,
		BalanceBefore: toBefore,
		BalanceAfter:  toBalance.Qty,
		QtyChange:     input.Qty,
	})

	var labelBefore, labelAfter *Label
	if input.LabelId != nil {
		labelBefore, labelAfter, err = consumeLabel(tx.WithContext(ctx), *input.LabelId, input.Qty)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Create(&transfer).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if input.Scrap != nil {
		scrap := Scrap{
			TransferId: &transfer.ID,
			PartId:     input.PartId,
			SectionId:  fromStep.SectionId,
			OpNumber:   input.FromOpNumber,
			Qty:        input.Scrap.Qty,
			ScrapType:  input.Scrap.ScrapType,
			Comment:    input.Scrap.Comment,
			UserId:     userId,
			RecordedAt: input.TransferDate,
		}
		if err := tx.WithContext(ctx).Create(&scrap).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		transfer.Scrap = &scrap
	}

	transactionId := uuid.New().String()
	audit := TransferAudit{
		TransferId:        transfer.ID,
		TransactionId:     transactionId,
		PartId:            input.PartId,
		FromSectionId:     fromKey.SectionId,
		FromOpNumber:      fromKey.OpNumber,
		ToSectionId:       toKey.SectionId,
		ToOpNumber:        toKey.OpNumber,
		FromBalanceBefore: fromBefore,
		FromBalanceAfter:  fromBalance.Qty,
		ToBalanceBefore:   toBefore,
		ToBalanceAfter:    toBalance.Qty,
		IsReverted:        utils.NewFalse(),
		UserId:            userId,
	}
	if labelBefore != nil && labelAfter != nil {
		audit.LabelId = input.LabelId
		audit.LabelQtyBefore = &labelBefore.RemainingQty
		audit.LabelQtyAfter = &labelAfter.RemainingQty
	}
	if input.Scrap != nil {
		audit.ScrapQty = &input.Scrap.Qty
		audit.ScrapType = &input.Scrap.ScrapType
	}
	for i := range operations {
		operations[i].TransactionId = transactionId
	}
	audit.Operations = operations
	if err := appendTransferAudit(tx.WithContext(ctx), &audit); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if debug {
		logger.WithFields(logrus.Fields{
			"field":          "AddTransfer",
			"transfer_id":    transfer.ID,
			"transaction_id": transactionId,
			"origin_balance": fromBalance.Qty,
			"dest_balance":   toBalance.Qty,
		}).Info("transfer committed")
	}

	return &transfer, nil
}

// RevertTransfer undoes a transfer by writing back the recorded
// balanceBefore of every touched location, exactly as audited. That returns
// any scrapped quantity to the origin as well; the Scrap record itself is
// kept. A transfer can be reverted exactly once.
func RevertTransfer(ctx context.Context, transferId int) (*Transfer, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	transfer, err := utils.FetchModel[Transfer](ctx, transferId, "Scrap")
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()

	if err := revertTransferTx(tx.WithContext(ctx), transferId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return transfer, nil
}

// DeleteTransfer undoes the transfer like RevertTransfer and hides the
// business record. The audit trail is kept.
func DeleteTransfer(ctx context.Context, transferId int) (*Transfer, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	transfer, err := utils.FetchModel[Transfer](ctx, transferId, "Scrap")
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if transfer.IsDeleted != nil && *transfer.IsDeleted {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.Begin()

	if err := revertTransferTx(tx.WithContext(ctx), transferId); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(transfer).Update("is_deleted", true).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	transfer.IsDeleted = utils.NewTrue()

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return transfer, nil
}

// revertTransferTx applies the revert inside the caller's transaction.
func revertTransferTx(tx *gorm.DB, transferId int) error {
	audit, err := getTransferAuditForUpdate(tx, transferId)
	if err != nil {
		return err
	}
	if audit.IsReverted != nil && *audit.IsReverted {
		return ErrorAlreadyReverted
	}

	for _, op := range audit.Operations {
		key := BalanceKey{PartId: op.PartId, SectionId: op.SectionId, OpNumber: op.OpNumber}
		if _, _, err := setBalanceQty(tx, key, op.BalanceBefore); err != nil {
			return err
		}
	}

	if audit.LabelId != nil && audit.LabelQtyBefore != nil && audit.LabelQtyAfter != nil {
		consumed := audit.LabelQtyBefore.Sub(*audit.LabelQtyAfter)
		if consumed.IsPositive() {
			if _, _, err := releaseLabel(tx, *audit.LabelId, consumed); err != nil {
				return err
			}
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"is_reverted": true,
		"reverted_at": now,
	}
	if err := tx.Model(audit).Updates(updates).Error; err != nil {
		return err
	}

	return nil
}

func GetTransfer(ctx context.Context, id int) (*Transfer, error) {
	return utils.FetchModel[Transfer](ctx, id, "Part", "Label", "Scrap")
}

func GetTransfers(ctx context.Context, partId *int, sectionId *int) ([]*Transfer, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Transfer{}).Where("is_deleted = ?", false)
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	if sectionId != nil {
		dbCtx = dbCtx.Where("from_section_id = ? OR to_section_id = ?", *sectionId, *sectionId)
	}
	var results []*Transfer
	if err := dbCtx.Preload("Part").Preload("Scrap").Order("transfer_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
