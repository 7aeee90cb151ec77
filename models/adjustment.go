package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Adjustment is a manual correction applied directly to one balance. A row
// is only written when the quantity actually changes.
type Adjustment struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BalanceId   int             `gorm:"index;not null" json:"balance_id"`
	PartId      int             `gorm:"index;not null" json:"part_id"`
	SectionId   int             `gorm:"not null" json:"section_id"`
	OpNumber    int             `gorm:"not null" json:"op_number"`
	PreviousQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"previous_qty"`
	NewQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"new_qty"`
	Delta       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"delta"`
	Comment     string          `gorm:"size:255" json:"comment"`
	UserId      int             `gorm:"not null" json:"user_id"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewAdjustment struct {
	BalanceId int             `json:"balance_id" binding:"required"`
	NewQty    decimal.Decimal `json:"new_qty"`
	Comment   string          `json:"comment"`
}

// AdjustmentResult reports what the adjustment did. AdjustmentId stays zero
// and Delta zero when the new quantity equals the current one (no-op).
type AdjustmentResult struct {
	AdjustmentId int             `json:"adjustment_id"`
	BalanceId    int             `json:"balance_id"`
	PreviousQty  decimal.Decimal `json:"previous_qty"`
	NewQty       decimal.Decimal `json:"new_qty"`
	Delta        decimal.Decimal `json:"delta"`
}

// AdjustBalance sets a balance to newQty and records the delta. Setting a
// balance to its current value is a no-op: no row is written, the returned
// delta is zero.
func AdjustBalance(ctx context.Context, input *NewAdjustment) (*AdjustmentResult, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	if input.NewQty.IsNegative() {
		return nil, ErrorInvalidQuantity
	}

	tx := db.Begin()

	var balance Balance
	err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&balance, input.BalanceId).Error
	if err != nil {
		tx.Rollback()
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	result := AdjustmentResult{
		BalanceId:   balance.ID,
		PreviousQty: balance.Qty,
		NewQty:      input.NewQty,
		Delta:       input.NewQty.Sub(balance.Qty),
	}

	if balance.Qty.Equal(input.NewQty) {
		tx.Rollback()
		result.NewQty = balance.Qty
		result.Delta = decimal.Zero
		return &result, nil
	}

	if err := tx.WithContext(ctx).Model(&balance).Update("qty", input.NewQty).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	adjustment := Adjustment{
		BalanceId:   balance.ID,
		PartId:      balance.PartId,
		SectionId:   balance.SectionId,
		OpNumber:    balance.OpNumber,
		PreviousQty: result.PreviousQty,
		NewQty:      input.NewQty,
		Delta:       result.Delta,
		Comment:     input.Comment,
		UserId:      userId,
	}
	if err := tx.WithContext(ctx).Create(&adjustment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	result.AdjustmentId = adjustment.ID

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &result, nil
}

func GetAdjustments(ctx context.Context, balanceId *int, partId *int) ([]*Adjustment, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Adjustment{})
	if balanceId != nil {
		dbCtx = dbCtx.Where("balance_id = ?", *balanceId)
	}
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	var results []*Adjustment
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
