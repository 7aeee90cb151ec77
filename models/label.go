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

// Label is an issued batch tag. Number restarts from 1 each labelYear, so
// uniqueness is on (label_year, number). RemainingQty tracks how much of the
// issued quantity is still unconsumed; IsAssigned flips to true the first
// time any quantity is consumed and stays true even if a revert restores the
// full quantity.
type Label struct {
	ID           int             `gorm:"primary_key" json:"id"`
	PartId       int             `gorm:"index;not null" json:"part_id" binding:"required"`
	LabelDate    time.Time       `gorm:"not null" json:"label_date" binding:"required"`
	LabelYear    int             `gorm:"not null;uniqueIndex:idx_label_year_number" json:"label_year"`
	Number       int             `gorm:"not null;uniqueIndex:idx_label_year_number" json:"number"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_qty"`
	IsAssigned   *bool           `gorm:"not null;default:0" json:"is_assigned"`
	Part         *Part           `gorm:"foreignKey:PartId" json:"part,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLabel struct {
	PartId    int             `json:"part_id" binding:"required"`
	LabelDate time.Time       `json:"label_date" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
}

func GetLabel(ctx context.Context, id int) (*Label, error) {
	return utils.FetchModel[Label](ctx, id, "Part")
}

func GetLabels(ctx context.Context, partId *int, labelYear *int) ([]*Label, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Label{})
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	if labelYear != nil {
		dbCtx = dbCtx.Where("label_year = ?", *labelYear)
	}
	var results []*Label
	if err := dbCtx.Order("label_year DESC, number DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// CreateLabel issues a new label, allocating the next number within the
// label's year.
func CreateLabel(ctx context.Context, input *NewLabel) (*Label, error) {
	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return nil, ErrorInvalidQuantity
	}
	if err := utils.ValidateResourceId[Part](ctx, input.PartId); err != nil {
		return nil, errors.New("part not found")
	}

	db := config.GetDB()
	labelYear := input.LabelDate.Year()

	tx := db.Begin()

	// FOR UPDATE on the year's rows serializes concurrent allocations so two
	// creators cannot read the same max and collide on the unique index
	var maxNumber int
	err := tx.WithContext(ctx).Model(&Label{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("label_year = ?", labelYear).
		Select("COALESCE(MAX(number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	label := Label{
		PartId:       input.PartId,
		LabelDate:    input.LabelDate,
		LabelYear:    labelYear,
		Number:       maxNumber + 1,
		Qty:          input.Qty,
		RemainingQty: input.Qty,
		IsAssigned:   utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&label).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &label, nil
}

// lockLabel locks the label row for the duration of tx.
func lockLabel(tx *gorm.DB, labelId int) (*Label, error) {
	var label Label
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&label, labelId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &label, nil
}

// consumeLabel draws qty from the label's remaining quantity and marks it
// assigned. Returns pre-mutation and post-mutation snapshots for the audit
// trail.
func consumeLabel(tx *gorm.DB, labelId int, qty decimal.Decimal) (*Label, *Label, error) {
	label, err := lockLabel(tx, labelId)
	if err != nil {
		return nil, nil, err
	}
	if label.RemainingQty.LessThan(qty) {
		return nil, nil, ErrorInsufficientLabelQuantity
	}
	before := *label
	label.RemainingQty = label.RemainingQty.Sub(qty)
	updates := map[string]interface{}{
		"remaining_qty": label.RemainingQty,
		"is_assigned":   true,
	}
	if err := tx.Model(label).Updates(updates).Error; err != nil {
		return nil, nil, err
	}
	label.IsAssigned = utils.NewTrue()
	return &before, label, nil
}

// releaseLabel gives qty back to the label's remaining quantity. Remaining
// can never exceed the issued quantity; IsAssigned is deliberately left
// untouched, a label that was ever consumed stays assigned.
func releaseLabel(tx *gorm.DB, labelId int, qty decimal.Decimal) (*Label, *Label, error) {
	label, err := lockLabel(tx, labelId)
	if err != nil {
		return nil, nil, err
	}
	restored := label.RemainingQty.Add(qty)
	if restored.GreaterThan(label.Qty) {
		return nil, nil, errors.New("label release exceeds issued quantity")
	}
	before := *label
	label.RemainingQty = restored
	if err := tx.Model(label).Update("remaining_qty", label.RemainingQty).Error; err != nil {
		return nil, nil, err
	}
	return &before, label, nil
}

// setLabelRemainingQty overwrites remaining quantity with an audited prior
// value. Used only by the receipt revert path.
func setLabelRemainingQty(tx *gorm.DB, labelId int, qty decimal.Decimal) (*Label, *Label, error) {
	label, err := lockLabel(tx, labelId)
	if err != nil {
		return nil, nil, err
	}
	if qty.GreaterThan(label.Qty) || qty.IsNegative() {
		return nil, nil, errors.New("restored label quantity out of range")
	}
	before := *label
	label.RemainingQty = qty
	if err := tx.Model(label).Update("remaining_qty", label.RemainingQty).Error; err != nil {
		return nil, nil, err
	}
	return &before, label, nil
}
