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

// Balance is the current on-hand quantity of a part at one location
// (section + operation). Rows are only ever written inside ledger
// transactions; ad-hoc updates bypass the audit trail and are forbidden.
type Balance struct {
	ID        int             `gorm:"primary_key" json:"id"`
	PartId    int             `gorm:"not null;uniqueIndex:idx_balance_location" json:"part_id"`
	SectionId int             `gorm:"not null;uniqueIndex:idx_balance_location" json:"section_id"`
	OpNumber  int             `gorm:"not null;uniqueIndex:idx_balance_location" json:"op_number"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Part      *Part           `gorm:"foreignKey:PartId" json:"part,omitempty"`
	Section   *Section        `gorm:"foreignKey:SectionId" json:"section,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BalanceKey identifies one balance location.
type BalanceKey struct {
	PartId    int `json:"part_id"`
	SectionId int `json:"section_id"`
	OpNumber  int `json:"op_number"`
}

func (b Balance) Key() BalanceKey {
	return BalanceKey{PartId: b.PartId, SectionId: b.SectionId, OpNumber: b.OpNumber}
}

func GetBalance(ctx context.Context, id int) (*Balance, error) {
	return utils.FetchModel[Balance](ctx, id, "Part", "Section")
}

func GetBalances(ctx context.Context, partId *int, sectionId *int, opNumber *int) ([]*Balance, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Balance{})
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	if sectionId != nil {
		dbCtx = dbCtx.Where("section_id = ?", *sectionId)
	}
	if opNumber != nil {
		dbCtx = dbCtx.Where("op_number = ?", *opNumber)
	}
	var results []*Balance
	if err := dbCtx.Preload("Part").Preload("Section").Order("part_id, section_id, op_number").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// getBalanceForUpdate locks the balance row at key for the duration of tx.
// Returns ErrorRecordNotFound if no balance has ever been posted there.
func getBalanceForUpdate(tx *gorm.DB, key BalanceKey) (*Balance, error) {
	var balance Balance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("part_id = ? AND section_id = ? AND op_number = ?", key.PartId, key.SectionId, key.OpNumber).
		First(&balance).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// lockOrCreateBalance locks the balance row at key, creating a zero row first
// when the location has never held stock. The create uses ON DUPLICATE KEY so
// two concurrent first-writers converge on the same row.
func lockOrCreateBalance(tx *gorm.DB, key BalanceKey) (*Balance, error) {
	balance, err := getBalanceForUpdate(tx, key)
	if err == nil {
		return balance, nil
	}
	if err != utils.ErrorRecordNotFound {
		return nil, err
	}

	seed := Balance{
		PartId:    key.PartId,
		SectionId: key.SectionId,
		OpNumber:  key.OpNumber,
		Qty:       decimal.Zero,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	return getBalanceForUpdate(tx, key)
}

// incrementBalance adds qty at key, creating the row when missing.
// Returns the balance before and after the change.
func incrementBalance(tx *gorm.DB, key BalanceKey, qty decimal.Decimal) (*Balance, decimal.Decimal, error) {
	balance, err := lockOrCreateBalance(tx, key)
	if err != nil {
		return nil, decimal.Zero, err
	}
	before := balance.Qty
	balance.Qty = balance.Qty.Add(qty)
	if err := tx.Model(balance).Update("qty", balance.Qty).Error; err != nil {
		return nil, decimal.Zero, err
	}
	return balance, before, nil
}

// decrementBalance removes qty at key. The row must exist and hold at least
// qty; balances never go negative.
func decrementBalance(tx *gorm.DB, key BalanceKey, qty decimal.Decimal) (*Balance, decimal.Decimal, error) {
	balance, err := getBalanceForUpdate(tx, key)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, decimal.Zero, ErrorInsufficientBalance
		}
		return nil, decimal.Zero, err
	}
	if balance.Qty.LessThan(qty) {
		return nil, decimal.Zero, ErrorInsufficientBalance
	}
	before := balance.Qty
	balance.Qty = balance.Qty.Sub(qty)
	if err := tx.Model(balance).Update("qty", balance.Qty).Error; err != nil {
		return nil, decimal.Zero, err
	}
	return balance, before, nil
}

// setBalanceQty overwrites the quantity at key with an audited prior value.
// Used only by the revert paths, which restore recorded before-state verbatim.
func setBalanceQty(tx *gorm.DB, key BalanceKey, qty decimal.Decimal) (*Balance, decimal.Decimal, error) {
	balance, err := lockOrCreateBalance(tx, key)
	if err != nil {
		return nil, decimal.Zero, err
	}
	before := balance.Qty
	balance.Qty = qty
	if err := tx.Model(balance).Update("qty", balance.Qty).Error; err != nil {
		return nil, decimal.Zero, err
	}
	return balance, before, nil
}
