package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
)

// Scrap is quantity removed from the ledger during a transfer. It is
// deducted from the origin balance together with the transfer quantity and
// never reaches any destination. The row itself is kept even when the
// transfer is reverted.
type Scrap struct {
	ID         int             `gorm:"primary_key" json:"id"`
	TransferId *int            `gorm:"index;default:null" json:"transfer_id"`
	PartId     int             `gorm:"index;not null" json:"part_id"`
	SectionId  int             `gorm:"not null" json:"section_id"`
	OpNumber   int             `gorm:"not null" json:"op_number"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	ScrapType  ScrapType       `gorm:"type:enum('T','E');not null" json:"scrap_type"`
	Comment    string          `gorm:"size:255" json:"comment"`
	UserId     int             `gorm:"not null" json:"user_id"`
	RecordedAt time.Time       `gorm:"not null" json:"recorded_at"`
	Part       *Part           `gorm:"foreignKey:PartId" json:"part,omitempty"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewScrap struct {
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	ScrapType ScrapType       `json:"scrap_type" binding:"required"`
	Comment   string          `json:"comment"`
}

func GetScrap(ctx context.Context, id int) (*Scrap, error) {
	return utils.FetchModel[Scrap](ctx, id, "Part")
}

func GetScraps(ctx context.Context, partId *int, sectionId *int) ([]*Scrap, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Scrap{})
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	if sectionId != nil {
		dbCtx = dbCtx.Where("section_id = ?", *sectionId)
	}
	var results []*Scrap
	if err := dbCtx.Preload("Part").Order("recorded_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
