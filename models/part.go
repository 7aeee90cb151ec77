package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
)

type Part struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Number    string    `gorm:"size:100;not null;unique" json:"number" binding:"required"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	IsActive  *bool     `gorm:"not null;default:1" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Section struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Code        string    `gorm:"size:50;not null;unique" json:"code" binding:"required"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	IsWarehouse *bool     `gorm:"not null;default:0" json:"is_warehouse"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Operation struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:50;not null;unique" json:"code" binding:"required"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetPart(ctx context.Context, id int) (*Part, error) {
	return utils.FetchModel[Part](ctx, id)
}

func GetAllParts(ctx context.Context) ([]*Part, error) {
	return utils.FetchAllModels[Part](ctx)
}

func GetPartByNumber(ctx context.Context, number string) (*Part, error) {
	db := config.GetDB()
	var result Part
	if err := db.WithContext(ctx).Where("number = ?", number).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetSection(ctx context.Context, id int) (*Section, error) {
	return utils.FetchModel[Section](ctx, id)
}

func GetAllSections(ctx context.Context) ([]*Section, error) {
	return utils.FetchAllModels[Section](ctx)
}

// GetWarehouseSection returns the section flagged as the central warehouse.
// Transfers routed via warehouse pass through this section.
func GetWarehouseSection(ctx context.Context) (*Section, error) {
	db := config.GetDB()
	var result Section
	if err := db.WithContext(ctx).Where("is_warehouse = ?", true).First(&result).Error; err != nil {
		return nil, errors.New("no warehouse section is configured")
	}
	return &result, nil
}

func GetOperation(ctx context.Context, id int) (*Operation, error) {
	return utils.FetchModel[Operation](ctx, id)
}

func GetAllOperations(ctx context.Context) ([]*Operation, error) {
	return utils.FetchAllModels[Operation](ctx)
}
