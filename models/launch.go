package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
)

// Launch removes quantity from an origin balance and forecasts the labor
// hours still needed to finish those units along the rest of the part's
// route. The forecast rows never touch balances.
type Launch struct {
	ID               int               `gorm:"primary_key" json:"id"`
	PartId           int               `gorm:"index;not null" json:"part_id" binding:"required"`
	SectionId        int               `gorm:"not null" json:"section_id"`
	FromOpNumber     int               `gorm:"not null" json:"from_op_number" binding:"required"`
	LaunchDate       time.Time         `gorm:"not null" json:"launch_date" binding:"required"`
	Qty              decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Comment          string            `gorm:"size:255" json:"comment"`
	SumHoursToFinish decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"sum_hours_to_finish"`
	CreatedBy        int               `gorm:"not null" json:"created_by"`
	Operations       []LaunchOperation `gorm:"foreignKey:LaunchId" json:"operations"`
	Part             *Part             `gorm:"foreignKey:PartId" json:"part,omitempty"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// LaunchOperation is the forecast for one remaining route step:
// hours = normHours x launch quantity.
type LaunchOperation struct {
	ID          int             `gorm:"primary_key" json:"id"`
	LaunchId    int             `gorm:"index;not null" json:"launch_id"`
	OpNumber    int             `gorm:"not null" json:"op_number"`
	OperationId int             `gorm:"not null" json:"operation_id"`
	SectionId   int             `gorm:"not null" json:"section_id"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	NormHours   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"norm_hours"`
	Hours       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"hours"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewLaunch struct {
	PartId       int             `json:"part_id" binding:"required"`
	FromOpNumber int             `json:"from_op_number" binding:"required"`
	LaunchDate   time.Time       `json:"launch_date" binding:"required"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
	Comment      string          `json:"comment"`
}

// buildLaunchOperations projects labor hours over the remaining route steps.
// Returns the forecast rows and the summed hours to finish.
func buildLaunchOperations(steps []RouteStep, qty decimal.Decimal) ([]LaunchOperation, decimal.Decimal) {
	operations := make([]LaunchOperation, 0, len(steps))
	sum := decimal.Zero
	for _, step := range steps {
		hours := step.NormHours.Mul(qty)
		operations = append(operations, LaunchOperation{
			OpNumber:    step.OpNumber,
			OperationId: step.OperationId,
			SectionId:   step.SectionId,
			Qty:         qty,
			NormHours:   step.NormHours,
			Hours:       hours,
		})
		sum = sum.Add(hours)
	}
	return operations, sum
}

func AddLaunch(ctx context.Context, input *NewLaunch) (*Launch, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	if input.Qty.LessThanOrEqual(decimal.Zero) {
		return nil, ErrorInvalidQuantity
	}
	if err := utils.ValidateResourceId[Part](ctx, input.PartId); err != nil {
		return nil, errors.New("part not found")
	}

	originStep, err := GetRouteStep(ctx, input.PartId, input.FromOpNumber)
	if err != nil {
		return nil, errors.New("no route step at the origin operation")
	}

	tail, err := GetRouteTail(ctx, input.PartId, input.FromOpNumber)
	if err != nil {
		return nil, err
	}

	operations, sumHours := buildLaunchOperations(tail, input.Qty)

	launch := Launch{
		PartId:           input.PartId,
		SectionId:        originStep.SectionId,
		FromOpNumber:     input.FromOpNumber,
		LaunchDate:       input.LaunchDate,
		Qty:              input.Qty,
		Comment:          input.Comment,
		SumHoursToFinish: sumHours,
		CreatedBy:        userId,
		Operations:       operations,
	}

	originKey := BalanceKey{PartId: input.PartId, SectionId: originStep.SectionId, OpNumber: input.FromOpNumber}

	tx := db.Begin()

	if _, _, err := decrementBalance(tx.WithContext(ctx), originKey, input.Qty); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Create(&launch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &launch, nil
}

// DeleteLaunch puts the launched quantity back on the origin balance and
// removes the launch with its forecast rows. The origin balance row must
// still exist; if it was removed by other means the delete is refused
// instead of silently recreating ledger state.
func DeleteLaunch(ctx context.Context, launchId int) (*Launch, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	launch, err := utils.FetchModel[Launch](ctx, launchId, "Operations")
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	originKey := BalanceKey{PartId: launch.PartId, SectionId: launch.SectionId, OpNumber: launch.FromOpNumber}

	tx := db.Begin()

	if _, err := getBalanceForUpdate(tx.WithContext(ctx), originKey); err != nil {
		tx.Rollback()
		if err == utils.ErrorRecordNotFound {
			return nil, ErrorConflict
		}
		return nil, err
	}

	if _, _, err := incrementBalance(tx.WithContext(ctx), originKey, launch.Qty); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Model(launch).Association("Operations").Unscoped().Clear(); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Delete(launch).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return launch, nil
}

func GetLaunch(ctx context.Context, id int) (*Launch, error) {
	return utils.FetchModel[Launch](ctx, id, "Operations", "Part")
}

func GetLaunches(ctx context.Context, partId *int) ([]*Launch, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Launch{})
	if partId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *partId)
	}
	var results []*Launch
	if err := dbCtx.Preload("Operations").Preload("Part").Order("launch_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
