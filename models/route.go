package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
)

// RouteStep is one operation of a part's manufacturing route, ordered by
// OpNumber. NormHours is the labor norm for producing one unit at this step.
type RouteStep struct {
	ID          int             `gorm:"primary_key" json:"id"`
	PartId      int             `gorm:"not null;uniqueIndex:idx_route_part_op" json:"part_id" binding:"required"`
	OpNumber    int             `gorm:"not null;uniqueIndex:idx_route_part_op" json:"op_number" binding:"required"`
	OperationId int             `gorm:"not null" json:"operation_id" binding:"required"`
	SectionId   int             `gorm:"not null" json:"section_id" binding:"required"`
	NormHours   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"norm_hours"`
	Operation   *Operation      `gorm:"foreignKey:OperationId" json:"operation,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

/*
caches:
	RouteTail:$partId:$fromOpNumber
*/

const routeTailCacheLifetime = 5 * time.Minute

// GetRouteStep resolves the route step of a part at the given op number.
func GetRouteStep(ctx context.Context, partId int, opNumber int) (*RouteStep, error) {
	db := config.GetDB()
	var result RouteStep
	err := db.WithContext(ctx).
		Where("part_id = ? AND op_number = ?", partId, opNumber).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// GetRouteTail returns the route steps of a part from fromOpNumber (inclusive)
// to the end of the route, ordered by op number. Routes change rarely, so the
// tail is cached in redis with a short lifetime instead of being invalidated.
func GetRouteTail(ctx context.Context, partId int, fromOpNumber int) ([]RouteStep, error) {
	cacheKey := fmt.Sprintf("RouteTail:%d:%d", partId, fromOpNumber)

	var steps []RouteStep
	exists, err := config.GetRedisObject(cacheKey, &steps)
	if err == nil && exists && len(steps) > 0 {
		return steps, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).
		Where("part_id = ? AND op_number >= ?", partId, fromOpNumber).
		Order("op_number ASC").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.New("part has no route steps at or after the given operation")
	}

	// best effort cache; a miss only costs a re-read
	_ = config.SetRedisObject(cacheKey, steps, routeTailCacheLifetime)

	return steps, nil
}

// InvalidateRouteTail drops the cached tails of a part after its route
// changed. A tail cached at any op number of the route may be stale, so the
// caller passes every op number of the new route.
func InvalidateRouteTail(partId int, opNumbers []int) error {
	if len(opNumbers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(opNumbers))
	for _, op := range opNumbers {
		keys = append(keys, fmt.Sprintf("RouteTail:%d:%d", partId, op))
	}
	return config.RemoveRedisKey(keys...)
}

func GetRoute(ctx context.Context, partId int) ([]RouteStep, error) {
	db := config.GetDB()
	var steps []RouteStep
	err := db.WithContext(ctx).
		Where("part_id = ?", partId).
		Order("op_number ASC").
		Preload("Operation").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}
