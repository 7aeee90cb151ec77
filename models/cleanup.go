package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CleanupJob is a staged bulk balance cleanup. Preview snapshots the matched
// balances without touching them; execute re-validates each snapshot against
// the live balance and only zeroes rows that have not drifted since preview.
type CleanupJob struct {
	ID           int                `gorm:"primary_key" json:"id"`
	PartId       *int               `gorm:"default:null" json:"part_id"`
	SectionId    *int               `gorm:"default:null" json:"section_id"`
	OpNumber     *int               `gorm:"default:null" json:"op_number"`
	MinQty       decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"min_qty"`
	Comment      string             `gorm:"size:255" json:"comment"`
	IsExecuted   *bool              `gorm:"not null;default:0" json:"is_executed"`
	ExecutedAt   *time.Time         `gorm:"default:null" json:"executed_at"`
	StagedCount  int                `gorm:"not null;default:0" json:"staged_count"`
	StagedQty    decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"staged_qty"`
	AppliedCount int                `gorm:"not null;default:0" json:"applied_count"`
	SkippedCount int                `gorm:"not null;default:0" json:"skipped_count"`
	RemovedQty   decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"removed_qty"`
	CreatedBy    int                `gorm:"not null" json:"created_by"`
	Items        []CleanupStageItem `gorm:"foreignKey:CleanupJobId" json:"items"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// CleanupStageItem snapshots one balance at preview time.
type CleanupStageItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CleanupJobId int             `gorm:"not null;uniqueIndex:idx_cleanup_job_balance" json:"cleanup_job_id"`
	BalanceId    int             `gorm:"not null;uniqueIndex:idx_cleanup_job_balance" json:"balance_id"`
	PreviousQty  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"previous_qty"`
	IsApplied    *bool           `gorm:"not null;default:0" json:"is_applied"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCleanupJob struct {
	PartId    *int            `json:"part_id"`
	SectionId *int            `json:"section_id"`
	OpNumber  *int            `json:"op_number"`
	MinQty    decimal.Decimal `json:"min_qty"`
	Comment   string          `json:"comment"`
}

// CleanupResult summarizes an executed job. Skipped counts stage items whose
// balance drifted between preview and execute.
type CleanupResult struct {
	JobId      int             `json:"job_id"`
	Applied    int             `json:"applied"`
	Skipped    int             `json:"skipped"`
	RemovedQty decimal.Decimal `json:"removed_qty"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// stageItemDrifted reports whether a staged balance changed between preview
// and execute. Drifted items are skipped, never zeroed.
func stageItemDrifted(stagedQty decimal.Decimal, currentQty decimal.Decimal) bool {
	return !stagedQty.Equal(currentQty)
}

// cleanupTargetQty is the quantity an applied balance is set to. The default
// zeroes the balance; floor mode (CLEANUP_FLOOR_MODE=floor) reduces it to
// the job's threshold instead.
func cleanupTargetQty(minQty decimal.Decimal, floorMode bool) decimal.Decimal {
	if floorMode {
		return minQty
	}
	return decimal.Zero
}

// PreviewCleanup stages every balance matching the filter with quantity at
// or above MinQty. No balance is mutated.
func PreviewCleanup(ctx context.Context, input *NewCleanupJob) (*CleanupJob, error) {
	db := config.GetDB()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	if input.MinQty.IsNegative() {
		return nil, ErrorInvalidQuantity
	}

	dbCtx := db.WithContext(ctx).Model(&Balance{}).Where("qty >= ?", input.MinQty)
	if input.PartId != nil {
		dbCtx = dbCtx.Where("part_id = ?", *input.PartId)
	}
	if input.SectionId != nil {
		dbCtx = dbCtx.Where("section_id = ?", *input.SectionId)
	}
	if input.OpNumber != nil {
		dbCtx = dbCtx.Where("op_number = ?", *input.OpNumber)
	}

	var balances []Balance
	if err := dbCtx.Order("id ASC").Find(&balances).Error; err != nil {
		return nil, err
	}

	job := CleanupJob{
		PartId:      input.PartId,
		SectionId:   input.SectionId,
		OpNumber:    input.OpNumber,
		MinQty:      input.MinQty,
		Comment:     input.Comment,
		IsExecuted:  utils.NewFalse(),
		StagedCount: len(balances),
		CreatedBy:   userId,
	}
	for _, balance := range balances {
		job.StagedQty = job.StagedQty.Add(balance.Qty)
		job.Items = append(job.Items, CleanupStageItem{
			BalanceId:   balance.ID,
			PreviousQty: balance.Qty,
			IsApplied:   utils.NewFalse(),
		})
	}

	if err := db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}

	return &job, nil
}

// ExecuteCleanup applies a staged job. Requires an explicit confirmation
// flag; a job executes at most once and repeated calls return the recorded
// result together with ErrorAlreadyExecuted. Stage items whose balance
// drifted since preview are skipped and reported, not zeroed.
func ExecuteCleanup(ctx context.Context, jobId int, confirmed bool) (*CleanupResult, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	// Redis lock is a best-effort optimization; correctness comes from the
	// MySQL advisory lock plus the row lock on the job inside the transaction.
	var lock *redislock.Lock
	if redisLock := config.GetRedisLock(); redisLock != nil {
		var err error
		lock, err = redisLock.Obtain(ctx, fmt.Sprintf("lock:cleanup:%d", jobId), 30*time.Second, nil)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"field":  "ExecuteCleanup",
				"job_id": jobId,
			}).Warn("could not obtain redis lock; proceeding without redis lock")
			lock = nil
		}
	}
	defer func() {
		if lock != nil {
			_ = lock.Release(ctx)
		}
	}()

	var result CleanupResult
	var floorMode bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// GET_LOCK is connection-scoped, so the release must run on the same
		// connection while the transaction is still open.
		if err := acquireCleanupLock(tx, jobId); err != nil {
			return err
		}
		defer releaseCleanupLock(tx, jobId)

		var job CleanupJob
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, jobId).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		if job.IsExecuted != nil && *job.IsExecuted {
			result = CleanupResult{
				JobId:      job.ID,
				Applied:    job.AppliedCount,
				Skipped:    job.SkippedCount,
				RemovedQty: job.RemovedQty,
			}
			if job.ExecutedAt != nil {
				result.ExecutedAt = *job.ExecutedAt
			}
			return ErrorAlreadyExecuted
		}

		if !confirmed {
			return ErrorNotConfirmed
		}

		var items []CleanupStageItem
		if err := tx.Where("cleanup_job_id = ?", job.ID).Order("id ASC").Find(&items).Error; err != nil {
			return err
		}

		floorMode = config.CleanupFloorMode()
		targetQty := cleanupTargetQty(job.MinQty, floorMode)

		result = CleanupResult{JobId: job.ID}
		for _, item := range items {
			var balance Balance
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&balance, item.BalanceId).Error
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					// balance rows are never deleted, but a missing row is
					// still drift and must not abort the whole job
					result.Skipped++
					continue
				}
				return err
			}

			if stageItemDrifted(item.PreviousQty, balance.Qty) {
				result.Skipped++
				continue
			}

			if err := tx.Model(&balance).Update("qty", targetQty).Error; err != nil {
				return err
			}
			if err := tx.Model(&item).Update("is_applied", true).Error; err != nil {
				return err
			}
			result.Applied++
			result.RemovedQty = result.RemovedQty.Add(balance.Qty.Sub(targetQty))
		}

		now := time.Now()
		result.ExecutedAt = now
		updates := map[string]interface{}{
			"is_executed":   true,
			"executed_at":   now,
			"applied_count": result.Applied,
			"skipped_count": result.Skipped,
			"removed_qty":   result.RemovedQty,
		}
		return tx.Model(&job).Updates(updates).Error
	})
	if err != nil {
		if err == ErrorAlreadyExecuted {
			return &result, err
		}
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"field":       "ExecuteCleanup",
		"job_id":      result.JobId,
		"applied":     result.Applied,
		"skipped":     result.Skipped,
		"removed_qty": result.RemovedQty,
		"floor_mode":  floorMode,
		"user_id":     userId,
	}).Info("cleanup job executed")

	return &result, nil
}

// acquireCleanupLock serializes execution per job across instances using
// MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that runs the execute transaction.
func acquireCleanupLock(tx *gorm.DB, jobId int) error {
	lockName := fmt.Sprintf("cleanup:%d", jobId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire cleanup lock for job_id=%d", jobId)
	}
	return nil
}

func releaseCleanupLock(db *gorm.DB, jobId int) {
	lockName := fmt.Sprintf("cleanup:%d", jobId)
	var _ok int
	_ = db.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

func GetCleanupJob(ctx context.Context, id int) (*CleanupJob, error) {
	return utils.FetchModel[CleanupJob](ctx, id, "Items")
}

func GetCleanupJobs(ctx context.Context) ([]*CleanupJob, error) {
	db := config.GetDB()
	var results []*CleanupJob
	if err := db.WithContext(ctx).Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
