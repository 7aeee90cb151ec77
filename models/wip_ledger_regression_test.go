package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/models"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
)

// The tests below run the full ledger stack against throwaway MySQL and
// Redis containers. They are skipped unless INTEGRATION_TESTS=1 is set.

type ledgerFixture struct {
	part      *models.Part
	machining *models.Section
	welding   *models.Section
	assembly  *models.Section
	warehouse *models.Section
}

func setupLedgerEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "wiptrack_test")
	// Helpful to see logs in CI when debugging failures.
	t.Setenv("DEBUG_TRANSFER", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

// seedCatalog loads one part with the route
// op 15 (0.112h) -> op 30 (0.087h) -> op 35 (0.040h) -> op 45 (0.071h).
func seedCatalog(t *testing.T, ctx context.Context) *ledgerFixture {
	t.Helper()
	db := config.GetDB()

	fx := &ledgerFixture{
		part:      &models.Part{Number: "WP-1001", Name: "Shaft, intermediate", IsActive: utils.NewTrue()},
		machining: &models.Section{Code: "MACH", Name: "Machining", IsWarehouse: utils.NewFalse()},
		welding:   &models.Section{Code: "WELD", Name: "Welding", IsWarehouse: utils.NewFalse()},
		assembly:  &models.Section{Code: "ASSY", Name: "Assembly", IsWarehouse: utils.NewFalse()},
		warehouse: &models.Section{Code: "WH", Name: "Central Warehouse", IsWarehouse: utils.NewTrue()},
	}
	for _, m := range []interface{}{fx.part, fx.machining, fx.welding, fx.assembly, fx.warehouse} {
		if err := db.WithContext(ctx).Create(m).Error; err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}

	turning := models.Operation{Code: "TURN", Name: "Turning"}
	milling := models.Operation{Code: "MILL", Name: "Milling"}
	drilling := models.Operation{Code: "DRILL", Name: "Drilling"}
	fitting := models.Operation{Code: "FIT", Name: "Fitting"}
	for _, op := range []*models.Operation{&turning, &milling, &drilling, &fitting} {
		if err := db.WithContext(ctx).Create(op).Error; err != nil {
			t.Fatalf("seed operations: %v", err)
		}
	}

	steps := []models.RouteStep{
		{PartId: fx.part.ID, OpNumber: 15, OperationId: turning.ID, SectionId: fx.machining.ID, NormHours: decimal.RequireFromString("0.112")},
		{PartId: fx.part.ID, OpNumber: 30, OperationId: milling.ID, SectionId: fx.machining.ID, NormHours: decimal.RequireFromString("0.087")},
		{PartId: fx.part.ID, OpNumber: 35, OperationId: drilling.ID, SectionId: fx.welding.ID, NormHours: decimal.RequireFromString("0.040")},
		{PartId: fx.part.ID, OpNumber: 45, OperationId: fitting.ID, SectionId: fx.assembly.ID, NormHours: decimal.RequireFromString("0.071")},
	}
	for i := range steps {
		if err := db.WithContext(ctx).Create(&steps[i]).Error; err != nil {
			t.Fatalf("seed route: %v", err)
		}
	}

	return fx
}

// addStock posts a receipt so the balance at (part, section, op) holds qty.
func addStock(t *testing.T, ctx context.Context, partId, sectionId, opNumber int, qty string) *models.Receipt {
	t.Helper()
	receipt, err := models.AddReceipt(ctx, &models.NewReceipt{
		PartId:      partId,
		SectionId:   sectionId,
		OpNumber:    opNumber,
		ReceiptDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Qty:         decimal.RequireFromString(qty),
	})
	if err != nil {
		t.Fatalf("AddReceipt(%s at op %d): %v", qty, opNumber, err)
	}
	return receipt
}

func balanceQty(t *testing.T, ctx context.Context, partId, sectionId, opNumber int) decimal.Decimal {
	t.Helper()
	db := config.GetDB()
	var balance models.Balance
	err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", partId, sectionId, opNumber).
		First(&balance).Error
	if err != nil {
		t.Fatalf("fetch balance (part=%d section=%d op=%d): %v", partId, sectionId, opNumber, err)
	}
	return balance.Qty
}

func mustEqual(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: want %s, got %s", what, want, got)
	}
}

func TestTransferMovesQuantityBetweenOperations(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "100")
	addStock(t, ctx, fx.part.ID, fx.machining.ID, 30, "15")

	_, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("AddTransfer: %v", err)
	}

	mustEqual(t, "origin balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "60")
	mustEqual(t, "destination balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 30), "55")
}

func TestTransferWithScrapDeductsFromOriginOnly(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "120")

	transfer, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(80),
		Scrap: &models.NewScrap{
			Qty:       decimal.NewFromInt(40),
			ScrapType: models.ScrapTypeTechnological,
			Comment:   "tooling misalignment",
		},
	})
	if err != nil {
		t.Fatalf("AddTransfer: %v", err)
	}

	// quantity and scrap leave the origin in one deduction; only the
	// transfer quantity arrives at the destination
	mustEqual(t, "origin balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "0")
	mustEqual(t, "destination balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 30), "80")

	if transfer.Scrap == nil {
		t.Fatal("expected scrap row on transfer")
	}
	mustEqual(t, "scrap qty", transfer.Scrap.Qty, "40")
	if transfer.Scrap.ScrapType != models.ScrapTypeTechnological {
		t.Fatalf("scrap type: want %s, got %s", models.ScrapTypeTechnological, transfer.Scrap.ScrapType)
	}

	audit, err := models.GetTransferAudit(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransferAudit: %v", err)
	}
	if len(audit.Operations) != 2 {
		t.Fatalf("expected 2 audited legs, got %d", len(audit.Operations))
	}
	mustEqual(t, "origin leg change", audit.Operations[0].QtyChange, "-120")
	mustEqual(t, "destination leg change", audit.Operations[1].QtyChange, "80")
}

func TestTransferRevertRestoresBalancesExactly(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "100")

	transfer, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("AddTransfer: %v", err)
	}
	mustEqual(t, "origin after transfer", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "60")

	if _, err := models.RevertTransfer(ctx, transfer.ID); err != nil {
		t.Fatalf("RevertTransfer: %v", err)
	}
	mustEqual(t, "origin after revert", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "100")
	mustEqual(t, "destination after revert", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 30), "0")

	// a transfer may be reverted exactly once
	if _, err := models.RevertTransfer(ctx, transfer.ID); err != models.ErrorAlreadyReverted {
		t.Fatalf("second revert: want ErrorAlreadyReverted, got %v", err)
	}
	mustEqual(t, "origin unchanged by failed revert", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "100")
}

func TestTransferViaWarehouseAuditsThreeLegs(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "50")

	transfer, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   35,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(20),
		ViaWarehouse: utils.NewTrue(),
	})
	if err != nil {
		t.Fatalf("AddTransfer: %v", err)
	}

	mustEqual(t, "origin balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "30")
	mustEqual(t, "destination balance", balanceQty(t, ctx, fx.part.ID, fx.welding.ID, 35), "20")
	mustEqual(t, "warehouse pass-through balance", balanceQty(t, ctx, fx.part.ID, fx.warehouse.ID, 35), "0")

	audit, err := models.GetTransferAudit(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransferAudit: %v", err)
	}
	if len(audit.Operations) != 3 {
		t.Fatalf("expected 3 audited legs, got %d", len(audit.Operations))
	}
	var warehouseLeg *models.TransferAuditOperation
	for i := range audit.Operations {
		if audit.Operations[i].SectionId == fx.warehouse.ID {
			warehouseLeg = &audit.Operations[i]
		}
	}
	if warehouseLeg == nil {
		t.Fatal("warehouse leg missing from audit")
	}
	if !warehouseLeg.QtyChange.IsZero() {
		t.Fatalf("warehouse leg must net to zero, got %s", warehouseLeg.QtyChange)
	}

	// revert must restore all three touched balances
	if _, err := models.RevertTransfer(ctx, transfer.ID); err != nil {
		t.Fatalf("RevertTransfer: %v", err)
	}
	mustEqual(t, "origin after revert", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "50")
	mustEqual(t, "destination after revert", balanceQty(t, ctx, fx.part.ID, fx.welding.ID, 35), "0")
	mustEqual(t, "warehouse after revert", balanceQty(t, ctx, fx.part.ID, fx.warehouse.ID, 35), "0")
}

func TestTransferInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "50")

	_, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(40),
		Scrap: &models.NewScrap{
			Qty:       decimal.NewFromInt(20),
			ScrapType: models.ScrapTypeEmployeeFault,
		},
	})
	if err != models.ErrorInsufficientBalance {
		t.Fatalf("want ErrorInsufficientBalance, got %v", err)
	}

	mustEqual(t, "origin untouched", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "50")

	db := config.GetDB()
	var transferCount, auditCount, scrapCount int64
	if err := db.WithContext(ctx).Model(&models.Transfer{}).Count(&transferCount).Error; err != nil {
		t.Fatalf("count transfers: %v", err)
	}
	if err := db.WithContext(ctx).Model(&models.TransferAudit{}).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audits: %v", err)
	}
	if err := db.WithContext(ctx).Model(&models.Scrap{}).Count(&scrapCount).Error; err != nil {
		t.Fatalf("count scraps: %v", err)
	}
	if transferCount != 0 || auditCount != 0 || scrapCount != 0 {
		t.Fatalf("failed transfer must write nothing: transfers=%d audits=%d scraps=%d", transferCount, auditCount, scrapCount)
	}
}

func TestLaunchProjectsHoursAndDeleteRestoresOrigin(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "100")

	launch, err := models.AddLaunch(ctx, &models.NewLaunch{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		LaunchDate:   time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(40),
	})
	if err != nil {
		t.Fatalf("AddLaunch: %v", err)
	}

	mustEqual(t, "origin after launch", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "60")
	mustEqual(t, "sum hours to finish", launch.SumHoursToFinish, "12.4")
	if len(launch.Operations) != 4 {
		t.Fatalf("expected 4 forecast rows, got %d", len(launch.Operations))
	}
	for _, op := range launch.Operations {
		mustEqual(t, fmt.Sprintf("forecast qty at op %d", op.OpNumber), op.Qty, "40")
	}

	if _, err := models.DeleteLaunch(ctx, launch.ID); err != nil {
		t.Fatalf("DeleteLaunch: %v", err)
	}
	mustEqual(t, "origin after launch delete", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "100")
}

func TestAdjustBalanceDeltaAndNoOp(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "15.5")

	db := config.GetDB()
	var balance models.Balance
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", fx.part.ID, fx.machining.ID, 15).
		First(&balance).Error; err != nil {
		t.Fatalf("fetch balance: %v", err)
	}

	result, err := models.AdjustBalance(ctx, &models.NewAdjustment{
		BalanceId: balance.ID,
		NewQty:    decimal.NewFromInt(20),
		Comment:   "cycle count",
	})
	if err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}
	mustEqual(t, "delta", result.Delta, "4.5")
	if result.AdjustmentId == 0 {
		t.Fatal("expected an adjustment row id")
	}
	mustEqual(t, "adjusted balance", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "20")

	// same value again: no row, zero delta
	noop, err := models.AdjustBalance(ctx, &models.NewAdjustment{
		BalanceId: balance.ID,
		NewQty:    decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("AdjustBalance(no-op): %v", err)
	}
	if !noop.Delta.IsZero() || noop.AdjustmentId != 0 {
		t.Fatalf("no-op adjustment must report zero delta and no row: %+v", noop)
	}
	var rows int64
	if err := db.WithContext(ctx).Model(&models.Adjustment{}).Where("balance_id = ?", balance.ID).Count(&rows).Error; err != nil {
		t.Fatalf("count adjustments: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected exactly 1 adjustment row, got %d", rows)
	}
}

func TestCleanupSkipsDriftedBalances(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "10")
	addStock(t, ctx, fx.part.ID, fx.machining.ID, 30, "8")

	job, err := models.PreviewCleanup(ctx, &models.NewCleanupJob{
		PartId: &fx.part.ID,
		MinQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("PreviewCleanup: %v", err)
	}
	if job.StagedCount != 2 {
		t.Fatalf("expected 2 staged balances, got %d", job.StagedCount)
	}
	mustEqual(t, "staged qty", job.StagedQty, "18")
	// preview must not mutate
	mustEqual(t, "balance untouched by preview", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "10")

	// unconfirmed execute is refused
	if _, err := models.ExecuteCleanup(ctx, job.ID, false); err != models.ErrorNotConfirmed {
		t.Fatalf("unconfirmed execute: want ErrorNotConfirmed, got %v", err)
	}

	// drift one balance between preview and execute
	db := config.GetDB()
	var drifted models.Balance
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", fx.part.ID, fx.machining.ID, 15).
		First(&drifted).Error; err != nil {
		t.Fatalf("fetch balance: %v", err)
	}
	if _, err := models.AdjustBalance(ctx, &models.NewAdjustment{
		BalanceId: drifted.ID,
		NewQty:    decimal.NewFromInt(12),
		Comment:   "late receipt",
	}); err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}

	result, err := models.ExecuteCleanup(ctx, job.ID, true)
	if err != nil {
		t.Fatalf("ExecuteCleanup: %v", err)
	}
	if result.Applied != 1 || result.Skipped != 1 {
		t.Fatalf("want applied=1 skipped=1, got applied=%d skipped=%d", result.Applied, result.Skipped)
	}
	mustEqual(t, "removed qty", result.RemovedQty, "8")
	mustEqual(t, "drifted balance untouched", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "12")
	mustEqual(t, "stale balance zeroed", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 30), "0")

	// repeated execute reports the original result
	again, err := models.ExecuteCleanup(ctx, job.ID, true)
	if err != models.ErrorAlreadyExecuted {
		t.Fatalf("repeated execute: want ErrorAlreadyExecuted, got %v", err)
	}
	if again == nil || again.Applied != 1 || again.Skipped != 1 {
		t.Fatalf("repeated execute must return the recorded result, got %+v", again)
	}
}

func TestReceiptLabelLifecycleAndRevert(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	label, err := models.CreateLabel(ctx, &models.NewLabel{
		PartId:    fx.part.ID,
		LabelDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Qty:       decimal.NewFromInt(30),
	})
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	if label.LabelYear != 2026 || label.Number != 1 {
		t.Fatalf("label numbering: year=%d number=%d", label.LabelYear, label.Number)
	}

	receipt, err := models.AddReceipt(ctx, &models.NewReceipt{
		PartId:      fx.part.ID,
		SectionId:   fx.machining.ID,
		OpNumber:    15,
		ReceiptDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Qty:         decimal.NewFromInt(20),
		LabelId:     &label.ID,
	})
	if err != nil {
		t.Fatalf("AddReceipt: %v", err)
	}
	mustEqual(t, "balance after receipt", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "20")

	labelAfter, err := models.GetLabel(ctx, label.ID)
	if err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	mustEqual(t, "label remaining after consume", labelAfter.RemainingQty, "10")
	if labelAfter.IsAssigned == nil || !*labelAfter.IsAssigned {
		t.Fatal("label must be assigned after first consume")
	}

	// consuming more than the remaining quantity must fail
	if _, err := models.AddReceipt(ctx, &models.NewReceipt{
		PartId:      fx.part.ID,
		SectionId:   fx.machining.ID,
		OpNumber:    15,
		ReceiptDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Qty:         decimal.NewFromInt(15),
		LabelId:     &label.ID,
	}); err != models.ErrorInsufficientLabelQuantity {
		t.Fatalf("want ErrorInsufficientLabelQuantity, got %v", err)
	}

	audits, err := models.GetReceiptAudits(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetReceiptAudits: %v", err)
	}
	if len(audits) != 1 || audits[0].Action != models.ReceiptAuditActionCreated {
		t.Fatalf("expected a single Created audit row, got %+v", audits)
	}

	// revert to the Created version: restores the state before the receipt
	reverted, err := models.RevertReceipt(ctx, receipt.ID, audits[0].ID)
	if err != nil {
		t.Fatalf("RevertReceipt: %v", err)
	}
	if reverted.IsDeleted == nil || !*reverted.IsDeleted {
		t.Fatal("reverting to the Created version must remove the receipt")
	}
	mustEqual(t, "balance after revert", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "0")

	labelRestored, err := models.GetLabel(ctx, label.ID)
	if err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	mustEqual(t, "label remaining restored", labelRestored.RemainingQty, "30")
	// assignment is monotonic: the lot stays marked as touched
	if labelRestored.IsAssigned == nil || !*labelRestored.IsAssigned {
		t.Fatal("label assignment must survive the revert")
	}

	audits, err = models.GetReceiptAudits(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetReceiptAudits: %v", err)
	}
	if len(audits) != 2 || audits[1].Action != models.ReceiptAuditActionReverted {
		t.Fatalf("expected Created+Reverted audit rows, got %d", len(audits))
	}
}

func TestReceiptDeleteReversesBalanceAndLabel(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	label, err := models.CreateLabel(ctx, &models.NewLabel{
		PartId:    fx.part.ID,
		LabelDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Qty:       decimal.NewFromInt(50),
	})
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}

	receipt, err := models.AddReceipt(ctx, &models.NewReceipt{
		PartId:      fx.part.ID,
		SectionId:   fx.machining.ID,
		OpNumber:    15,
		ReceiptDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Qty:         decimal.NewFromInt(35),
		LabelId:     &label.ID,
	})
	if err != nil {
		t.Fatalf("AddReceipt: %v", err)
	}

	if _, err := models.DeleteReceipt(ctx, receipt.ID); err != nil {
		t.Fatalf("DeleteReceipt: %v", err)
	}
	mustEqual(t, "balance after delete", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "0")

	labelAfter, err := models.GetLabel(ctx, label.ID)
	if err != nil {
		t.Fatalf("GetLabel: %v", err)
	}
	mustEqual(t, "label remaining after delete", labelAfter.RemainingQty, "50")

	// a deleted receipt is gone from the delete surface
	if _, err := models.DeleteReceipt(ctx, receipt.ID); err != utils.ErrorRecordNotFound {
		t.Fatalf("second delete: want ErrorRecordNotFound, got %v", err)
	}

	audits, err := models.GetReceiptAudits(ctx, receipt.ID)
	if err != nil {
		t.Fatalf("GetReceiptAudits: %v", err)
	}
	if len(audits) != 2 || audits[1].Action != models.ReceiptAuditActionDeleted {
		t.Fatalf("expected Created+Deleted audit rows, got %d", len(audits))
	}
}

func qtyOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// reconstructQty replays the full history at one balance key: receipt audit
// quantity deltas, non-reverted transfer legs, launch deductions and
// adjustment deltas. The result must equal the live balance.
func reconstructQty(t *testing.T, ctx context.Context, partId, sectionId, opNumber int) decimal.Decimal {
	t.Helper()
	db := config.GetDB()
	total := decimal.Zero

	var receiptAudits []models.ReceiptAudit
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", partId, sectionId, opNumber).
		Find(&receiptAudits).Error; err != nil {
		t.Fatalf("load receipt audits: %v", err)
	}
	for _, a := range receiptAudits {
		total = total.Add(qtyOrZero(a.NewQty).Sub(qtyOrZero(a.PreviousQty)))
	}

	var transferAudits []models.TransferAudit
	if err := db.WithContext(ctx).Preload("Operations").
		Where("part_id = ?", partId).
		Find(&transferAudits).Error; err != nil {
		t.Fatalf("load transfer audits: %v", err)
	}
	for _, a := range transferAudits {
		if a.IsReverted != nil && *a.IsReverted {
			continue
		}
		for _, op := range a.Operations {
			if op.SectionId == sectionId && op.OpNumber == opNumber {
				total = total.Add(op.QtyChange)
			}
		}
	}

	var launches []models.Launch
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND from_op_number = ?", partId, sectionId, opNumber).
		Find(&launches).Error; err != nil {
		t.Fatalf("load launches: %v", err)
	}
	for _, l := range launches {
		total = total.Sub(l.Qty)
	}

	var adjustments []models.Adjustment
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", partId, sectionId, opNumber).
		Find(&adjustments).Error; err != nil {
		t.Fatalf("load adjustments: %v", err)
	}
	for _, a := range adjustments {
		total = total.Add(a.Delta)
	}

	return total
}

func TestLedgerHistoryReconstructsLiveBalances(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)
	db := config.GetDB()

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "100")
	addStock(t, ctx, fx.part.ID, fx.machining.ID, 30, "30")

	if _, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(40),
	}); err != nil {
		t.Fatalf("AddTransfer 15->30: %v", err)
	}
	if _, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 30,
		ToOpNumber:   35,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(10),
		Scrap: &models.NewScrap{
			Qty:       decimal.NewFromInt(5),
			ScrapType: models.ScrapTypeTechnological,
		},
	}); err != nil {
		t.Fatalf("AddTransfer 30->35 with scrap: %v", err)
	}
	if _, err := models.AddLaunch(ctx, &models.NewLaunch{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		LaunchDate:   time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(20),
	}); err != nil {
		t.Fatalf("AddLaunch: %v", err)
	}

	var origin models.Balance
	if err := db.WithContext(ctx).
		Where("part_id = ? AND section_id = ? AND op_number = ?", fx.part.ID, fx.machining.ID, 15).
		First(&origin).Error; err != nil {
		t.Fatalf("fetch balance: %v", err)
	}
	if _, err := models.AdjustBalance(ctx, &models.NewAdjustment{
		BalanceId: origin.ID,
		NewQty:    decimal.NewFromInt(50),
		Comment:   "cycle count",
	}); err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}

	// a reverted transfer must contribute nothing
	reverted, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   30,
		TransferDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(25),
	})
	if err != nil {
		t.Fatalf("AddTransfer (to revert): %v", err)
	}
	if _, err := models.RevertTransfer(ctx, reverted.ID); err != nil {
		t.Fatalf("RevertTransfer: %v", err)
	}

	// a deleted receipt cancels out through its audit rows
	extra := addStock(t, ctx, fx.part.ID, fx.welding.ID, 35, "12")
	if _, err := models.DeleteReceipt(ctx, extra.ID); err != nil {
		t.Fatalf("DeleteReceipt: %v", err)
	}

	// a warehouse pass-through leg nets to zero at the warehouse key
	if _, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   35,
		TransferDate: time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(5),
		ViaWarehouse: utils.NewTrue(),
	}); err != nil {
		t.Fatalf("AddTransfer via warehouse: %v", err)
	}

	keys := []struct {
		name      string
		sectionId int
		opNumber  int
	}{
		{"machining op 15", fx.machining.ID, 15},
		{"machining op 30", fx.machining.ID, 30},
		{"welding op 35", fx.welding.ID, 35},
		{"warehouse op 35", fx.warehouse.ID, 35},
	}
	for _, key := range keys {
		live := balanceQty(t, ctx, fx.part.ID, key.sectionId, key.opNumber)
		replayed := reconstructQty(t, ctx, fx.part.ID, key.sectionId, key.opNumber)
		if !replayed.Equal(live) {
			t.Fatalf("%s: replayed history gives %s, live balance is %s", key.name, replayed, live)
		}
	}

	mustEqual(t, "machining op 15", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "45")
	mustEqual(t, "machining op 30", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 30), "55")
	mustEqual(t, "welding op 35", balanceQty(t, ctx, fx.part.ID, fx.welding.ID, 35), "15")
}

func TestCleanupExecuteUnknownJobReportsNotFound(t *testing.T) {
	ctx := setupLedgerEnv(t)
	seedCatalog(t, ctx)

	// an unknown job is not found, regardless of the confirmation flag
	if _, err := models.ExecuteCleanup(ctx, 987654, false); err != utils.ErrorRecordNotFound {
		t.Fatalf("unconfirmed execute of unknown job: want ErrorRecordNotFound, got %v", err)
	}
	if _, err := models.ExecuteCleanup(ctx, 987654, true); err != utils.ErrorRecordNotFound {
		t.Fatalf("confirmed execute of unknown job: want ErrorRecordNotFound, got %v", err)
	}
}

func TestCleanupRepeatedExecuteReturnsPromptly(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "3")

	job, err := models.PreviewCleanup(ctx, &models.NewCleanupJob{
		PartId: &fx.part.ID,
		MinQty: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("PreviewCleanup: %v", err)
	}
	if _, err := models.ExecuteCleanup(ctx, job.ID, true); err != nil {
		t.Fatalf("ExecuteCleanup: %v", err)
	}

	// the advisory lock is released with the first execution's transaction;
	// a replay must not wait out the lock timeout
	start := time.Now()
	result, err := models.ExecuteCleanup(ctx, job.ID, true)
	if err != models.ErrorAlreadyExecuted {
		t.Fatalf("repeated execute: want ErrorAlreadyExecuted, got %v", err)
	}
	if result == nil || result.Applied != 1 {
		t.Fatalf("repeated execute must return the recorded result, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("repeated execute blocked for %s", elapsed)
	}
}

func TestTransferToWarehouseSectionRejectsWarehouseRouting(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)
	db := config.GetDB()

	// a route step performed at the warehouse itself
	var fitting models.Operation
	if err := db.WithContext(ctx).Where("code = ?", "FIT").First(&fitting).Error; err != nil {
		t.Fatalf("fetch operation: %v", err)
	}
	step := models.RouteStep{
		PartId:      fx.part.ID,
		OpNumber:    50,
		OperationId: fitting.ID,
		SectionId:   fx.warehouse.ID,
		NormHours:   decimal.RequireFromString("0.010"),
	}
	if err := db.WithContext(ctx).Create(&step).Error; err != nil {
		t.Fatalf("seed warehouse route step: %v", err)
	}

	addStock(t, ctx, fx.part.ID, fx.machining.ID, 15, "40")

	_, err := models.AddTransfer(ctx, &models.NewTransfer{
		PartId:       fx.part.ID,
		FromOpNumber: 15,
		ToOpNumber:   50,
		TransferDate: time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Qty:          decimal.NewFromInt(10),
		ViaWarehouse: utils.NewTrue(),
	})
	if err == nil {
		t.Fatal("routing via warehouse into the warehouse section must be rejected")
	}

	mustEqual(t, "origin untouched", balanceQty(t, ctx, fx.part.ID, fx.machining.ID, 15), "40")
	var transferCount int64
	if err := db.WithContext(ctx).Model(&models.Transfer{}).Count(&transferCount).Error; err != nil {
		t.Fatalf("count transfers: %v", err)
	}
	if transferCount != 0 {
		t.Fatalf("rejected transfer must write nothing, got %d rows", transferCount)
	}
}

func TestConcurrentLabelNumbersAreUnique(t *testing.T) {
	ctx := setupLedgerEnv(t)
	fx := seedCatalog(t, ctx)

	const creators = 5
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		labels []*models.Label
	)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label, err := models.CreateLabel(ctx, &models.NewLabel{
				PartId:    fx.part.ID,
				LabelDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
				Qty:       decimal.NewFromInt(10),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("CreateLabel: %v", err)
				return
			}
			labels = append(labels, label)
		}()
	}
	wg.Wait()

	if len(labels) != creators {
		t.Fatalf("expected %d labels, got %d", creators, len(labels))
	}
	seen := make(map[int]bool, creators)
	for _, label := range labels {
		if label.LabelYear != 2026 {
			t.Fatalf("label year: want 2026, got %d", label.LabelYear)
		}
		if seen[label.Number] {
			t.Fatalf("duplicate label number %d", label.Number)
		}
		seen[label.Number] = true
	}
	for n := 1; n <= creators; n++ {
		if !seen[n] {
			t.Fatalf("label numbers must be sequential, missing %d", n)
		}
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wip-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("wip-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=wiptrack_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
