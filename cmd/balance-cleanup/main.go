// balance-cleanup stages and executes bulk balance cleanup jobs from the
// command line, using the same two-phase workflow as the API.
//
// Usage (stage a job and list what it would zero):
//
//	go run ./cmd/balance-cleanup -min-qty=1000 -section-id=3
//
// To execute a staged job:
//
//	go run ./cmd/balance-cleanup -job-id=42 -dry-run=false -confirm=EXECUTE
//
// Items whose balance changed since staging are skipped and reported.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/models"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
)

func main() {
	partID := flag.Int("part-id", 0, "Filter: part id (0 = any)")
	sectionID := flag.Int("section-id", 0, "Filter: section id (0 = any)")
	opNumber := flag.Int("op-number", 0, "Filter: operation number (0 = any)")
	minQty := flag.String("min-qty", "0", "Stage balances with quantity at or above this value")
	comment := flag.String("comment", "", "Job comment")
	jobID := flag.Int("job-id", 0, "Execute this previously staged job (requires -dry-run=false -confirm=EXECUTE)")
	userID := flag.Int("user-id", 1, "Acting user id recorded on the job")
	dryRun := flag.Bool("dry-run", true, "Stage and list only (no balances changed)")
	confirm := flag.String("confirm", "", "Type EXECUTE to proceed when -dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "EXECUTE" {
		fmt.Fprintln(os.Stderr, "set -confirm=EXECUTE to proceed when -dry-run=false")
		os.Exit(1)
	}
	if !*dryRun && *jobID <= 0 {
		fmt.Fprintln(os.Stderr, "-job-id is required to execute; stage one first with -dry-run=true")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, *userID)
	ctx = utils.SetUserNameInContext(ctx, "balance-cleanup")

	if !*dryRun {
		result, err := models.ExecuteCleanup(ctx, *jobID, true)
		if err != nil {
			if err == models.ErrorAlreadyExecuted && result != nil {
				fmt.Printf("job %d was already executed at %s: applied=%d skipped=%d removed_qty=%s\n",
					result.JobId, result.ExecutedAt.Format("2006-01-02 15:04:05"), result.Applied, result.Skipped, result.RemovedQty)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "execute failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("executed job %d: applied=%d skipped=%d removed_qty=%s\n",
			result.JobId, result.Applied, result.Skipped, result.RemovedQty)
		return
	}

	minQtyDec, err := utils.ParseDecimal(*minQty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -min-qty %q: %v\n", *minQty, err)
		os.Exit(1)
	}

	input := models.NewCleanupJob{
		MinQty:  minQtyDec,
		Comment: *comment,
	}
	if *partID > 0 {
		input.PartId = partID
	}
	if *sectionID > 0 {
		input.SectionId = sectionID
	}
	if *opNumber > 0 {
		input.OpNumber = opNumber
	}

	job, err := models.PreviewCleanup(ctx, &input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "preview failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("staged job %d: %d balances, total quantity %s\n", job.ID, job.StagedCount, job.StagedQty)
	for _, item := range job.Items {
		fmt.Printf("  balance_id=%d qty=%s\n", item.BalanceId, item.PreviousQty)
	}
	fmt.Printf("run with -job-id=%d -dry-run=false -confirm=EXECUTE to apply\n", job.ID)
}
