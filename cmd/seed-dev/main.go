// seed-dev loads a small development catalog: sections (one flagged as the
// warehouse), operations, a couple of parts with routes, and an operator
// user (username: wipOperator, password: operator).
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/wip_backend/config"
	"bitbucket.org/mmdatafocus/wip_backend/models"
	"bitbucket.org/mmdatafocus/wip_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	models.MigrateTable()

	sections := []models.Section{
		{Code: "MACH", Name: "Machining", IsWarehouse: utils.NewFalse()},
		{Code: "WELD", Name: "Welding", IsWarehouse: utils.NewFalse()},
		{Code: "ASSY", Name: "Assembly", IsWarehouse: utils.NewFalse()},
		{Code: "WH", Name: "Central Warehouse", IsWarehouse: utils.NewTrue()},
	}
	operations := []models.Operation{
		{Code: "TURN", Name: "Turning"},
		{Code: "MILL", Name: "Milling"},
		{Code: "DRILL", Name: "Drilling"},
		{Code: "WELD", Name: "Welding"},
		{Code: "FIT", Name: "Fitting"},
	}
	parts := []models.Part{
		{Number: "WP-1001", Name: "Shaft, intermediate", IsActive: utils.NewTrue()},
		{Number: "WP-2034", Name: "Bracket, gearbox mount", IsActive: utils.NewTrue()},
	}

	if err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range sections {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sections[i]).Error; err != nil {
				return err
			}
		}
		for i := range operations {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&operations[i]).Error; err != nil {
				return err
			}
		}
		for i := range parts {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&parts[i]).Error; err != nil {
				return err
			}
		}

		// reload to get ids when rows already existed
		for i := range sections {
			if err := tx.Where("code = ?", sections[i].Code).First(&sections[i]).Error; err != nil {
				return err
			}
		}
		for i := range operations {
			if err := tx.Where("code = ?", operations[i].Code).First(&operations[i]).Error; err != nil {
				return err
			}
		}
		for i := range parts {
			if err := tx.Where("number = ?", parts[i].Number).First(&parts[i]).Error; err != nil {
				return err
			}
		}

		routes := []models.RouteStep{
			{PartId: parts[0].ID, OpNumber: 15, OperationId: operations[0].ID, SectionId: sections[0].ID, NormHours: decimal.RequireFromString("0.112")},
			{PartId: parts[0].ID, OpNumber: 30, OperationId: operations[1].ID, SectionId: sections[0].ID, NormHours: decimal.RequireFromString("0.087")},
			{PartId: parts[0].ID, OpNumber: 35, OperationId: operations[2].ID, SectionId: sections[1].ID, NormHours: decimal.RequireFromString("0.040")},
			{PartId: parts[0].ID, OpNumber: 45, OperationId: operations[4].ID, SectionId: sections[2].ID, NormHours: decimal.RequireFromString("0.071")},
			{PartId: parts[1].ID, OpNumber: 10, OperationId: operations[1].ID, SectionId: sections[0].ID, NormHours: decimal.RequireFromString("0.250")},
			{PartId: parts[1].ID, OpNumber: 20, OperationId: operations[3].ID, SectionId: sections[1].ID, NormHours: decimal.RequireFromString("0.180")},
			{PartId: parts[1].ID, OpNumber: 30, OperationId: operations[4].ID, SectionId: sections[2].ID, NormHours: decimal.RequireFromString("0.095")},
		}
		for i := range routes {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&routes[i]).Error; err != nil {
				return err
			}
		}

		hashed, err := utils.HashPassword("operator")
		if err != nil {
			return err
		}
		operator := models.User{
			Username: "wipOperator",
			Name:     "WIP Operator",
			Password: string(hashed),
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleOperator,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&operator).Error; err != nil {
			return err
		}
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	// drop cached route tails so a re-seed is visible immediately
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
		for _, part := range parts {
			route, err := models.GetRoute(ctx, part.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "route lookup failed for %s: %v\n", part.Number, err)
				continue
			}
			opNumbers := make([]int, 0, len(route))
			for _, step := range route {
				opNumbers = append(opNumbers, step.OpNumber)
			}
			if err := models.InvalidateRouteTail(part.ID, opNumbers); err != nil {
				fmt.Fprintf(os.Stderr, "route cache invalidation failed for %s: %v\n", part.Number, err)
			}
		}
	}

	fmt.Println("seeded development catalog (sections, operations, parts, routes, operator user)")
}
