package models

import (
	"log"

	"bitbucket.org/mmdatafocus/wip_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Part{}, &Section{}, &Operation{}, &RouteStep{},
		&Balance{},
		&Label{},
		&Receipt{}, &ReceiptAudit{},
		&Transfer{}, &Scrap{}, &TransferAudit{}, &TransferAuditOperation{},
		&Launch{}, &LaunchOperation{},
		&Adjustment{},
		&CleanupJob{}, &CleanupStageItem{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
