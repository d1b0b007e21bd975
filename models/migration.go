package models

import (
	"log"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Customer{}, &Agent{},
		&Invoice{}, &InvoiceLineItem{},
		&Payment{}, &RegulatoryRegistration{},
		&SyncRun{}, &SyncRecordError{}, &SyncActivityLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
