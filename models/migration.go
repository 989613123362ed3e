package models

import (
	"log"

	"github.com/mmdatafocus/lunchops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Organization{},
		&Session{}, &Proposal{}, &Order{}, &OrderAuditEntry{},
		&Vendor{},
		&QuickRun{}, &QuickRunRequest{},
		&NotificationRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
