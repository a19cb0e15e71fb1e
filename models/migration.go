package models

import (
	"log"

	"github.com/mmdatafocus/metal_ledger/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Product{},
		&InventoryLot{}, &StockMovement{},
		&PureMetalLot{}, &PureMetalLotMovement{},
		&MetalReceivable{}, &MetalCredit{}, &MetalSettlement{},
		&Quotation{},
		&LedgerOutboxRecord{},
		&ReconciliationReport{},
		&UnitCorrection{},
	)
}
