package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type PruneResult struct {
	Invoices  int64 `json:"invoices"`
	LineItems int64 `json:"line_items"`
}

// PruneDemoInvoices hard-deletes invoices that match the demo/test
// predicate: no customer link and no payments. Orphan line items of the
// pruned invoices go with them. This is the only hard delete in the
// system; everything else is soft-deleted.
func PruneDemoInvoices(ctx context.Context, db *gorm.DB, dryRun bool) (PruneResult, error) {
	var result PruneResult

	var externalIds []string
	err := db.WithContext(ctx).
		Model(&Invoice{}).
		Where("(customer_id IS NULL OR customer_id = '')").
		Where("external_id NOT IN (?)",
			db.Model(&Payment{}).Select("invoice_id").Where("invoice_id <> ''"),
		).
		Pluck("external_id", &externalIds).Error
	if err != nil {
		return result, err
	}
	if len(externalIds) == 0 {
		return result, nil
	}

	if dryRun {
		result.Invoices = int64(len(externalIds))
		db.WithContext(ctx).
			Model(&InvoiceLineItem{}).
			Where("invoice_id IN ?", externalIds).
			Count(&result.LineItems)
		return result, nil
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("invoice_id IN ?", externalIds).Delete(&InvoiceLineItem{})
		if res.Error != nil {
			return res.Error
		}
		result.LineItems = res.RowsAffected

		res = tx.Where("external_id IN ?", externalIds).Delete(&Invoice{})
		if res.Error != nil {
			return res.Error
		}
		result.Invoices = res.RowsAffected
		return nil
	})
	if err != nil {
		return PruneResult{}, err
	}

	LogActivity(ctx, db, "warn", fmt.Sprintf("pruned %d demo invoices (%d line items)", result.Invoices, result.LineItems))
	return result, nil
}
