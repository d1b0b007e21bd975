package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
)

// Hard-deletes demo/test invoices: no linked customer and no payments,
// plus their orphaned line items. The only hard delete in the system.
func main() {
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes)")
	confirm := flag.String("confirm", "", "Type PRUNE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "PRUNE" {
		fmt.Fprintln(os.Stderr, "set --confirm=PRUNE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetTriggeredByInContext(context.Background(), models.SyncTriggeredCLI)
	result, err := models.PruneDemoInvoices(ctx, db, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune failed: %v\n", err)
		os.Exit(1)
	}

	mode := "deleted"
	if *dryRun {
		mode = "would delete"
	}
	fmt.Printf("%s %d invoices and %d line items\n", mode, result.Invoices, result.LineItems)
}
