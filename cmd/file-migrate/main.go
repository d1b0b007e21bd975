package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/recon"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
)

// Migrates remote attachment URLs into our own storage. Safe to re-run:
// already-local references are skipped.
func main() {
	dryRun := flag.Bool("dry-run", true, "Count candidates only (no downloads, no writes)")
	confirm := flag.String("confirm", "", "Type MIGRATE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "MIGRATE" {
		fmt.Fprintln(os.Stderr, "set --confirm=MIGRATE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetTriggeredByInContext(context.Background(), models.SyncTriggeredCLI)
	migrator := recon.NewFileMigrator(db)
	result, err := migrator.Run(ctx, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "file migration failed: %v\n", err)
		fmt.Printf("partial: scanned=%d migrated=%d failed=%d bytes=%d\n",
			result.Scanned, result.Migrated, result.Failed, result.TotalBytes)
		os.Exit(1)
	}
	fmt.Printf("scanned=%d migrated=%d failed=%d bytes=%d dry-run=%v\n",
		result.Scanned, result.Migrated, result.Failed, result.TotalBytes, *dryRun)
}
