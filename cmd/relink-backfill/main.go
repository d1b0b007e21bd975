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

// One-off backfill: runs repair passes over the configured link rules.
// The strict pass runs first; --closest then pairs the leftovers by
// minimal timestamp delta as a separately reported fallback.
func main() {
	ruleName := flag.String("rule", "", "Run a single rule by name (default: all rules)")
	closest := flag.Bool("closest", false, "After the strict pass, run the closest-timestamp fallback")
	dryRun := flag.Bool("dry-run", true, "Compute matches only (no writes)")
	confirm := flag.String("confirm", "", "Type RELINK to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "RELINK" {
		fmt.Fprintln(os.Stderr, "set --confirm=RELINK to proceed")
		os.Exit(1)
	}

	rules := recon.DefaultLinkRules
	if strings.TrimSpace(*ruleName) != "" {
		rule, ok := recon.LinkRuleByName(*ruleName)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown rule %q\n", *ruleName)
			os.Exit(1)
		}
		rules = []recon.LinkRule{rule}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	// Redis only serializes concurrent passes; the linker degrades to an
	// unlocked pass when it is absent.
	config.ConnectRedisWithRetry()

	ctx := utils.SetTriggeredByInContext(context.Background(), models.SyncTriggeredCLI)
	linker := recon.NewLinker(db, config.GetLogger())

	policies := []recon.LinkPolicy{recon.LinkPolicyStrict}
	if *closest {
		policies = append(policies, recon.LinkPolicyClosestTimestamp)
	}

	for _, rule := range rules {
		for _, policy := range policies {
			var result recon.RelinkResult
			var err error
			if *dryRun {
				result, err = linker.Preview(ctx, rule, policy)
			} else {
				result, err = linker.Run(ctx, rule, policy)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s (%s) failed: %v\n", rule.Name, policy, err)
				continue
			}
			linked := result.Linked
			if *dryRun {
				linked = len(result.Matches)
			}
			fmt.Printf("%s (%s): linked=%d conflicts=%d\n", rule.Name, policy, linked, len(result.Conflicts))
			for _, issue := range result.Conflicts {
				fmt.Printf("  [%s] key=%s sources=%v targets=%v\n",
					issue.Code, issue.Key, issue.SourceExternalIds, issue.TargetExternalIds)
			}
		}
	}
}
