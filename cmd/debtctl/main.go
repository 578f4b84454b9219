/*
main.go - debtctl, the offline admin CLI

PURPOSE:
  Bookkeeping maintenance commands that talk to the database directly,
  without going through the HTTP server. Intended for operators: audit
  verification, drift repair, and trail retention.

COMMANDS:
  debtctl verify <transaction-id>        Report drift without writing
  debtctl reconcile <transaction-id>     Repair one transaction
  debtctl reconcile --customer <id>      Repair a whole customer
  debtctl purge-audit --before <date>    Delete old audit records

CONFIG:
  Reads the same TOML file as the server (-c / --config). The database
  driver and DSN come from there; --db overrides the DSN.

SEE ALSO:
  - audit/reconcile.go: Reconciliation semantics
  - config/config.go: Configuration schema
*/
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tally/debt-engine/audit"
	"github.com/tally/debt-engine/config"
	"github.com/tally/debt-engine/ledger"
	"github.com/tally/debt-engine/money"
	"github.com/tally/debt-engine/store/postgres"
	"github.com/tally/debt-engine/store/sqlite"
)

var (
	configPath string
	dsnFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "debtctl",
	Short: "Maintenance CLI for the debt-engine bookkeeping database",
	Long: `debtctl performs audit-trail maintenance directly against the
bookkeeping database: verifying that stored transaction amounts match
the audit trail, repairing drift, and purging aged audit records.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "debt-engine.toml", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "db", "", "override database DSN")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(purgeAuditCmd)

	reconcileCmd.Flags().String("customer", "", "reconcile every transaction of this customer")
	purgeAuditCmd.Flags().String("before", "", "purge audit records created before this date (RFC3339 or YYYY-MM-DD)")
	purgeAuditCmd.MarkFlagRequired("before")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openService loads config and opens the configured store.
func openService() (*audit.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if dsnFlag != "" {
		cfg.Database.DSN = dsnFlag
	}

	calc := ledger.StatusCalculator{EnableOverdueState: cfg.Books.EnableOverdueState}

	var store ledger.TxStore
	var closeFn func()
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.New(context.Background(), cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, closeFn = pg, pg.Close
	default:
		sq, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite database: %w", err)
		}
		store, closeFn = sq, func() { sq.Close() }
	}

	return audit.NewService(store, calc), closeFn, nil
}

// =============================================================================
// VERIFY
// =============================================================================

var verifyCmd = &cobra.Command{
	Use:   "verify TRANSACTION_ID",
	Short: "Check a transaction's stored amounts against its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := svc.VerifyIntegrity(cmd.Context(), ledger.TransactionID(args[0]))
	if err != nil {
		return err
	}

	fmt.Printf("Transaction: %s\n", report.TransactionID)
	fmt.Printf("Audit total: %s\n", formatAmount(report.Summary.AuditTotal))
	fmt.Printf("Paid (from trail): %s\n", formatAmount(report.Summary.CalculatedPaidAmount))
	fmt.Printf("Remaining (from trail): %s\n", formatAmount(report.Summary.CalculatedRemainingAmount))
	if report.IsConsistent {
		fmt.Println("Status: consistent")
		return nil
	}
	fmt.Println("Status: DRIFT DETECTED")
	for _, issue := range report.Issues {
		fmt.Printf("  - %s\n", issue)
	}
	return nil
}

// =============================================================================
// RECONCILE
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [TRANSACTION_ID]",
	Short: "Repair drift between stored amounts and the audit trail",
	Long: `Recomputes paid/remaining/status from the audit trail and rewrites
the transaction when they disagree. With --customer, repairs every
non-deleted transaction the customer owns; individual failures are
reported but do not stop the run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	customerID, _ := cmd.Flags().GetString("customer")
	if (customerID == "") == (len(args) == 0) {
		return fmt.Errorf("provide either a transaction id or --customer, not both")
	}

	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	if customerID != "" {
		report, err := svc.ReconcileCustomer(cmd.Context(), ledger.CustomerID(customerID))
		if err != nil {
			return err
		}
		fmt.Printf("Customer: %s\n", report.CustomerID)
		fmt.Printf("Checked: %d, repaired: %d, failed: %d\n",
			len(report.Results), report.Repaired(), len(report.Failures))
		for _, res := range report.Results {
			if res.Changed {
				printRepair(res)
			}
		}
		for _, f := range report.Failures {
			fmt.Printf("  FAILED %s: %v\n", f.TransactionID, f.Err)
		}
		return nil
	}

	res, err := svc.Reconcile(cmd.Context(), ledger.TransactionID(args[0]))
	if err != nil {
		return err
	}
	if !res.Changed {
		fmt.Printf("Transaction %s already consistent\n", res.TransactionID)
		return nil
	}
	printRepair(res)
	return nil
}

func printRepair(res audit.ReconcileResult) {
	fmt.Printf("  REPAIRED %s: paid %s -> %s, status %s -> %s\n",
		res.TransactionID,
		formatAmount(res.OldPaid), formatAmount(res.NewPaid),
		res.OldStatus, res.NewStatus)
}

// =============================================================================
// PURGE-AUDIT
// =============================================================================

var purgeAuditCmd = &cobra.Command{
	Use:   "purge-audit",
	Short: "Delete audit records older than a cutoff date",
	Args:  cobra.NoArgs,
	RunE:  runPurgeAudit,
}

func runPurgeAudit(cmd *cobra.Command, _ []string) error {
	raw, _ := cmd.Flags().GetString("before")
	cutoff, err := parseCutoff(raw)
	if err != nil {
		return err
	}

	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := svc.PurgeOlderThan(cmd.Context(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %d audit records created before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

func parseCutoff(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --before value %q: use RFC3339 or YYYY-MM-DD", raw)
}

func formatAmount(minor int64) string {
	return money.ToMajorUnits(minor).StringFixed(2)
}
