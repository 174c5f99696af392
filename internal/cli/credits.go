package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/autopress/autopress/internal/app/ledger"
	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsTopUpCmd)
	creditsCmd.AddCommand(creditsHistoryCmd)
	creditsCmd.AddCommand(creditsCreateCmd)

	creditsCreateCmd.Flags().Int64("subscription", 0, "Initial subscription balance")
	creditsCreateCmd.Flags().Bool("unlimited", false, "Mark the account unlimited")
	creditsHistoryCmd.Flags().Int("limit", 20, "Number of ledger rows to show")
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and manage credit accounts",
}

func openLedger() (*ledger.Service, *sqlite.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, nil, err
	}
	return ledger.New(db), db, nil
}

// ─── credits balance ────────────────────────────────────────────────────────

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance OWNER_ID",
	Short: "Show an owner's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsBalance,
}

func runCreditsBalance(cmd *cobra.Command, args []string) error {
	svc, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	acct, err := svc.Balance(args[0])
	if err != nil {
		return err
	}

	if acct.Unlimited {
		fmt.Fprintf(os.Stdout, "Owner %s: unlimited plan\n", acct.OwnerID)
		return nil
	}
	fmt.Fprintf(os.Stdout, "Owner %s\n", acct.OwnerID)
	fmt.Fprintf(os.Stdout, "  Subscription: %d\n", acct.SubscriptionBalance)
	fmt.Fprintf(os.Stdout, "  Top-up:       %d\n", acct.TopUpBalance)
	fmt.Fprintf(os.Stdout, "  Total:        %d\n", acct.Total())
	return nil
}

// ─── credits topup ──────────────────────────────────────────────────────────

var creditsTopUpCmd = &cobra.Command{
	Use:   "topup OWNER_ID AMOUNT",
	Short: "Add purchased credits to an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsTopUp,
}

func runCreditsTopUp(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", args[1])
	}

	svc, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := svc.Credit(args[0], amount, domain.ReasonTopUp)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Added %d credits to %s (balance: %d)\n", amount, args[0], tx.BalanceAfter)
	return nil
}

// ─── credits history ────────────────────────────────────────────────────────

var creditsHistoryCmd = &cobra.Command{
	Use:   "history OWNER_ID",
	Short: "Show an owner's recent ledger rows",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsHistory,
}

func runCreditsHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	svc, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	history, err := svc.History(args[0], limit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(os.Stdout, "No transactions.")
		return nil
	}

	for _, tx := range history {
		fmt.Fprintf(os.Stdout, "%s  %+6d  %-14s  balance %d\n",
			tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Amount, tx.Reason, tx.BalanceAfter)
	}
	return nil
}

// ─── credits create ─────────────────────────────────────────────────────────

var creditsCreateCmd = &cobra.Command{
	Use:   "create OWNER_ID",
	Short: "Provision a new credit account",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsCreate,
}

func runCreditsCreate(cmd *cobra.Command, args []string) error {
	subscription, _ := cmd.Flags().GetInt64("subscription")
	unlimited, _ := cmd.Flags().GetBool("unlimited")

	svc, db, err := openLedger()
	if err != nil {
		return err
	}
	defer db.Close()

	acct, err := svc.Provision(args[0], subscription, unlimited)
	if err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			return fmt.Errorf("account %s already exists; use 'autopress credits topup' to add credits", args[0])
		}
		return err
	}
	fmt.Fprintf(os.Stdout, "Account %s provisioned (subscription: %d, unlimited: %v)\n",
		acct.OwnerID, acct.SubscriptionBalance, acct.Unlimited)
	return nil
}
