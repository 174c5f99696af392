package ledger

import (
	"errors"
	"sync"
	"testing"

	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

func newTestService(t *testing.T) (*Service, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func seedAccount(t *testing.T, db *sqlite.DB, acct domain.CreditAccount) {
	t.Helper()
	if err := db.UpsertAccount(acct); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}
}

// ─── Deduction Tests ────────────────────────────────────────────────────────

func TestDeduct_NoOverdraft(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", TopUpBalance: 3, SubscriptionBalance: 4})

	// 7 available: first deduct of 5 fits, second of 5 must fail.
	if _, err := svc.Deduct("o", 5, domain.ReasonAutopilotRun); err != nil {
		t.Fatalf("first Deduct() error: %v", err)
	}
	_, err := svc.Deduct("o", 5, domain.ReasonAutopilotRun)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("second Deduct() error = %v, want ErrInsufficientCredits", err)
	}

	acct, _ := svc.Balance("o")
	if acct.Total() != 2 {
		t.Errorf("Total() = %d, want 2 — never negative", acct.Total())
	}
}

func TestDeduct_Order(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", TopUpBalance: 30, SubscriptionBalance: 50})

	tx, err := svc.Deduct("o", 60, domain.ReasonAutopilotRun)
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if tx.Amount != -60 {
		t.Errorf("ledger amount = %d, want -60", tx.Amount)
	}

	acct, _ := svc.Balance("o")
	if acct.TopUpBalance != 0 || acct.SubscriptionBalance != 20 {
		t.Errorf("balances = (topUp=%d, sub=%d), want (0, 20)", acct.TopUpBalance, acct.SubscriptionBalance)
	}
}

func TestDeduct_UnlimitedBypass(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", Unlimited: true})

	tx, err := svc.Deduct("o", 100000, domain.ReasonAutopilotRun)
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if tx.Amount != 0 || tx.Reason != domain.ReasonAutopilotRun {
		t.Errorf("tx = %+v, want zero-effect row with reason preserved", tx)
	}

	history, _ := svc.History("o", 10)
	if len(history) != 1 {
		t.Errorf("history rows = %d, want 1 audit row", len(history))
	}
}

func TestDeduct_UnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Deduct("ghost", 1, domain.ReasonAutopilotRun)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestDeduct_ConcurrentNoOverdraft(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", SubscriptionBalance: 50})

	// 10 workers race to deduct 10 each from 50. Every deduction reads
	// fresh balances under the write lock, so exactly 5 may win.
	const workers = 10
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct("o", 10, domain.ReasonAutopilotRun)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, rejected int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrInsufficientCredits):
			rejected++
		default:
			t.Fatalf("unexpected deduct error: %v", err)
		}
	}
	if won != 5 || rejected != 5 {
		t.Errorf("deducts = (won=%d, rejected=%d), want (5, 5)", won, rejected)
	}

	acct, _ := svc.Balance("o")
	if acct.Total() != 0 {
		t.Errorf("Total() = %d, want exactly 0 — never negative", acct.Total())
	}
	history, _ := svc.History("o", workers)
	if len(history) != 5 {
		t.Errorf("ledger rows = %d, want one per winning deduct", len(history))
	}
	sum, err := db.SumLedger("o")
	if err != nil {
		t.Fatal(err)
	}
	if sum != -50 {
		t.Errorf("sum(ledger) = %d, want -50", sum)
	}
}

// ─── Credit & Refund Tests ──────────────────────────────────────────────────

func TestRefund_RestoresBalance(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", SubscriptionBalance: 50, TopUpBalance: 10})

	before, _ := svc.Balance("o")
	tx, err := svc.Deduct("o", 25, domain.ReasonAutopilotRun)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund("o", -tx.Amount); err != nil {
		t.Fatalf("Refund() error: %v", err)
	}

	after, _ := svc.Balance("o")
	if after.Total() != before.Total() {
		t.Errorf("Total() = %d, want restored %d", after.Total(), before.Total())
	}

	history, _ := svc.History("o", 10)
	if len(history) != 2 {
		t.Fatalf("history rows = %d, want deduct + refund", len(history))
	}
	if history[0].Reason != domain.ReasonRefund || history[0].Amount != 25 {
		t.Errorf("newest row = %+v, want +25 refund", history[0])
	}
}

func TestCredit_TopUpCountsAsPurchase(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o"})

	if _, err := svc.Credit("o", 100, domain.ReasonTopUp); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Refund("o", 10); err != nil {
		t.Fatal(err)
	}

	acct, _ := svc.Balance("o")
	if acct.LifetimePurchased != 100 {
		t.Errorf("LifetimePurchased = %d, want 100 — refunds do not count", acct.LifetimePurchased)
	}
	if acct.TopUpBalance != 110 {
		t.Errorf("TopUpBalance = %d, want 110", acct.TopUpBalance)
	}
}

func TestCredit_UnlimitedKeepsPurchase(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o", Unlimited: true})

	tx, err := svc.Credit("o", 200, domain.ReasonTopUp)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Amount != 200 {
		t.Errorf("ledger amount = %d, want 200 — purchases are never discarded", tx.Amount)
	}

	acct, _ := svc.Balance("o")
	if acct.TopUpBalance != 200 || acct.LifetimePurchased != 200 {
		t.Errorf("acct = %+v, want purchase banked in top-up tier", acct)
	}
	if !acct.Unlimited {
		t.Error("Unlimited flag lost on top-up")
	}

	// Deductions still bypass the banked balance.
	if _, err := svc.Deduct("o", 50, domain.ReasonAutopilotRun); err != nil {
		t.Fatal(err)
	}
	acct, _ = svc.Balance("o")
	if acct.TopUpBalance != 200 {
		t.Errorf("TopUpBalance = %d, want untouched by unlimited deduct", acct.TopUpBalance)
	}
}

// ─── Provisioning Tests ─────────────────────────────────────────────────────

func TestProvision_RecordsInitialGrant(t *testing.T) {
	svc, db := newTestService(t)

	acct, err := svc.Provision("o", 50, false)
	if err != nil {
		t.Fatalf("Provision() error: %v", err)
	}
	if acct.SubscriptionBalance != 50 {
		t.Errorf("SubscriptionBalance = %d, want 50", acct.SubscriptionBalance)
	}

	history, _ := svc.History("o", 10)
	if len(history) != 1 || history[0].Reason != domain.ReasonInitialGrant || history[0].Amount != 50 {
		t.Fatalf("history = %+v, want a single +50 initial-grant row", history)
	}

	// The ledger reconstructs the balance from the very first row,
	// through provisioning and back down to zero.
	sum, err := db.SumLedger("o")
	if err != nil {
		t.Fatal(err)
	}
	if sum != acct.Total() {
		t.Errorf("sum(ledger) = %d, balance = %d — must match from creation", sum, acct.Total())
	}
	if _, err := svc.Deduct("o", 50, domain.ReasonAutopilotRun); err != nil {
		t.Fatal(err)
	}
	sum, _ = db.SumLedger("o")
	acct, _ = svc.Balance("o")
	if sum != 0 || acct.Total() != 0 {
		t.Errorf("after drain: sum = %d, balance = %d, want both 0", sum, acct.Total())
	}
}

func TestProvision_ZeroBalanceWritesNoRow(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Provision("o", 0, true); err != nil {
		t.Fatal(err)
	}
	history, _ := svc.History("o", 10)
	if len(history) != 0 {
		t.Errorf("history rows = %d, want 0 for a zero-balance account", len(history))
	}
}

func TestProvision_ExistingAccountRejected(t *testing.T) {
	svc, db := newTestService(t)

	if _, err := svc.Provision("o", 50, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Deduct("o", 20, domain.ReasonAutopilotRun); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Provision("o", 50, false)
	if !errors.Is(err, domain.ErrAccountExists) {
		t.Fatalf("re-provision error = %v, want ErrAccountExists", err)
	}

	// The existing balance was not reset.
	acct, _ := svc.Balance("o")
	if acct.Total() != 30 {
		t.Errorf("Total() = %d, want 30 preserved", acct.Total())
	}
	sum, _ := db.SumLedger("o")
	if sum != acct.Total() {
		t.Errorf("sum(ledger) = %d, balance = %d — must stay reconstructable", sum, acct.Total())
	}
}

// ─── Conservation Tests ─────────────────────────────────────────────────────

func TestBalanceConservation(t *testing.T) {
	svc, db := newTestService(t)
	seedAccount(t, db, domain.CreditAccount{OwnerID: "o"})

	ops := []struct {
		credit bool
		amount int64
	}{
		{true, 200}, {false, 60}, {false, 30}, {true, 15}, {false, 100},
	}
	for _, op := range ops {
		if op.credit {
			if _, err := svc.Credit("o", op.amount, domain.ReasonTopUp); err != nil {
				t.Fatal(err)
			}
		} else {
			if _, err := svc.Deduct("o", op.amount, domain.ReasonAutopilotRun); err != nil {
				t.Fatal(err)
			}
		}
	}

	sum, err := db.SumLedger("o")
	if err != nil {
		t.Fatal(err)
	}
	acct, _ := svc.Balance("o")
	if sum != acct.Total() {
		t.Errorf("sum(ledger) = %d, balances = %d — ledger must reconstruct the balance", sum, acct.Total())
	}

	history, _ := svc.History("o", 10)
	if history[0].BalanceAfter != acct.Total() {
		t.Errorf("latest BalanceAfter = %d, want %d", history[0].BalanceAfter, acct.Total())
	}
}
