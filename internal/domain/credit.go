package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger service in app/ledger implements the accounting on top.

// Deduction reasons recorded on ledger entries.
const (
	ReasonAutopilotRun = "autopilot-run"
	ReasonTopUp        = "top-up"
	ReasonRefund       = "refund"
	ReasonInitialGrant = "initial-grant"
)

// CreditAccount is the per-owner metered balance, split into two tiers.
// Top-up credits (purchases, bonuses) are consumed before subscription
// credits. Unlimited accounts log ledger rows but never mutate balances.
type CreditAccount struct {
	OwnerID             string    `json:"owner_id"`
	SubscriptionBalance int64     `json:"subscription_balance"`
	TopUpBalance        int64     `json:"top_up_balance"`
	Unlimited           bool      `json:"unlimited"`
	LifetimeUsed        int64     `json:"lifetime_used"`
	LifetimePurchased   int64     `json:"lifetime_purchased"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Total returns the spendable balance across both tiers.
func (a CreditAccount) Total() int64 {
	return a.SubscriptionBalance + a.TopUpBalance
}

// CanAfford reports whether amount can be deducted without overdraft.
func (a CreditAccount) CanAfford(amount int64) bool {
	return a.Unlimited || a.Total() >= amount
}

// CreditTransaction is a single row in the append-only credit ledger.
// Amount is signed: negative = deduction, positive = credit. BalanceAfter
// is the total balance at the instant the row was written, so the ledger
// fully reconstructs the balance.
type CreditTransaction struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Amount       int64     `json:"amount"`
	Reason       string    `json:"reason"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// AllocateDeduction splits a deduction across the two balance tiers:
// drain top-up first, then subscription for the remainder. Both deltas
// are returned as non-negative amounts consumed from each tier.
//
// The caller is responsible for the overdraft check; if
// topUp+subscription < amount the allocation is not meaningful.
func AllocateDeduction(topUp, subscription, amount int64) (topUpDelta, subscriptionDelta int64) {
	if amount <= 0 {
		return 0, 0
	}
	topUpDelta = amount
	if topUpDelta > topUp {
		topUpDelta = topUp
	}
	subscriptionDelta = amount - topUpDelta
	return topUpDelta, subscriptionDelta
}
