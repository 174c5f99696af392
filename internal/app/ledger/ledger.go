// Package ledger is the authoritative accounting service for the metered
// credit balance. Every balance change goes through Deduct or Credit and
// leaves an append-only ledger row; balances are never written anywhere
// else.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/observability"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// maxConflictRetries bounds how often a contended deduct/credit is
// re-evaluated from fresh balances before giving up.
const maxConflictRetries = 3

// Service implements the two-tier credit ledger.
type Service struct {
	db  *sqlite.DB
	log zerolog.Logger
}

// New creates a ledger service.
func New(db *sqlite.DB) *Service {
	return &Service{db: db, log: zerolog.Nop()}
}

// SetLogger sets the logger for the ledger.
func (s *Service) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "credit_ledger").Logger()
}

// Provision creates a new credit account. A nonzero starting subscription
// balance lands as an initial-grant ledger row, so provisioned balances
// are reconstructable from the ledger like every other balance change.
// An already-provisioned owner fails with ErrAccountExists.
func (s *Service) Provision(ownerID string, subscription int64, unlimited bool) (*domain.CreditAccount, error) {
	acct := domain.CreditAccount{
		OwnerID:             ownerID,
		SubscriptionBalance: subscription,
		Unlimited:           unlimited,
	}
	if err := s.db.CreateAccount(acct, s.newTx(ownerID, domain.ReasonInitialGrant)); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("owner", ownerID).
		Int64("subscription", subscription).
		Bool("unlimited", unlimited).
		Msg("Account provisioned")
	return s.db.GetAccount(ownerID)
}

// Deduct removes amount from the owner's account, draining top-up credits
// before subscription credits. Unlimited accounts keep their balances and
// get a zero-effect audit row. ErrInsufficientCredits is an expected
// condition for callers, not a system error.
//
// A storage conflict re-runs the whole deduction from fresh balances —
// a stale delta is never re-applied.
func (s *Service) Deduct(ownerID string, amount int64, reason string) (domain.CreditTransaction, error) {
	var tx domain.CreditTransaction
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		tx, err = s.db.Deduct(s.newTx(ownerID, reason), amount)
		if !errors.Is(err, domain.ErrStorageConflict) {
			break
		}
		s.log.Debug().Str("owner", ownerID).Int("attempt", attempt+1).Msg("Deduct conflict, re-evaluating")
	}
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			observability.InsufficientCredits.Inc()
		}
		return domain.CreditTransaction{}, err
	}

	if tx.Amount < 0 {
		observability.CreditsDeducted.Add(float64(-tx.Amount))
	}
	s.log.Info().
		Str("owner", ownerID).
		Int64("amount", tx.Amount).
		Int64("balance_after", tx.BalanceAfter).
		Str("reason", reason).
		Msg("Credits deducted")
	return tx, nil
}

// Credit adds amount to the owner's top-up balance and appends a positive
// ledger row. Top-ups count toward lifetime purchases; refunds do not.
func (s *Service) Credit(ownerID string, amount int64, reason string) (domain.CreditTransaction, error) {
	purchase := reason == domain.ReasonTopUp

	var tx domain.CreditTransaction
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		tx, err = s.db.Credit(s.newTx(ownerID, reason), amount, purchase)
		if !errors.Is(err, domain.ErrStorageConflict) {
			break
		}
		s.log.Debug().Str("owner", ownerID).Int("attempt", attempt+1).Msg("Credit conflict, re-evaluating")
	}
	if err != nil {
		return domain.CreditTransaction{}, err
	}

	if reason == domain.ReasonRefund && tx.Amount > 0 {
		observability.CreditsRefunded.Add(float64(tx.Amount))
	}
	s.log.Info().
		Str("owner", ownerID).
		Int64("amount", tx.Amount).
		Int64("balance_after", tx.BalanceAfter).
		Str("reason", reason).
		Msg("Credits added")
	return tx, nil
}

// Refund returns previously deducted credits. Must be called synchronously
// with the failure transition so the owner's balance is never observably
// wrong.
func (s *Service) Refund(ownerID string, amount int64) (domain.CreditTransaction, error) {
	return s.Credit(ownerID, amount, domain.ReasonRefund)
}

// Balance returns the owner's account.
func (s *Service) Balance(ownerID string) (*domain.CreditAccount, error) {
	return s.db.GetAccount(ownerID)
}

// History returns the most recent ledger rows for the owner.
func (s *Service) History(ownerID string, limit int) ([]domain.CreditTransaction, error) {
	return s.db.History(ownerID, limit)
}

func (s *Service) newTx(ownerID, reason string) domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: ownerID,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}
