package sqlite

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/autopress/autopress/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testItem(owner string, status domain.Status, due time.Time) domain.WorkItem {
	return domain.WorkItem{
		ID:                uuid.NewString(),
		OwnerID:           owner,
		Topic:             "ten ways to test a scheduler",
		RecurrenceEnabled: true,
		Frequency:         domain.FreqWeekly,
		NextRunAt:         &due,
		Status:            status,
	}
}

func testTx(owner, reason string) domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: owner,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// ─── Work Item Tests ────────────────────────────────────────────────────────

func TestWorkItem_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	due := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	item := testItem("owner-1", domain.StatusQueued, due)
	item.Payload = `{"style":"casual"}`

	if err := db.InsertWorkItem(item); err != nil {
		t.Fatalf("InsertWorkItem() error: %v", err)
	}

	got, err := db.GetWorkItem(item.ID)
	if err != nil {
		t.Fatalf("GetWorkItem() error: %v", err)
	}
	if got.OwnerID != "owner-1" || got.Status != domain.StatusQueued {
		t.Errorf("got %+v", got)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(due) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, due)
	}
	if got.Payload != `{"style":"casual"}` {
		t.Errorf("Payload = %q", got.Payload)
	}
}

func TestGetWorkItem_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetWorkItem("nope")
	if !errors.Is(err, domain.ErrWorkItemNotFound) {
		t.Errorf("error = %v, want ErrWorkItemNotFound", err)
	}
}

func TestPollDue_ExcludesFutureAndNonClaimable(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	due := testItem("o", domain.StatusQueued, now.Add(-time.Hour))
	future := testItem("o", domain.StatusQueued, now.Add(time.Hour))
	running := testItem("o", domain.StatusGenerating, now.Add(-time.Hour))
	noRecurrence := testItem("o", domain.StatusQueued, now.Add(-time.Hour))
	noRecurrence.RecurrenceEnabled = false

	for _, it := range []domain.WorkItem{due, future, running, noRecurrence} {
		if err := db.InsertWorkItem(it); err != nil {
			t.Fatalf("InsertWorkItem() error: %v", err)
		}
	}

	got, err := db.PollDue(now, 10)
	if err != nil {
		t.Fatalf("PollDue() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("PollDue() returned %d items, want only the due one", len(got))
	}
}

func TestPollDue_OrderAndLimit(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	later := testItem("o", domain.StatusQueued, now.Add(-time.Minute))
	earliest := testItem("o", domain.StatusQueued, now.Add(-time.Hour))
	middle := testItem("o", domain.StatusIdea, now.Add(-30*time.Minute))

	for _, it := range []domain.WorkItem{later, earliest, middle} {
		if err := db.InsertWorkItem(it); err != nil {
			t.Fatalf("InsertWorkItem() error: %v", err)
		}
	}

	got, err := db.PollDue(now, 2)
	if err != nil {
		t.Fatalf("PollDue() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("PollDue() returned %d items, want 2", len(got))
	}
	if got[0].ID != earliest.ID || got[1].ID != middle.ID {
		t.Errorf("order = [%s %s], want earliest due first", got[0].ID, got[1].ID)
	}
}

func TestClaimWorkItem_Conflict(t *testing.T) {
	db := newTestDB(t)
	item := testItem("o", domain.StatusQueued, time.Now())
	if err := db.InsertWorkItem(item); err != nil {
		t.Fatalf("InsertWorkItem() error: %v", err)
	}

	if err := db.ClaimWorkItem(item.ID); err != nil {
		t.Fatalf("first claim error: %v", err)
	}
	err := db.ClaimWorkItem(item.ID)
	if !errors.Is(err, domain.ErrClaimConflict) {
		t.Errorf("second claim error = %v, want ErrClaimConflict", err)
	}

	got, _ := db.GetWorkItem(item.ID)
	if got.Status != domain.StatusGenerating {
		t.Errorf("status = %s, want generating", got.Status)
	}
}

func TestClaimWorkItem_ConcurrentSingleWinner(t *testing.T) {
	db := newTestDB(t)
	item := testItem("o", domain.StatusQueued, time.Now())
	if err := db.InsertWorkItem(item); err != nil {
		t.Fatal(err)
	}

	// Overlapping ticks race for the same item; the conditional UPDATE
	// must admit exactly one of them.
	const racers = 8
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- db.ClaimWorkItem(item.ID)
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrClaimConflict):
			lost++
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if won != 1 || lost != racers-1 {
		t.Errorf("claims = (won=%d, lost=%d), want exactly one winner", won, lost)
	}

	got, _ := db.GetWorkItem(item.ID)
	if got.Status != domain.StatusGenerating {
		t.Errorf("status = %s, want generating", got.Status)
	}
}

func TestSaveArtifact_ThenPublish(t *testing.T) {
	db := newTestDB(t)
	item := testItem("o", domain.StatusQueued, time.Now())
	if err := db.InsertWorkItem(item); err != nil {
		t.Fatal(err)
	}
	if err := db.ClaimWorkItem(item.ID); err != nil {
		t.Fatal(err)
	}

	artifact := domain.Artifact{Title: "T", Body: "B"}
	if err := db.SaveArtifact(item.ID, artifact); err != nil {
		t.Fatalf("SaveArtifact() error: %v", err)
	}

	got, _ := db.GetWorkItem(item.ID)
	if got.Status != domain.StatusPublishing {
		t.Errorf("status = %s, want publishing", got.Status)
	}
	if got.Artifact == nil || got.Artifact.Title != "T" {
		t.Errorf("artifact = %+v, want persisted before publish", got.Artifact)
	}

	if err := db.MarkPublished(item.ID, domain.PublishResult{RemoteID: "42", RemoteURL: "https://x/42"}); err != nil {
		t.Fatalf("MarkPublished() error: %v", err)
	}
	got, _ = db.GetWorkItem(item.ID)
	if got.Status != domain.StatusPublished || got.RemoteID != "42" {
		t.Errorf("got %+v, want published with remote id", got)
	}
}

func TestCancelWorkItem_OnlyWhileRunning(t *testing.T) {
	db := newTestDB(t)
	item := testItem("o", domain.StatusQueued, time.Now())
	if err := db.InsertWorkItem(item); err != nil {
		t.Fatal(err)
	}

	// Not running yet — no-op.
	ok, err := db.CancelWorkItem(item.ID)
	if err != nil || ok {
		t.Errorf("cancel on queued = (%v, %v), want no-op", ok, err)
	}

	if err := db.ClaimWorkItem(item.ID); err != nil {
		t.Fatal(err)
	}
	ok, err = db.CancelWorkItem(item.ID)
	if err != nil || !ok {
		t.Fatalf("cancel on generating = (%v, %v), want honored", ok, err)
	}
	got, _ := db.GetWorkItem(item.ID)
	if got.Status != domain.StatusIdea {
		t.Errorf("status = %s, want idea after cancel", got.Status)
	}
}

// ─── Credit Tests ───────────────────────────────────────────────────────────

func TestDeduct_DrainsTopUpFirst(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertAccount(domain.CreditAccount{OwnerID: "o", TopUpBalance: 30, SubscriptionBalance: 50}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.Deduct(testTx("o", domain.ReasonAutopilotRun), 60)
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if tx.Amount != -60 || tx.BalanceAfter != 20 {
		t.Errorf("tx = %+v, want amount -60 balance_after 20", tx)
	}

	acct, _ := db.GetAccount("o")
	if acct.TopUpBalance != 0 || acct.SubscriptionBalance != 20 {
		t.Errorf("balances = (%d, %d), want (0, 20)", acct.TopUpBalance, acct.SubscriptionBalance)
	}
	if acct.LifetimeUsed != 60 {
		t.Errorf("LifetimeUsed = %d, want 60", acct.LifetimeUsed)
	}
}

func TestDeduct_Insufficient_NoMutationNoRow(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertAccount(domain.CreditAccount{OwnerID: "o", TopUpBalance: 5, SubscriptionBalance: 4}); err != nil {
		t.Fatal(err)
	}

	_, err := db.Deduct(testTx("o", domain.ReasonAutopilotRun), 10)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("error = %v, want ErrInsufficientCredits", err)
	}

	acct, _ := db.GetAccount("o")
	if acct.Total() != 9 {
		t.Errorf("Total() = %d, want untouched 9", acct.Total())
	}
	history, _ := db.History("o", 10)
	if len(history) != 0 {
		t.Errorf("ledger rows = %d, want 0 — failed checks are not spent", len(history))
	}
}

func TestDeduct_UnlimitedBypass(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertAccount(domain.CreditAccount{OwnerID: "o", Unlimited: true, TopUpBalance: 7}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.Deduct(testTx("o", domain.ReasonAutopilotRun), 100000)
	if err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}
	if tx.Amount != 0 {
		t.Errorf("Amount = %d, want 0 for unlimited", tx.Amount)
	}

	acct, _ := db.GetAccount("o")
	if acct.TopUpBalance != 7 {
		t.Errorf("TopUpBalance = %d, want untouched 7", acct.TopUpBalance)
	}
	history, _ := db.History("o", 10)
	if len(history) != 1 {
		t.Errorf("ledger rows = %d, want the zero-effect audit row", len(history))
	}
}

func TestCredit_LandsInTopUp(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertAccount(domain.CreditAccount{OwnerID: "o", SubscriptionBalance: 10}); err != nil {
		t.Fatal(err)
	}

	tx, err := db.Credit(testTx("o", domain.ReasonTopUp), 25, true)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if tx.Amount != 25 || tx.BalanceAfter != 35 {
		t.Errorf("tx = %+v, want +25 balance_after 35", tx)
	}

	acct, _ := db.GetAccount("o")
	if acct.TopUpBalance != 25 || acct.LifetimePurchased != 25 {
		t.Errorf("acct = %+v, want purchase in top-up tier", acct)
	}
}

func TestLedger_ReconstructsBalance(t *testing.T) {
	db := newTestDB(t)
	if err := db.UpsertAccount(domain.CreditAccount{OwnerID: "o"}); err != nil {
		t.Fatal(err)
	}

	if _, err := db.Credit(testTx("o", domain.ReasonTopUp), 100, true); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Deduct(testTx("o", domain.ReasonAutopilotRun), 30); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Credit(testTx("o", domain.ReasonRefund), 30, false); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Deduct(testTx("o", domain.ReasonAutopilotRun), 45); err != nil {
		t.Fatal(err)
	}

	sum, err := db.SumLedger("o")
	if err != nil {
		t.Fatal(err)
	}
	acct, _ := db.GetAccount("o")
	if sum != acct.Total() {
		t.Errorf("ledger sum = %d, account total = %d — must match", sum, acct.Total())
	}
	if acct.Total() != 55 {
		t.Errorf("Total() = %d, want 55", acct.Total())
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAccount("ghost")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("error = %v, want ErrAccountNotFound", err)
	}
}

// ─── Scheduled Post Tests ───────────────────────────────────────────────────

func TestScheduledPost_DueAndClaim(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	duePost := domain.ScheduledPost{
		ID: uuid.NewString(), OwnerID: "o",
		Artifact:     domain.Artifact{Title: "hi", Body: "there"},
		ScheduledFor: now.Add(-time.Minute),
		Status:       domain.PostScheduled,
	}
	futurePost := duePost
	futurePost.ID = uuid.NewString()
	futurePost.ScheduledFor = now.Add(time.Hour)

	for _, p := range []domain.ScheduledPost{duePost, futurePost} {
		if err := db.InsertScheduledPost(p); err != nil {
			t.Fatal(err)
		}
	}

	due, err := db.DuePosts(now, 10)
	if err != nil {
		t.Fatalf("DuePosts() error: %v", err)
	}
	if len(due) != 1 || due[0].ID != duePost.ID {
		t.Fatalf("DuePosts() = %d items, want only the due one", len(due))
	}

	if err := db.ClaimPost(duePost.ID); err != nil {
		t.Fatalf("ClaimPost() error: %v", err)
	}
	if err := db.ClaimPost(duePost.ID); !errors.Is(err, domain.ErrClaimConflict) {
		t.Errorf("second claim = %v, want ErrClaimConflict", err)
	}

	if err := db.MarkPostPublished(duePost.ID, domain.PublishResult{RemoteID: "p1"}); err != nil {
		t.Fatalf("MarkPostPublished() error: %v", err)
	}
	got, _ := db.GetScheduledPost(duePost.ID)
	if got.Status != domain.PostPublished || got.RemoteID != "p1" {
		t.Errorf("got %+v, want published", got)
	}
}
