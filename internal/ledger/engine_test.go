package ledger

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"earn-bot/internal/money"
	"earn-bot/internal/repo"
	"earn-bot/migrations"
)

func newTestEngine(t *testing.T) (*Engine, repo.Store) {
	t.Helper()
	ctx := context.Background()

	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(store, nil, slog.Default()), store
}

func TestCreditAndDebit(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if err := engine.Credit(ctx, 1, money.MustParse("25")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	ok, err := engine.Debit(ctx, 1, money.MustParse("10"))
	if err != nil || !ok {
		t.Fatalf("debit: ok=%v err=%v", ok, err)
	}

	user, err := engine.Get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.Balance != money.MustParse("15") {
		t.Fatalf("balance = %s, want 15", user.Balance)
	}
}

func TestDebitNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if err := engine.Credit(ctx, 1, money.MustParse("10")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	ok, err := engine.Debit(ctx, 1, money.MustParse("10.00000001"))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if ok {
		t.Fatal("debit above balance must be refused")
	}

	user, _ := engine.Get(ctx, 1)
	if user.Balance != money.MustParse("10") {
		t.Fatalf("balance = %s, want 10", user.Balance)
	}
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if err := engine.Credit(ctx, 1, money.MustParse("50")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := engine.Debit(ctx, 1, money.MustParse("10"))
			if err != nil {
				t.Errorf("debit: %v", err)
				return
			}
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 5 {
		t.Fatalf("applied %d debits, want 5", applied)
	}
	user, _ := engine.Get(ctx, 1)
	if !user.Balance.IsZero() {
		t.Fatalf("balance = %s, want 0", user.Balance)
	}
}

func TestActivatePackage(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return start })

	if err := engine.Credit(ctx, 1, money.MustParse("60")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	pkg, err := engine.ActivatePackage(ctx, 1, 50)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if pkg.Price != money.MustParse("50") || pkg.Daily != money.MustParse("1.66") {
		t.Fatalf("plan = %s/%s", pkg.Price, pkg.Daily)
	}
	if !pkg.EndTS.Equal(start.Add(PackageTerm)) {
		t.Fatalf("end = %s, want %s", pkg.EndTS, start.Add(PackageTerm))
	}

	user, _ := engine.Get(ctx, 1)
	if user.Balance != money.MustParse("10") {
		t.Fatalf("balance = %s, want 10", user.Balance)
	}

	if _, err := engine.ActivatePackage(ctx, 1, 50); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second activate err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := engine.ActivatePackage(ctx, 1, 30); !errors.Is(err, ErrInvalidDenomination) {
		t.Fatalf("invalid denomination err = %v", err)
	}
}

func TestReferralBonusPaidExactlyOnce(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	const referrer, friend = int64(7), int64(8)
	if _, err := engine.EnsureUser(ctx, friend, referrer); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := engine.Credit(ctx, friend, money.MustParse("200")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	if _, err := engine.ActivatePackage(ctx, friend, 50); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ref, _ := engine.Get(ctx, referrer)
	if ref.Balance != money.MustParse("5") {
		t.Fatalf("referrer balance = %s, want 5", ref.Balance)
	}

	// A later activation must not pay again.
	if _, err := engine.ActivatePackage(ctx, friend, 100); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ref, _ = engine.Get(ctx, referrer)
	if ref.Balance != money.MustParse("5") {
		t.Fatalf("referrer balance after second activation = %s, want 5", ref.Balance)
	}

	n, err := engine.QualifiedFriends(ctx, referrer)
	if err != nil || n != 1 {
		t.Fatalf("qualified friends = %d err=%v, want 1", n, err)
	}
}

func TestSelfReferralIgnored(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	user, err := engine.EnsureUser(ctx, 5, 5)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if user.ReferrerID != nil {
		t.Fatal("self-referral must not be recorded")
	}
}

func TestReferrerIsSetOnce(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if _, err := engine.EnsureUser(ctx, 5, 1); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	user, err := engine.EnsureUser(ctx, 5, 2)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if user.ReferrerID == nil || *user.ReferrerID != 1 {
		t.Fatalf("referrer = %v, want 1", user.ReferrerID)
	}
}

func TestClaimDailyOncePerDay(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	if err := engine.Credit(ctx, 1, money.MustParse("30")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := engine.ActivatePackage(ctx, 1, 10); err != nil {
		t.Fatalf("activate 10: %v", err)
	}
	if _, err := engine.ActivatePackage(ctx, 1, 20); err != nil {
		t.Fatalf("activate 20: %v", err)
	}

	credited, err := engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if credited != money.MustParse("0.99") {
		t.Fatalf("claimed %s, want 0.99", credited)
	}

	// Same UTC day, even hours later: nothing more to claim.
	now = now.Add(10 * time.Hour)
	credited, err = engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim again: %v", err)
	}
	if !credited.IsZero() {
		t.Fatalf("second claim same day = %s, want 0", credited)
	}

	// Next UTC day both packages pay again.
	now = now.Add(24 * time.Hour)
	credited, err = engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim next day: %v", err)
	}
	if credited != money.MustParse("0.99") {
		t.Fatalf("next day claim = %s, want 0.99", credited)
	}
}

func TestClaimDailyHonorsNonUTCClock(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	engine.SetClock(func() time.Time { return now })

	if err := engine.Credit(ctx, 1, money.MustParse("10")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := engine.ActivatePackage(ctx, 1, 10); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Three hours before expiry in absolute time, but the process clock sits
	// in a zone east of UTC. The package must still pay.
	east := time.FixedZone("UTC+5", 5*60*60)
	now = start.Add(PackageTerm - 3*time.Hour).In(east)

	credited, err := engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if credited != money.MustParse("0.33") {
		t.Fatalf("claim near expiry with eastern clock = %s, want 0.33", credited)
	}

	// Past expiry in absolute time, western zone: nothing accrues even though
	// the local rendering of the clock still reads before end_ts.
	west := time.FixedZone("UTC-5", -5*60*60)
	now = start.Add(PackageTerm + 3*time.Hour).In(west)

	credited, err = engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if !credited.IsZero() {
		t.Fatalf("expired package claimed %s with western clock", credited)
	}
}

func TestClaimDailySkipsExpiredPackages(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	if err := engine.Credit(ctx, 1, money.MustParse("10")); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := engine.ActivatePackage(ctx, 1, 10); err != nil {
		t.Fatalf("activate: %v", err)
	}

	now = now.Add(PackageTerm).Add(time.Hour)
	credited, err := engine.ClaimDaily(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !credited.IsZero() {
		t.Fatalf("expired package claimed %s", credited)
	}

	active, err := engine.ActivePackages(ctx, 1)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active packages = %d, want 0", len(active))
	}
}

func TestRecordDepositIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	credited, err := engine.RecordDeposit(ctx, "1-1700000000", 1, money.MustParse("50"))
	if err != nil || !credited {
		t.Fatalf("first deposit: credited=%v err=%v", credited, err)
	}
	credited, err = engine.RecordDeposit(ctx, "1-1700000000", 1, money.MustParse("50"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if credited {
		t.Fatal("redelivered order must not credit again")
	}

	user, _ := engine.Get(ctx, 1)
	if user.Balance != money.MustParse("50") {
		t.Fatalf("balance = %s, want 50", user.Balance)
	}
}

func TestRequestWithdrawal(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	if err := engine.Credit(ctx, 1, money.MustParse("30")); err != nil {
		t.Fatalf("credit: %v", err)
	}

	ok, err := engine.RequestWithdrawal(ctx, 1, money.MustParse("40"), "0xabc")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if ok {
		t.Fatal("withdrawal above balance must be refused")
	}

	ok, err = engine.RequestWithdrawal(ctx, 1, money.MustParse("20"), "0xabc")
	if err != nil || !ok {
		t.Fatalf("withdraw: ok=%v err=%v", ok, err)
	}
	user, _ := engine.Get(ctx, 1)
	if user.Balance != money.MustParse("10") {
		t.Fatalf("balance = %s, want 10", user.Balance)
	}
}

// Full lifecycle: referred signup, deposit, activation with bonus, daily
// claims until expiry.
func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	engine.SetClock(func() time.Time { return now })

	const referrer, user = int64(100), int64(200)
	if _, err := engine.EnsureUser(ctx, user, referrer); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if credited, err := engine.RecordDeposit(ctx, "200-1700000001", user, money.MustParse("100")); err != nil || !credited {
		t.Fatalf("deposit: credited=%v err=%v", credited, err)
	}

	if _, err := engine.ActivatePackage(ctx, user, 100); err != nil {
		t.Fatalf("activate: %v", err)
	}

	ref, _ := engine.Get(ctx, referrer)
	if ref.Balance != money.MustParse("10") {
		t.Fatalf("referrer bonus = %s, want 10", ref.Balance)
	}

	for day := 0; day < PackageTermDays; day++ {
		credited, err := engine.ClaimDaily(ctx, user)
		if err != nil {
			t.Fatalf("claim day %d: %v", day, err)
		}
		if credited != money.MustParse("3.33") {
			t.Fatalf("claim day %d = %s, want 3.33", day, credited)
		}
		now = now.Add(24 * time.Hour)
	}

	// The term is over; nothing further accrues.
	if credited, _ := engine.ClaimDaily(ctx, user); !credited.IsZero() {
		t.Fatalf("claim after expiry = %s, want 0", credited)
	}

	u, _ := engine.Get(ctx, user)
	want := money.MustParse("199.8")
	if u.Balance != want {
		t.Fatalf("final balance = %s, want %s", u.Balance, want)
	}
}
