package ledger

import (
	"fmt"
	"time"

	"earn-bot/internal/money"
)

// PackageTermDays is the fixed accrual term of every package.
const PackageTermDays = 60

// PackageTerm is the term as a duration.
const PackageTerm = PackageTermDays * 24 * time.Hour

// Plan is a fixed package denomination with its daily payout.
type Plan struct {
	Denomination int64
	Price        money.Amount
	Daily        money.Amount
}

// Name returns the user-facing package name.
func (p Plan) Name() string {
	return fmt.Sprintf("%d USDT", p.Denomination)
}

var plans = []Plan{
	{Denomination: 10, Price: money.MustParse("10"), Daily: money.MustParse("0.33")},
	{Denomination: 20, Price: money.MustParse("20"), Daily: money.MustParse("0.66")},
	{Denomination: 50, Price: money.MustParse("50"), Daily: money.MustParse("1.66")},
	{Denomination: 100, Price: money.MustParse("100"), Daily: money.MustParse("3.33")},
	{Denomination: 200, Price: money.MustParse("200"), Daily: money.MustParse("6.66")},
	{Denomination: 500, Price: money.MustParse("500"), Daily: money.MustParse("16.66")},
	{Denomination: 1000, Price: money.MustParse("1000"), Daily: money.MustParse("33.33")},
}

// Plans returns the fixed denomination set in ascending order.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanFor looks up the plan for a denomination.
func PlanFor(denomination int64) (Plan, bool) {
	for _, p := range plans {
		if p.Denomination == denomination {
			return p, true
		}
	}
	return Plan{}, false
}
