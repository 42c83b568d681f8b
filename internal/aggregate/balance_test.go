package aggregate

import (
	"math"
	"testing"
	"time"

	"conto/internal/core"
)

func tx(id string, typ core.TransactionType, eur float64, date time.Time) core.Transaction {
	return core.Transaction{
		ID:           id,
		Type:         typ,
		Amount:       eur,
		Currency:     "EUR",
		EURAmount:    core.Float64(eur),
		MainCategory: "misc",
		Date:         date,
	}
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

func almost(a, b float64) bool { return math.Abs(a-b) < 0.005 }

func TestBalanceSeries_RunningBalance(t *testing.T) {
	txs := []core.Transaction{
		tx("a", core.TypeIncome, 1000, day(1)),
		tx("b", core.TypeExpense, 250.50, day(1)),
		tx("c", core.TypeExpense, 100, day(5)),
		tx("d", core.TypeIncome, 20, day(20)),
	}

	points := BalanceSeries(txs, 500, Daily)

	if len(points) != 3 {
		t.Fatalf("got %d buckets, want 3", len(points))
	}
	if points[0].Period != "2024-03-01" {
		t.Errorf("first bucket = %q", points[0].Period)
	}
	if !almost(points[0].Balance, 1249.50) {
		t.Errorf("day 1 balance = %v, want 1249.50", points[0].Balance)
	}
	if !almost(points[0].Income, 1000) || !almost(points[0].Expense, 250.50) {
		t.Errorf("day 1 income/expense = %v/%v", points[0].Income, points[0].Expense)
	}
	if points[0].Count != 2 {
		t.Errorf("day 1 count = %d, want 2", points[0].Count)
	}
	if !almost(points[1].Balance, 1149.50) {
		t.Errorf("day 5 balance = %v, want 1149.50", points[1].Balance)
	}
	if !almost(points[2].Balance, 1169.50) {
		t.Errorf("day 20 balance = %v, want 1169.50", points[2].Balance)
	}
}

func TestBalanceSeries_Exclusions(t *testing.T) {
	hidden := tx("h", core.TypeExpense, 50, day(2))
	hidden.HideFromTotals = true

	pending := tx("p", core.TypeExpense, 50, day(2))
	pending.EURAmount = nil

	transfer := tx("t", core.TypeExpense, 75, day(2))
	transfer.IsMoneyTransfer = true

	points := BalanceSeries([]core.Transaction{hidden, pending, transfer}, 100, Daily)

	// Transfers stay in the balance; hidden and pending rows do not.
	if len(points) != 1 {
		t.Fatalf("got %d buckets, want 1", len(points))
	}
	if points[0].Count != 1 {
		t.Errorf("count = %d, want only the transfer row", points[0].Count)
	}
	if !almost(points[0].Balance, 25) {
		t.Errorf("balance = %v, want 25", points[0].Balance)
	}
}

func TestBalanceSeries_WeeklyBucketsStartMonday(t *testing.T) {
	// 2024-03-06 is a Wednesday; its week starts Monday 2024-03-04.
	points := BalanceSeries([]core.Transaction{
		tx("a", core.TypeIncome, 10, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)),
		tx("b", core.TypeIncome, 10, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)),
		tx("c", core.TypeIncome, 10, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)),
	}, 0, Weekly)

	if len(points) != 2 {
		t.Fatalf("got %d buckets, want 2", len(points))
	}
	if points[0].Period != "2024-03-04" {
		t.Errorf("first week bucket = %q, want 2024-03-04", points[0].Period)
	}
	if points[1].Period != "2024-03-11" {
		t.Errorf("second week bucket = %q, want 2024-03-11", points[1].Period)
	}
}

func TestBalanceSeries_UsesSplitDisplayAmount(t *testing.T) {
	inst := tx("s::split::2024-3", core.TypeExpense, 100.00, day(15))
	inst.SplitDisplayEURAmount = core.Float64(8.33)

	points := BalanceSeries([]core.Transaction{inst}, 0, Monthly)

	if len(points) != 1 {
		t.Fatal("expected one bucket")
	}
	if !almost(points[0].Expense, 8.33) {
		t.Errorf("instalment contributed %v, want its display amount 8.33", points[0].Expense)
	}
}

func TestBalanceContinuity(t *testing.T) {
	march := []core.Transaction{
		tx("a", core.TypeIncome, 300, day(3)),
		tx("b", core.TypeExpense, 120.45, day(28)),
	}
	april := []core.Transaction{
		tx("c", core.TypeExpense, 60, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)),
	}

	first := BalanceSeries(march, 1000, Monthly)
	carry := EndingBalance(first, 1000)
	second := BalanceSeries(april, carry, Monthly)

	if !almost(carry, 1179.55) {
		t.Errorf("march ending balance = %v, want 1179.55", carry)
	}
	if !almost(EndingBalance(second, carry), 1119.55) {
		t.Errorf("april ending balance = %v, want 1119.55", EndingBalance(second, carry))
	}

	// Concatenated run must land on the same final value.
	all := append(append([]core.Transaction{}, march...), april...)
	joined := BalanceSeries(all, 1000, Monthly)
	if !almost(EndingBalance(joined, 1000), EndingBalance(second, carry)) {
		t.Errorf("joined run = %v, chained run = %v",
			EndingBalance(joined, 1000), EndingBalance(second, carry))
	}
}

func TestCategorySeries_PreSeedsEmptyBuckets(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	food := tx("a", core.TypeExpense, 45.60, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	food.MainCategory = "food"
	food.SubCategory = "groceries"

	points := CategorySeries([]core.Transaction{food}, "food", "", from, to, Monthly)

	if len(points) != 4 {
		t.Fatalf("got %d buckets, want 4 seeded months", len(points))
	}
	want := map[string]float64{"2024-01": 0, "2024-02": 45.60, "2024-03": 0, "2024-04": 0}
	for _, p := range points {
		if !almost(p.Total, want[p.Period]) {
			t.Errorf("bucket %s = %v, want %v", p.Period, p.Total, want[p.Period])
		}
	}
}

func TestCategorySeries_ExcludesTransfersAndOtherCategories(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	food := tx("a", core.TypeExpense, 10, day(5))
	food.MainCategory = "food"

	transfer := tx("b", core.TypeExpense, 99, day(6))
	transfer.MainCategory = "food"
	transfer.IsMoneyTransfer = true

	rent := tx("c", core.TypeExpense, 800, day(7))
	rent.MainCategory = "housing"

	points := CategorySeries([]core.Transaction{food, transfer, rent}, "food", "", from, to, Monthly)

	if len(points) != 1 {
		t.Fatalf("got %d buckets, want 1", len(points))
	}
	if !almost(points[0].Total, 10) {
		t.Errorf("total = %v, want 10 (transfer and other categories excluded)", points[0].Total)
	}
	if points[0].Count != 1 {
		t.Errorf("count = %d, want 1", points[0].Count)
	}
}

func TestCategorySeries_SubCategoryFilter(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	groceries := tx("a", core.TypeExpense, 30, day(5))
	groceries.MainCategory = "food"
	groceries.SubCategory = "groceries"

	dining := tx("b", core.TypeExpense, 20, day(6))
	dining.MainCategory = "food"
	dining.SubCategory = "dining"

	points := CategorySeries([]core.Transaction{groceries, dining}, "food", "groceries", from, to, Monthly)

	if !almost(points[0].Total, 30) {
		t.Errorf("total = %v, want only the groceries row", points[0].Total)
	}
}

func TestCategoryTotals(t *testing.T) {
	groceries := tx("a", core.TypeExpense, 30, day(5))
	groceries.MainCategory = "food"
	groceries.SubCategory = "groceries"

	dining := tx("b", core.TypeExpense, 20.10, day(6))
	dining.MainCategory = "food"
	dining.SubCategory = "dining"

	totals := CategoryTotals([]core.Transaction{groceries, dining})

	if !almost(totals["food"]["groceries"], 30) || !almost(totals["food"]["dining"], 20.10) {
		t.Errorf("totals = %v", totals)
	}
}
