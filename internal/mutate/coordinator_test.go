package mutate

import (
	"context"
	"errors"
	"testing"
	"time"

	"conto/internal/cache"
	"conto/internal/core"
	"conto/internal/remote"
)

// fakeStore confirms mutations or fails on demand.
type fakeStore struct {
	failInsert bool
	failUpdate bool
	failDelete bool
	nextID     string
	updateBase *core.Transaction
}

func (f *fakeStore) List(ctx context.Context, q remote.Query) ([]core.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) ListUpdatedSince(ctx context.Context, userID string, since time.Time) ([]core.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if f.failInsert {
		return core.Transaction{}, errors.New("insert rejected")
	}
	tx.ID = f.nextID
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	return tx, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, patch core.TransactionPatch) (core.Transaction, error) {
	if f.failUpdate {
		return core.Transaction{}, errors.New("update rejected")
	}
	tx := core.Transaction{ID: id, UserID: "user-1", Amount: 1, Currency: "EUR",
		Type: core.TypeExpense, MainCategory: "misc"}
	if f.updateBase != nil {
		tx = *f.updateBase
	}
	return tx.Apply(patch), nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	if f.failDelete {
		return errors.New("delete rejected")
	}
	return nil
}

type fixedConverter struct {
	conv *remote.Conversion
	err  error
}

func (f fixedConverter) ConvertToEUR(ctx context.Context, amount float64, currency string, date time.Time) (*remote.Conversion, error) {
	return f.conv, f.err
}

func marchDate() time.Time {
	return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
}

func newCoordinator(store *fakeStore, conv remote.CurrencyConverter) (*Coordinator, *cache.PeriodCache) {
	periods := cache.NewPeriodCache(cache.DefaultCapacity, cache.DefaultTTL)
	provider := cache.NewTandem(periods, nil)
	return NewCoordinator("user-1", provider, store, conv), periods
}

func validTx() core.Transaction {
	return core.Transaction{
		UserID:       "user-1",
		Amount:       42.00,
		Currency:     "EUR",
		Type:         core.TypeExpense,
		MainCategory: "food",
		Date:         marchDate(),
	}
}

func TestAdd_ReplacesOptimisticRowWithConfirmed(t *testing.T) {
	store := &fakeStore{nextID: "server-1"}
	coord, periods := newCoordinator(store, nil)

	monthKey := core.MonthKey(2024, time.March)
	periods.Set(monthKey, []core.Transaction{})

	confirmed, err := coord.Add(context.Background(), validTx())
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if confirmed.ID != "server-1" {
		t.Errorf("confirmed id = %q", confirmed.ID)
	}

	data := periods.Get(monthKey)
	if len(data) != 1 {
		t.Fatalf("month partition has %d rows, want 1", len(data))
	}
	if data[0].ID != "server-1" {
		t.Errorf("cached row id = %q, want the server id", data[0].ID)
	}
	if core.IsTempID(data[0].ID) {
		t.Error("temporary id survived confirmation")
	}
}

func TestAdd_RollbackLeavesNoTrace(t *testing.T) {
	store := &fakeStore{failInsert: true}
	coord, periods := newCoordinator(store, nil)

	monthKey := core.MonthKey(2024, time.March)
	existing := core.Transaction{ID: "keep", Date: marchDate().AddDate(0, 0, -1)}
	periods.Set(monthKey, []core.Transaction{existing})

	if _, err := coord.Add(context.Background(), validTx()); err == nil {
		t.Fatal("expected Add to fail")
	}

	data := periods.Get(monthKey)
	if len(data) != 1 || data[0].ID != "keep" {
		t.Errorf("cache after rollback = %v, want only the pre-existing row", data)
	}
	for _, tx := range data {
		if core.IsTempID(tx.ID) {
			t.Errorf("temporary row %q left behind after rollback", tx.ID)
		}
	}
}

func TestAdd_EURNormalizationIsSynchronous(t *testing.T) {
	store := &fakeStore{nextID: "server-1"}
	coord, periods := newCoordinator(store, nil)
	periods.Set(core.MonthKey(2024, time.March), []core.Transaction{})

	confirmed, err := coord.Add(context.Background(), validTx())
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if confirmed.EURAmount == nil || *confirmed.EURAmount != 42.00 {
		t.Errorf("eur_amount = %v, want 42.00", confirmed.EURAmount)
	}
	if confirmed.ExchangeRate == nil || *confirmed.ExchangeRate != 1 {
		t.Errorf("exchange_rate = %v, want 1", confirmed.ExchangeRate)
	}
}

func TestAdd_ConversionFailureLeavesEURPending(t *testing.T) {
	store := &fakeStore{nextID: "server-1"}
	coord, periods := newCoordinator(store, fixedConverter{err: errors.New("rates down")})
	periods.Set(core.MonthKey(2024, time.March), []core.Transaction{})

	tx := validTx()
	tx.Currency = "USD"

	confirmed, err := coord.Add(context.Background(), tx)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if confirmed.EURAmount != nil {
		t.Errorf("eur_amount = %v, want pending (nil)", *confirmed.EURAmount)
	}
}

func TestMutations_RevalidateRunsOnConfirmOnly(t *testing.T) {
	store := &fakeStore{nextID: "server-1"}
	coord, periods := newCoordinator(store, nil)
	periods.Set(core.MonthKey(2024, time.March), []core.Transaction{})

	revalidated := 0
	coord.Revalidate = func(ctx context.Context) { revalidated++ }

	confirmed, err := coord.Add(context.Background(), validTx())
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if revalidated != 1 {
		t.Fatalf("revalidations after Add = %d, want 1", revalidated)
	}

	store.failDelete = true
	if err := coord.Delete(context.Background(), confirmed); err == nil {
		t.Fatal("Delete() succeeded, want failure")
	}
	if revalidated != 1 {
		t.Errorf("rolled-back mutation revalidated, count = %d", revalidated)
	}
}

func TestUpdate_PendingConversionClearsStaleEUR(t *testing.T) {
	base := validTx()
	base.ID = "tx-1"
	base.Currency = "USD"
	base.EURAmount = core.Float64(38.50)
	base.ExchangeRate = core.Float64(0.9167)
	base.RateDate = "2024-03-15"

	store := &fakeStore{updateBase: &base}
	coord, periods := newCoordinator(store, fixedConverter{err: errors.New("rates down")})
	key := core.MonthKey(2024, time.March)
	periods.Set(key, []core.Transaction{base})

	amount := 55.0
	confirmed, err := coord.Update(context.Background(), base, core.TransactionPatch{Amount: &amount})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if confirmed.EURAmount != nil {
		t.Errorf("eur_amount = %v, want pending (nil) after the amount changed", *confirmed.EURAmount)
	}
	if confirmed.ExchangeRate != nil || confirmed.RateDate != "" {
		t.Error("rate fields survived a pending re-normalization")
	}
	rows := periods.Get(key)
	if len(rows) != 1 || rows[0].EURAmount != nil {
		t.Error("cached row keeps a stale eur_amount")
	}
}

func TestUpdate_CrossMonthMove(t *testing.T) {
	store := &fakeStore{}
	coord, periods := newCoordinator(store, nil)

	prev := validTx()
	prev.ID = "tx-1"
	oldKey := core.MonthKey(2024, time.March)
	newKey := core.MonthKey(2024, time.April)
	periods.Set(oldKey, []core.Transaction{prev})
	periods.Set(newKey, []core.Transaction{})

	newDate := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	if _, err := coord.Update(context.Background(), prev, core.TransactionPatch{Date: &newDate}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if rows := periods.Get(oldKey); len(rows) != 0 {
		t.Errorf("old month still holds %d rows", len(rows))
	}
	rows := periods.Get(newKey)
	if len(rows) != 1 || rows[0].ID != "tx-1" {
		t.Errorf("new month rows = %v, want the moved record", rows)
	}
}

func TestUpdate_CrossYearInvalidatesBothYearKeys(t *testing.T) {
	store := &fakeStore{}
	coord, periods := newCoordinator(store, nil)

	prev := validTx()
	prev.ID = "tx-1"
	prev.Date = time.Date(2023, 12, 30, 0, 0, 0, 0, time.UTC)
	periods.Set(core.YearKey(2023), []core.Transaction{prev})
	periods.Set(core.YearKey(2024), []core.Transaction{})

	newDate := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if _, err := coord.Update(context.Background(), prev, core.TransactionPatch{Date: &newDate}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	if periods.Has(core.YearKey(2023)) {
		t.Error("old year partition not invalidated")
	}
	if periods.Has(core.YearKey(2024)) {
		t.Error("new year partition not invalidated")
	}
}

func TestUpdate_RollbackRestoresPriorFields(t *testing.T) {
	store := &fakeStore{failUpdate: true}
	coord, periods := newCoordinator(store, nil)

	prev := validTx()
	prev.ID = "tx-1"
	key := core.MonthKey(2024, time.March)
	periods.Set(key, []core.Transaction{prev})

	if _, err := coord.Update(context.Background(), prev, core.TransactionPatch{Amount: core.Float64(99)}); err == nil {
		t.Fatal("expected Update to fail")
	}

	rows := periods.Get(key)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Amount != 42.00 {
		t.Errorf("amount after rollback = %v, want the prior 42.00", rows[0].Amount)
	}
}

func TestDelete_RollbackReinsertsRow(t *testing.T) {
	store := &fakeStore{failDelete: true}
	coord, periods := newCoordinator(store, nil)

	tx := validTx()
	tx.ID = "tx-1"
	key := core.MonthKey(2024, time.March)
	periods.Set(key, []core.Transaction{tx})

	if err := coord.Delete(context.Background(), tx); err == nil {
		t.Fatal("expected Delete to fail")
	}

	rows := periods.Get(key)
	if len(rows) != 1 || rows[0].ID != "tx-1" {
		t.Errorf("rows after rollback = %v, want the deleted row restored", rows)
	}
}

func TestDelete_Confirmed(t *testing.T) {
	store := &fakeStore{}
	coord, periods := newCoordinator(store, nil)

	tx := validTx()
	tx.ID = "tx-1"
	key := core.MonthKey(2024, time.March)
	periods.Set(key, []core.Transaction{tx})
	periods.Set(core.YearKey(2024), []core.Transaction{tx})

	var notified []core.ChangeEvent
	coord.Notify = func(ctx context.Context, ch core.ChangeEvent) { notified = append(notified, ch) }
	revalidated := false
	coord.Revalidate = func(ctx context.Context) { revalidated = true }

	if err := coord.Delete(context.Background(), tx); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if rows := periods.Get(key); len(rows) != 0 {
		t.Errorf("month partition still holds %v", rows)
	}
	if periods.Has(core.YearKey(2024)) {
		t.Error("year partition not invalidated")
	}
	if len(notified) != 1 || notified[0].Op != core.OpDelete || notified[0].TransactionID != "tx-1" {
		t.Errorf("notifications = %v", notified)
	}
	if !revalidated {
		t.Error("aggregate revalidation not requested")
	}
}
