package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

type (
	TransactionType string

	// Transaction is the canonical entity the engine caches and mutates.
	// eur_amount is a pointer: absence means "conversion pending", which is
	// different from a zero amount.
	Transaction struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`

		Amount       float64  `json:"amount"`
		Currency     string   `json:"currency"`
		EURAmount    *float64 `json:"eur_amount,omitempty"`
		ExchangeRate *float64 `json:"exchange_rate,omitempty"`
		RateDate     string   `json:"rate_date,omitempty"`

		Type            TransactionType `json:"type"`
		MainCategory    string          `json:"main_category"`
		SubCategory     string          `json:"sub_category"`
		IsMoneyTransfer bool            `json:"is_money_transfer"`
		HideFromTotals  bool            `json:"hide_from_totals"`

		Date      time.Time `json:"date"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`

		SplitAcrossYear          bool     `json:"split_across_year"`
		SplitDisplayAmount       *float64 `json:"split_display_amount,omitempty"`
		SplitDisplayEURAmount    *float64 `json:"split_display_eur_amount,omitempty"`
		SplitIsReadOnly          bool     `json:"split_is_read_only"`
		SplitSourceTransactionID string   `json:"split_source_transaction_id,omitempty"`
	}

	// TransactionPatch carries partial fields for an update. Nil means
	// "leave the field alone".
	TransactionPatch struct {
		Amount          *float64
		Currency        *string
		EURAmount       *float64
		ExchangeRate    *float64
		RateDate        *string
		// ClearEUR discards the stored EUR fields. Nil EURAmount alone
		// cannot express that: it means "leave alone". Applied before
		// the patch's own EUR fields, so explicit values still win.
		ClearEUR        bool
		Type            *TransactionType
		MainCategory    *string
		SubCategory     *string
		IsMoneyTransfer *bool
		HideFromTotals  *bool
		Date            *time.Time
		SplitAcrossYear *bool
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrEmptyUserID     = errors.New("empty user id")
	ErrEmptyCategory   = errors.New("empty main category")
)

const tempIDPrefix = "temp-"

// NewTempID returns the identity of a not-yet-confirmed optimistic row.
func NewTempID(now time.Time) string {
	return fmt.Sprintf("%s%d", tempIDPrefix, now.UnixMilli())
}

// IsTempID reports whether id belongs to an unconfirmed optimistic row.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if len(t.Currency) != 3 {
		return ErrInvalidCurrency
	}
	switch t.Type {
	case TypeIncome, TypeExpense:
	default:
		return ErrInvalidType
	}
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUserID
	}
	if strings.TrimSpace(t.MainCategory) == "" {
		return ErrEmptyCategory
	}
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// SignedEUR returns the EUR value with expense sign applied, or false when
// the conversion is still pending.
func (t Transaction) SignedEUR() (float64, bool) {
	if t.EURAmount == nil {
		return 0, false
	}
	v := *t.EURAmount
	if t.Type == TypeExpense {
		v = -v
	}
	return v, true
}

// Apply merges the patch into a copy of the transaction and returns it.
func (t Transaction) Apply(p TransactionPatch) Transaction {
	if p.ClearEUR {
		t.EURAmount = nil
		t.ExchangeRate = nil
		t.RateDate = ""
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Currency != nil {
		t.Currency = *p.Currency
	}
	if p.EURAmount != nil {
		t.EURAmount = p.EURAmount
	}
	if p.ExchangeRate != nil {
		t.ExchangeRate = p.ExchangeRate
	}
	if p.RateDate != nil {
		t.RateDate = *p.RateDate
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.MainCategory != nil {
		t.MainCategory = *p.MainCategory
	}
	if p.SubCategory != nil {
		t.SubCategory = *p.SubCategory
	}
	if p.IsMoneyTransfer != nil {
		t.IsMoneyTransfer = *p.IsMoneyTransfer
	}
	if p.HideFromTotals != nil {
		t.HideFromTotals = *p.HideFromTotals
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	if p.SplitAcrossYear != nil {
		t.SplitAcrossYear = *p.SplitAcrossYear
	}
	return t
}

// SortByDateDesc orders transactions newest first, breaking ties on
// created_at. This is the canonical order of every cached period list.
func SortByDateDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

// SortByDateAsc orders transactions oldest first, the order the
// aggregation engines consume.
func SortByDateAsc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}

// Float64 returns a pointer to v. Convenience for optional money fields.
func Float64(v float64) *float64 { return &v }
