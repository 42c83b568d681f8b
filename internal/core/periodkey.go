package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period keys are the only coordination mechanism between the cache, the
// fetch coordinator and invalidation: there is no secondary index. The
// grammar is fixed:
//
//	transactions-{year}-{month}
//	year-transactions-{year}
//	balance-transactions-{range}-{includeHidden}
//	category-transactions-{category}-{subCategory|all}-{range}
//	starting-balance-{range}-{includeHidden}

const (
	monthKeyPrefix = "transactions-"
	yearKeyPrefix  = "year-transactions-"
)

// MonthKey returns the cache partition key for a single month. Months are
// 1-based and not zero-padded.
func MonthKey(year int, month time.Month) string {
	return fmt.Sprintf("transactions-%d-%d", year, int(month))
}

// YearKey returns the cache partition key for a whole year.
func YearKey(year int) string {
	return fmt.Sprintf("year-transactions-%d", year)
}

// BalanceKey identifies a cached balance series for a named range.
func BalanceKey(rangeName string, includeHidden bool) string {
	return fmt.Sprintf("balance-transactions-%s-%t", rangeName, includeHidden)
}

// CategoryKey identifies a cached category series. An empty subCategory
// maps to "all".
func CategoryKey(category, subCategory, rangeName string) string {
	if subCategory == "" {
		subCategory = "all"
	}
	return fmt.Sprintf("category-transactions-%s-%s-%s", category, subCategory, rangeName)
}

// StartingBalanceKey identifies the cached authoritative prior balance for
// a named range.
func StartingBalanceKey(rangeName string, includeHidden bool) string {
	return fmt.Sprintf("starting-balance-%s-%t", rangeName, includeHidden)
}

// IsPeriodKey reports whether key belongs to the transaction cache domain
// and is therefore eligible for durable persistence.
func IsPeriodKey(key string) bool {
	return strings.HasPrefix(key, monthKeyPrefix) ||
		strings.HasPrefix(key, yearKeyPrefix) ||
		strings.HasPrefix(key, "balance-transactions-") ||
		strings.HasPrefix(key, "category-transactions-") ||
		strings.HasPrefix(key, "starting-balance-")
}

// IsMonthKey reports whether key is a single-month partition.
func IsMonthKey(key string) bool {
	if !strings.HasPrefix(key, monthKeyPrefix) {
		return false
	}
	_, _, err := ParseMonthKey(key)
	return err == nil
}

// ParseMonthKey extracts year and month from a transactions-{y}-{m} key.
func ParseMonthKey(key string) (int, time.Month, error) {
	rest, ok := strings.CutPrefix(key, monthKeyPrefix)
	if !ok {
		return 0, 0, fmt.Errorf("not a month key: %q", key)
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed month key: %q", key)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed month key year: %q", key)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("malformed month key month: %q", key)
	}
	return year, time.Month(month), nil
}

// KeysForDate returns the month and year partition keys a transaction
// dated d lives in.
func KeysForDate(d time.Time) []string {
	return []string{MonthKey(d.Year(), d.Month()), YearKey(d.Year())}
}

// AffectedKeys computes the set of partition keys touched by a mutation.
// When a date change moves the record across a period boundary both the
// old and the new partitions are affected. newDate may be the zero time
// for deletes that only had one date.
func AffectedKeys(oldDate, newDate time.Time) []string {
	seen := make(map[string]struct{}, 4)
	var keys []string
	add := func(d time.Time) {
		if d.IsZero() {
			return
		}
		for _, k := range KeysForDate(d) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	add(oldDate)
	add(newDate)
	return keys
}
