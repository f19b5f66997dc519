package dashboard

import (
	"fmt"
	"sort"
	"strings"
)

// SortKey orders dashboard rows
type SortKey string

const (
	SortBalance    SortKey = "balance"
	SortUSD        SortKey = "usd"
	SortWithdrawal SortKey = "withdrawal"
)

// SortKeys lists the accepted keys
var SortKeys = []SortKey{SortBalance, SortUSD, SortWithdrawal}

// ParseSortKey accepts a key case-insensitively. Empty means balance.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortBalance:
		return SortBalance, nil
	case SortUSD, "value":
		return SortUSD, nil
	case SortWithdrawal, "last_withdrawal":
		return SortWithdrawal, nil
	}
	return "", fmt.Errorf("invalid sort key %q (expected balance, usd or withdrawal)", s)
}

// SortRows orders rows in place, descending on key. Ties keep their order.
// For withdrawal sorting, rows without a found withdrawal go last.
func SortRows(rows []Row, key SortKey) {
	var less func(a, b Row) bool
	switch key {
	case SortUSD:
		less = func(a, b Row) bool { return a.ValueUSD.GreaterThan(b.ValueUSD) }
	case SortWithdrawal:
		less = func(a, b Row) bool {
			at, aok := withdrawalTime(a)
			bt, bok := withdrawalTime(b)
			if aok != bok {
				return aok
			}
			return aok && at > bt
		}
	default:
		less = func(a, b Row) bool { return a.Balance.GreaterThan(b.Balance) }
	}

	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

func withdrawalTime(r Row) (int64, bool) {
	if r.Withdrawal == nil || !r.Withdrawal.Found() {
		return 0, false
	}
	if r.Withdrawal.Timestamp == nil {
		return 0, true
	}
	return r.Withdrawal.Timestamp.Unix(), true
}
