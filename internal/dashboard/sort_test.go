package dashboard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/hotwallet-tracker/internal/explorer"
)

func row(label string, balance, usd int64, w *explorer.Withdrawal) Row {
	return Row{
		Label:      label,
		Balance:    decimal.NewFromInt(balance),
		ValueUSD:   decimal.NewFromInt(usd),
		Withdrawal: w,
	}
}

func found(unix int64) *explorer.Withdrawal {
	ts := time.Unix(unix, 0)
	return &explorer.Withdrawal{Status: explorer.StatusFound, Timestamp: &ts}
}

func TestSortRows(t *testing.T) {
	base := func() []Row {
		return []Row{
			row("ten", 10, 5, found(100)),
			row("zero", 0, 50, &explorer.Withdrawal{Status: explorer.StatusNoOutbound}),
			row("five", 5, 1, found(300)),
		}
	}

	tests := []struct {
		name string
		key  SortKey
		want []string
	}{
		{"balance descending", SortBalance, []string{"ten", "five", "zero"}},
		{"usd descending", SortUSD, []string{"zero", "ten", "five"}},
		{"most recent withdrawal first", SortWithdrawal, []string{"five", "ten", "zero"}},
		{"unknown key falls back to balance", SortKey("nope"), []string{"ten", "five", "zero"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := base()
			SortRows(rows, tt.key)
			assert.Equal(t, tt.want, labels(rows))
		})
	}
}

func TestSortRowsStable(t *testing.T) {
	rows := []Row{
		row("a", 1, 0, nil),
		row("b", 2, 0, nil),
		row("c", 1, 0, nil),
		row("d", 2, 0, &explorer.Withdrawal{Status: explorer.StatusError}),
	}

	SortRows(rows, SortBalance)
	assert.Equal(t, []string{"b", "d", "a", "c"}, labels(rows))

	SortRows(rows, SortWithdrawal)
	assert.Equal(t, []string{"b", "d", "a", "c"}, labels(rows))
}

func TestParseSortKey(t *testing.T) {
	tests := []struct {
		in      string
		want    SortKey
		wantErr bool
	}{
		{"", SortBalance, false},
		{"balance", SortBalance, false},
		{" USD ", SortUSD, false},
		{"value", SortUSD, false},
		{"withdrawal", SortWithdrawal, false},
		{"last_withdrawal", SortWithdrawal, false},
		{"name", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSortKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in     string
		places int32
		want   string
	}{
		{"0", 4, "0.0000"},
		{"999", 2, "999.00"},
		{"1000", 0, "1,000"},
		{"1234567.891", 2, "1,234,567.89"},
		{"-45000.5", 1, "-45,000.5"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.in), tt.places))
		})
	}
}

func TestFormatWithdrawal(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	assert.Equal(t, "-", FormatWithdrawal(nil, "USDT"))
	assert.Equal(t, "1,250.5000 USDT on 2024-03-09 14:05 UTC",
		FormatWithdrawal(&explorer.Withdrawal{Status: explorer.StatusFound, Amount: decimal.RequireFromString("1250.5"), Timestamp: &ts}, "USDT"))
	assert.Equal(t, "2.0000 USDT on unknown time",
		FormatWithdrawal(&explorer.Withdrawal{Status: explorer.StatusFound, Amount: decimal.NewFromInt(2)}, "USDT"))
	assert.Equal(t, "no transactions", FormatWithdrawal(&explorer.Withdrawal{Status: explorer.StatusNoTransactions}, "USDT"))
	assert.Equal(t, "no outbound in last 30 (12 inbound)",
		FormatWithdrawal(&explorer.Withdrawal{Status: explorer.StatusNoOutbound, Scanned: 30, Inbound: 12}, "USDT"))
	assert.Equal(t, "error: rate limited",
		FormatWithdrawal(&explorer.Withdrawal{Status: explorer.StatusError, Error: "rate limited"}, "USDT"))
}
