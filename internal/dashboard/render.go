package dashboard

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/matrixise/hotwallet-tracker/internal/blockchain"
	"github.com/matrixise/hotwallet-tracker/internal/explorer"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
	numberStyle   = cellStyle.Align(lipgloss.Right)
	degradedStyle = numberStyle.Foreground(lipgloss.Color("196"))
	dexStyle      = cellStyle.Foreground(lipgloss.Color("141"))
)

// Table column indexes
const (
	colKind = iota
	colLabel
	colBalance
	colValue
	colWithdrawal
	colAddress
)

// FormatWithdrawal renders the withdrawal column. Each status has its own text
// so an empty window never reads like a failed query.
func FormatWithdrawal(w *explorer.Withdrawal, symbol string) string {
	if w == nil {
		return "-"
	}
	switch w.Status {
	case explorer.StatusFound:
		when := "unknown time"
		if w.Timestamp != nil {
			when = w.Timestamp.Format("2006-01-02 15:04 UTC")
		}
		return fmt.Sprintf("%s %s on %s", FormatAmount(w.Amount, 4), symbol, when)
	case explorer.StatusNoTransactions:
		return "no transactions"
	case explorer.StatusNoOutbound:
		return fmt.Sprintf("no outbound in last %d (%d inbound)", w.Scanned, w.Inbound)
	default:
		return "error: " + truncate(w.Error, 40)
	}
}

// FormatAmount prints d with places decimals and thousands separators
func FormatAmount(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}

// FormatUSD prints a dollar value, or n/a when the price is unknown
func FormatUSD(d decimal.Decimal, priced bool) string {
	if !priced {
		return "n/a"
	}
	return "$" + FormatAmount(d, 2)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-6:]
}

// Table builds the lipgloss table of snap's rows
func Table(snap *Snapshot) *table.Table {
	priced := snap.Market.HasPrice()

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(subtleStyle).
		Headers("Type", "Holder", "Balance", "Value", "Last withdrawal", "Address")

	for _, r := range snap.Rows {
		withdrawal := FormatWithdrawal(r.Withdrawal, snap.Descriptor.Symbol)
		if r.Kind == KindDEX {
			withdrawal = fmt.Sprintf("24h vol $%s", FormatAmount(decimal.NewFromFloat(r.Volume24h), 0))
		}
		t.Row(
			string(r.Kind),
			r.Label,
			FormatAmount(r.Balance, 4),
			FormatUSD(r.ValueUSD, priced || r.Kind == KindDEX),
			withdrawal,
			shortAddress(r.Address),
		)
	}

	rows := snap.Rows
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if row < 0 || row >= len(rows) {
			return cellStyle
		}
		r := rows[row]
		switch {
		case col == colBalance && r.BalanceStatus == blockchain.BalanceDegraded:
			return degradedStyle
		case col == colBalance || col == colValue:
			return numberStyle
		case r.Kind == KindDEX && (col == colKind || col == colLabel):
			return dexStyle
		}
		return cellStyle
	})
	return t
}

// Render writes a header, the row table and the totals
func Render(w io.Writer, snap *Snapshot) error {
	d := snap.Descriptor
	m := snap.Market
	priced := m.HasPrice()

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s) on %s", d.Name, d.Symbol, snap.NetworkName)))
	b.WriteString("\n")
	b.WriteString(subtleStyle.Render(fmt.Sprintf("%s  decimals %d", snap.Token, d.Decimals)))
	b.WriteString("\n")

	price := "unknown"
	if priced {
		price = "$" + m.Price.String()
	}
	b.WriteString(fmt.Sprintf("Price %s (source: %s)", price, m.Source))
	if m.MarketCap > 0 {
		b.WriteString(fmt.Sprintf("  mcap $%s", FormatAmount(decimal.NewFromFloat(m.MarketCap), 0)))
	}
	if m.FDV > 0 {
		b.WriteString(fmt.Sprintf("  fdv $%s", FormatAmount(decimal.NewFromFloat(m.FDV), 0)))
	}
	if m.Volume24h > 0 {
		b.WriteString(fmt.Sprintf("  vol 24h $%s", FormatAmount(decimal.NewFromFloat(m.Volume24h), 0)))
	}
	if m.Change24h != 0 {
		b.WriteString(fmt.Sprintf("  24h %+.2f%%", m.Change24h))
	}
	b.WriteString("\n\n")

	b.WriteString(Table(snap).String())
	b.WriteString("\n")

	tot := snap.Totals
	b.WriteString(fmt.Sprintf("CEX total  %s %s  %s\n", FormatAmount(tot.CEXBalance, 4), d.Symbol, FormatUSD(tot.CEXValue, priced)))
	if !tot.DEXBalance.IsZero() || tot.PoolVolume24h > 0 {
		b.WriteString(fmt.Sprintf("DEX total  %s %s  %s  (24h vol $%s)\n",
			FormatAmount(tot.DEXBalance, 4), d.Symbol, FormatUSD(tot.DEXValue, true),
			FormatAmount(decimal.NewFromFloat(tot.PoolVolume24h), 0)))
	}
	b.WriteString(fmt.Sprintf("All        %s %s  %s\n", FormatAmount(tot.Balance, 4), d.Symbol, FormatUSD(tot.Value, priced)))
	if tot.Degraded > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("%d wallet(s) could not be read and show 0", tot.Degraded)))
		b.WriteString("\n")
	}
	b.WriteString(subtleStyle.Render(fmt.Sprintf("sorted by %s, refreshed %s in %s",
		snap.Sort, snap.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"), snap.Duration.Round(10*time.Millisecond))))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}
