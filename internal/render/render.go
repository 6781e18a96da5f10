// Package render draws the market views for the terminal client.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"coinview/internal/view"
	"coinview/models"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	gain      = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	loss      = lipgloss.AdaptiveColor{Light: "#D9534F", Dark: "#FF6B6B"}

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(0, 2).
			Bold(true)

	mutedStyle  = lipgloss.NewStyle().Foreground(subtle)
	gainStyle   = lipgloss.NewStyle().Foreground(gain)
	lossStyle   = lipgloss.NewStyle().Foreground(loss)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	noticeStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(loss).Padding(0, 1)
)

var sparkBars = []rune("▁▂▃▄▅▆▇█")

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
	trillion = decimal.NewFromInt(1_000_000_000_000)
)

// FormatPrice renders a price with two decimals and grouped thousands. Prices
// below one keep up to six decimals.
func FormatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	if d.Abs().LessThan(decimal.NewFromInt(1)) {
		return "$" + d.Round(6).String()
	}
	return "$" + groupThousands(d.StringFixed(2))
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2) + "%"
	}
	return d.StringFixed(2) + "%"
}

// FormatCompact renders large amounts with a T/B/M/K suffix.
func FormatCompact(v float64) string {
	d := decimal.NewFromFloat(v)
	switch abs := d.Abs(); {
	case abs.GreaterThanOrEqual(trillion):
		return "$" + d.Div(trillion).StringFixed(2) + "T"
	case abs.GreaterThanOrEqual(billion):
		return "$" + d.Div(billion).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(million):
		return "$" + d.Div(million).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return "$" + d.Div(thousand).StringFixed(2) + "K"
	default:
		return "$" + d.StringFixed(2)
	}
}

func groupThousands(s string) string {
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

// Change colours a percentage green when positive and red when negative.
func Change(v float64) string {
	s := FormatPercent(v)
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	default:
		return s
	}
}

// Sparkline draws values as a single line of block characters, resampled to
// at most width columns.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		sampled := make([]float64, width)
		for i := range sampled {
			sampled[i] = values[i*len(values)/width]
		}
		values = sampled
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	top := len(sparkBars) - 1
	out := make([]rune, len(values))
	for i, v := range values {
		idx := top / 2
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(top))
		}
		out[i] = sparkBars[idx]
	}
	return string(out)
}

// Header summarises paging, sort and freshness above the list.
func Header(page view.Page) string {
	parts := []string{
		fmt.Sprintf("Page %d/%d", page.Page, page.TotalPages),
		fmt.Sprintf("%d coins", page.TotalRecords),
		"Sort: " + page.SortKey.Label(),
	}
	if page.Source != "" {
		parts = append(parts, "Source: "+page.Source)
	}
	if !page.UpdatedAt.IsZero() {
		parts = append(parts, "Updated "+page.UpdatedAt.Local().Format("15:04:05"))
	}
	line := mutedStyle.Render(strings.Join(parts, "  ·  "))
	if page.Busy {
		line += "  " + gainStyle.Render("refreshing…")
	}
	return titleStyle.Render("COINVIEW") + "\n" + line
}

// Table renders the records of one page.
func Table(records []models.MarketRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.MarketCapRank),
			r.Name,
			strings.ToUpper(r.Symbol),
			FormatPrice(r.CurrentPrice),
			FormatPercent(r.PriceChangePercentage24h),
			FormatCompact(r.MarketCap),
			Sparkline(r.Sparkline, 20),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("#", "Name", "Symbol", "Price", "24h", "Market Cap", "7d").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 4 && row >= 0 && row < len(records) {
				switch v := records[row].PriceChangePercentage24h; {
				case v > 0:
					return cellStyle.Foreground(gain)
				case v < 0:
					return cellStyle.Foreground(loss)
				}
			}
			return cellStyle
		}).
		Render()
}

// Page renders the header and table for page.
func Page(page view.Page) string {
	if len(page.Records) == 0 {
		return Header(page) + "\n\n" + mutedStyle.Render("No market data yet.")
	}
	return Header(page) + "\n" + Table(page.Records)
}

// Search renders the search overlay. An inactive search renders nothing.
func Search(result view.SearchResult) string {
	if !result.Active {
		return ""
	}
	if len(result.Records) == 0 {
		return mutedStyle.Render(fmt.Sprintf("No coins match %q.", result.Query))
	}
	title := mutedStyle.Render(fmt.Sprintf("%d results for %q", len(result.Records), result.Query))
	return title + "\n" + Table(result.Records)
}

// Detail renders the selected record with its 7d price chart.
func Detail(chart view.Chart) string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%s (%s)", chart.Name, chart.Symbol)),
		"Price: " + FormatPrice(chart.CurrentPrice),
		"7d:    " + Change(chart.PriceChangePercentage7d),
	}
	if len(chart.Sparkline) > 0 {
		lines = append(lines,
			"",
			Sparkline(chart.Sparkline, 60),
			mutedStyle.Render(fmt.Sprintf("low %s  high %s", FormatPrice(chart.Low), FormatPrice(chart.High))),
		)
	} else {
		lines = append(lines, "", mutedStyle.Render("No chart data."))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// Notice renders a raised notice.
func Notice(n models.Notice) string {
	return noticeStyle.Render(lipgloss.NewStyle().Bold(true).Render(n.Title) + "\n" + n.Message)
}
