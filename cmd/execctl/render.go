package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/betbot/goexec/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// riskStyle safe/low 绿，warning/medium 黄，danger/high 红
func riskStyle(level string) lipgloss.Style {
	switch strings.ToLower(level) {
	case "safe", "low":
		return okStyle
	case "warning", "medium":
		return warnStyle
	case "danger", "high":
		return errStyle
	}
	return dimStyle
}

// renderOutcome 一行结果：✓/✗ + 分类 + 消息
func renderOutcome(o domain.Outcome) string {
	if o.Success {
		return okStyle.Render("✓ " + o.Message)
	}
	kind := ""
	if o.Kind != "" {
		kind = "[" + string(o.Kind) + "] "
	}
	return errStyle.Render("✗ " + kind + o.Message)
}

// renderTable 等宽表格：表头加粗，列宽按内容计算（按显示宽度，兼容中文）
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	cell := func(s string, w int) string {
		return lipgloss.NewStyle().Width(w).Render(s)
	}
	var lines []string
	var head []string
	for i, h := range headers {
		head = append(head, titleStyle.Render(cell(h, widths[i])))
	}
	lines = append(lines, strings.Join(head, "  "))
	total := 0
	for _, w := range widths {
		total += w
	}
	lines = append(lines, dimStyle.Render(strings.Repeat("─", total+2*(len(widths)-1))))
	for _, row := range rows {
		var cols []string
		for i := range headers {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cols = append(cols, cell(v, widths[i]))
		}
		lines = append(lines, strings.Join(cols, "  "))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderOrders(orders []*domain.Order) string {
	if len(orders) == 0 {
		return dimStyle.Render("(no orders)")
	}
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		price := "market"
		if o.Price != nil {
			price = num(*o.Price)
		}
		rows = append(rows, []string{
			o.Exchange, o.OrderID, o.Symbol, string(o.Side), string(o.Type),
			num(o.Amount), num(o.Filled), price, statusText(o.Status),
		})
	}
	return renderTable([]string{"EXCHANGE", "ORDER", "SYMBOL", "SIDE", "TYPE", "AMOUNT", "FILLED", "PRICE", "STATUS"}, rows)
}

func statusText(s domain.OrderStatus) string {
	switch s {
	case domain.OrderStatusFilled:
		return okStyle.Render(string(s))
	case domain.OrderStatusPartiallyFilled:
		return warnStyle.Render(string(s))
	case domain.OrderStatusRejected, domain.OrderStatusError:
		return errStyle.Render(string(s))
	case domain.OrderStatusCancelled:
		return dimStyle.Render(string(s))
	}
	return string(s)
}

func renderPosition(p domain.Position) string {
	side := string(p.Side)
	switch p.Side {
	case domain.PositionLong:
		side = okStyle.Render(side)
	case domain.PositionShort:
		side = errStyle.Render(side)
	default:
		side = dimStyle.Render(side)
	}
	body := strings.Join([]string{
		titleStyle.Render(p.Exchange + " " + p.Symbol),
		"side      " + side,
		"size      " + num(p.Size),
		"entry     " + num(p.EntryPrice),
		"mark      " + num(p.MarkPrice),
		"upnl      " + pnl(p.UnrealizedPnL),
		"leverage  " + num(p.Leverage) + "x",
	}, "\n")
	return boxStyle.Render(body)
}

// accountCheckView 对应控制面 GET /api/risk/:exchange 的返回
type accountCheckView struct {
	Exchange        string `json:"exchange"`
	RiskLevel       string `json:"risk_level"`
	ShouldLiquidate bool   `json:"should_liquidate"`
	Message         string `json:"message"`
	Metrics         *struct {
		TotalEquity   float64 `json:"total_equity"`
		UsedMargin    float64 `json:"used_margin"`
		UnrealizedPnL float64 `json:"unrealized_pnl"`
		MarginRatio   float64 `json:"margin_ratio"`
		LossRatio     float64 `json:"loss_ratio"`
	} `json:"metrics"`
}

func renderRisk(c accountCheckView) string {
	level := riskStyle(c.RiskLevel).Bold(true).Render(strings.ToUpper(c.RiskLevel))
	lines := []string{
		titleStyle.Render("Risk · "+c.Exchange) + "  " + level,
		c.Message,
	}
	if m := c.Metrics; m != nil {
		lines = append(lines,
			"",
			"equity        "+num(m.TotalEquity),
			"used margin   "+num(m.UsedMargin),
			"upnl          "+pnl(m.UnrealizedPnL),
			"margin ratio  "+pct(m.MarginRatio),
			"loss ratio    "+pct(m.LossRatio),
		)
	}
	if c.ShouldLiquidate {
		lines = append(lines, "", errStyle.Bold(true).Render("🚨 liquidation recommended"))
	}
	return boxStyle.BorderForeground(lipgloss.Color(borderColor(c.RiskLevel))).Render(strings.Join(lines, "\n"))
}

func borderColor(level string) string {
	switch strings.ToLower(level) {
	case "safe":
		return "46"
	case "warning":
		return "226"
	case "danger":
		return "196"
	}
	return "39"
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func pnl(v float64) string {
	switch {
	case v > 0:
		return okStyle.Render("+" + num(v))
	case v < 0:
		return errStyle.Render(num(v))
	}
	return num(v)
}
