package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/goexec/internal/domain"
)

const usage = `execctl: goexec 控制面命令行

用法: execctl [全局参数] <命令> [参数]

命令:
  venues                                   已注册交易所
  signal <exchange> <symbol> <buy|sell|close> [-amount N] [-price P] [-type limit|market]
  orders [-exchange E] [-symbol S] [-open]  本地账本
  order <exchange> <orderID>               账本中的单个订单
  refresh <exchange> <orderID>             从交易所刷新订单状态
  sync <exchange> [-symbol S]              同步交易所挂单到账本
  cancel <exchange> [-symbol S] [-id ID]   撤单（不带 -id 为批量撤单）
  position <exchange> <symbol>             查询持仓
  increase <exchange> <symbol> <long|short> -amount N [-price P]
  decrease <exchange> <symbol> -amount N [-price P]
  close <exchange> <symbol> [-price P]
  risk <exchange>                          账户风险
  monitor <exchange>                       立即执行一次账户监控
  liquidate <exchange> [-symbol S]         清仓
  breaker | halt | resume                  熔断状态 / 人工熔断 / 恢复
  watch [-exchange E] [-open]              实时查看账本（WebSocket）

全局参数:
`

type cli struct {
	api   *apiClient
	out   io.Writer
	raw   bool
	ctx   context.Context
	addr  string
	token string
}

func main() {
	_ = godotenv.Load()

	global := flag.NewFlagSet("execctl", flag.ExitOnError)
	addr := global.String("addr", getenv("EXECCTL_ADDR", "http://127.0.0.1:8080"), "控制面地址")
	token := global.String("token", getenv("CONTROL_TOKEN", ""), "控制面 token")
	raw := global.Bool("json", false, "输出原始 JSON")
	timeout := global.Duration("timeout", 30*time.Second, "请求超时")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := &cli{api: newAPIClient(*addr, *token, *timeout), out: os.Stdout, raw: *raw, ctx: ctx, addr: *addr, token: *token}
	if err := c.run(global.Arg(0), global.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func (c *cli) run(cmd string, args []string) error {
	switch cmd {
	case "venues":
		var out struct {
			Venues []string `json:"venues"`
		}
		if err := c.api.call(c.ctx, http.MethodGet, "/api/venues", nil, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string { return strings.Join(out.Venues, "\n") })

	case "signal":
		fs, amount, price := amountPriceFlags("signal")
		typ := fs.String("type", "", "limit | market（默认：有价格为 limit）")
		pos, err := parseArgs(fs, args, 3)
		if err != nil {
			return err
		}
		sig := domain.Signal{Action: domain.Action(strings.ToLower(pos[2])), Amount: *amount, Price: price.ptr()}
		if *typ != "" {
			sig.OrderType = domain.OrderType(*typ)
		} else if sig.Price == nil && sig.Action != domain.ActionClose {
			sig.OrderType = domain.OrderTypeMarket
		}
		var out struct {
			domain.Outcome
			OrderID string `json:"order_id"`
			Risk    *struct {
				RiskLevel string  `json:"risk_level"`
				Reason    string  `json:"reason"`
				Value     float64 `json:"order_value"`
			} `json:"risk"`
		}
		if err := c.api.call(c.ctx, http.MethodPost, "/api/signals/"+esc(pos[0])+"/"+esc(pos[1]), nil, sig, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			s := renderOutcome(out.Outcome)
			if out.OrderID != "" {
				s += "\norder " + out.OrderID
			}
			if out.Risk != nil {
				s += "\nrisk  " + riskStyle(out.Risk.RiskLevel).Render(out.Risk.RiskLevel) +
					dimStyle.Render(fmt.Sprintf("  value=%s %s", num(out.Risk.Value), out.Risk.Reason))
			}
			return s
		})

	case "orders":
		fs := flag.NewFlagSet("orders", flag.ExitOnError)
		exchange := fs.String("exchange", "", "交易所")
		symbol := fs.String("symbol", "", "交易对")
		open := fs.Bool("open", false, "只看未完成订单")
		if _, err := parseArgs(fs, args, 0); err != nil {
			return err
		}
		params := map[string]any{"exchange": *exchange, "symbol": *symbol}
		if *open {
			params["open"] = "true"
		}
		var out struct {
			Count  int             `json:"count"`
			Orders []*domain.Order `json:"orders"`
		}
		if err := c.api.call(c.ctx, http.MethodGet, "/api/orders", params, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string { return renderOrders(out.Orders) })

	case "order", "refresh":
		pos, err := parseArgs(flag.NewFlagSet(cmd, flag.ExitOnError), args, 2)
		if err != nil {
			return err
		}
		method, path := http.MethodGet, "/api/orders/"+esc(pos[0])+"/"+esc(pos[1])
		if cmd == "refresh" {
			method, path = http.MethodPost, path+"/refresh"
		}
		var out struct {
			domain.Outcome
			Order *domain.Order `json:"order"`
		}
		if err := c.api.call(c.ctx, method, path, nil, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			if out.Order == nil {
				return renderOutcome(out.Outcome)
			}
			return renderOutcome(out.Outcome) + "\n" + renderOrders([]*domain.Order{out.Order})
		})

	case "sync":
		fs := flag.NewFlagSet("sync", flag.ExitOnError)
		symbol := fs.String("symbol", "", "交易对")
		pos, err := parseArgs(fs, args, 1)
		if err != nil {
			return err
		}
		var out struct {
			domain.Outcome
			Synced int `json:"synced"`
			Added  int `json:"added"`
		}
		if err := c.api.call(c.ctx, http.MethodPost, "/api/orders/"+esc(pos[0])+"/sync", map[string]any{"symbol": *symbol}, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			return renderOutcome(out.Outcome) + dimStyle.Render(fmt.Sprintf("  synced=%d added=%d", out.Synced, out.Added))
		})

	case "cancel":
		fs := flag.NewFlagSet("cancel", flag.ExitOnError)
		symbol := fs.String("symbol", "", "交易对")
		id := fs.String("id", "", "订单 ID（为空时批量撤单）")
		pos, err := parseArgs(fs, args, 1)
		if err != nil {
			return err
		}
		var out struct {
			domain.Outcome
			OrderID        string   `json:"order_id"`
			CancelledCount int      `json:"cancelled_count"`
			Errors         []string `json:"errors"`
		}
		body := map[string]string{"symbol": *symbol, "order_id": *id}
		if err := c.api.call(c.ctx, http.MethodPost, "/api/orders/"+esc(pos[0])+"/cancel", nil, body, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			s := renderOutcome(out.Outcome)
			if *id == "" {
				s += dimStyle.Render(fmt.Sprintf("  cancelled=%d", out.CancelledCount))
			}
			for _, e := range out.Errors {
				s += "\n  " + errStyle.Render(e)
			}
			return s
		})

	case "position":
		pos, err := parseArgs(flag.NewFlagSet(cmd, flag.ExitOnError), args, 2)
		if err != nil {
			return err
		}
		var out domain.Position
		if err := c.api.call(c.ctx, http.MethodGet, "/api/positions/"+esc(pos[0])+"/"+esc(pos[1]), nil, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string { return renderPosition(out) })

	case "increase", "decrease", "close":
		fs, amount, price := amountPriceFlags(cmd)
		want := 2
		if cmd == "increase" {
			want = 3
		}
		pos, err := parseArgs(fs, args, want)
		if err != nil {
			return err
		}
		body := map[string]any{"amount": *amount}
		if p := price.ptr(); p != nil {
			body["price"] = *p
		}
		if cmd == "increase" {
			body["side"] = strings.ToLower(pos[2])
		}
		var out domain.OrderResult
		path := "/api/positions/" + esc(pos[0]) + "/" + esc(pos[1]) + "/" + cmd
		if err := c.api.call(c.ctx, http.MethodPost, path, nil, body, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			s := renderOutcome(out.Outcome)
			if out.OrderID != "" {
				s += fmt.Sprintf("\norder %s  %s %s %s", out.OrderID, out.Side, out.Type, num(out.Amount))
			}
			return s
		})

	case "risk", "monitor":
		pos, err := parseArgs(flag.NewFlagSet(cmd, flag.ExitOnError), args, 1)
		if err != nil {
			return err
		}
		if cmd == "risk" {
			var out accountCheckView
			if err := c.api.call(c.ctx, http.MethodGet, "/api/risk/"+esc(pos[0]), nil, nil, &out); err != nil {
				return err
			}
			return c.print(out, func() string { return renderRisk(out) })
		}
		var out struct {
			Check       accountCheckView `json:"check"`
			Liquidation *struct {
				domain.Outcome
				CancelledCount int  `json:"cancelled_count"`
				Partial        bool `json:"partial"`
			} `json:"liquidation"`
		}
		if err := c.api.call(c.ctx, http.MethodPost, "/api/risk/"+esc(pos[0])+"/monitor", nil, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			s := renderRisk(out.Check)
			if l := out.Liquidation; l != nil {
				s += "\n" + renderOutcome(l.Outcome)
			}
			return s
		})

	case "liquidate":
		fs := flag.NewFlagSet("liquidate", flag.ExitOnError)
		symbol := fs.String("symbol", "", "交易对（为空时撤销全部挂单）")
		pos, err := parseArgs(fs, args, 1)
		if err != nil {
			return err
		}
		var out struct {
			domain.Outcome
			OrderID        string `json:"order_id"`
			CancelledCount int    `json:"cancelled_count"`
			Partial        bool   `json:"partial"`
		}
		body := map[string]string{"exchange": pos[0], "symbol": *symbol}
		if err := c.api.call(c.ctx, http.MethodPost, "/api/risk/liquidate", nil, body, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			s := renderOutcome(out.Outcome)
			if out.Partial {
				s += "\n" + warnStyle.Render("⚠️ partial: open positions were not closed")
			}
			return s
		})

	case "breaker", "halt", "resume":
		method, path := http.MethodGet, "/api/breaker"
		if cmd != "breaker" {
			method, path = http.MethodPost, path+"/"+cmd
		}
		var out struct {
			Open              bool      `json:"open"`
			Manual            bool      `json:"manual"`
			ConsecutiveErrors int64     `json:"consecutive_errors"`
			TrippedAt         time.Time `json:"tripped_at"`
		}
		if err := c.api.call(c.ctx, method, path, nil, nil, &out); err != nil {
			return err
		}
		return c.print(out, func() string {
			state := okStyle.Render("CLOSED (trading allowed)")
			if out.Open {
				state = errStyle.Render("OPEN (new orders blocked)")
			}
			return fmt.Sprintf("%s\nmanual=%t consecutive_errors=%d", state, out.Manual, out.ConsecutiveErrors)
		})

	case "watch":
		fs := flag.NewFlagSet("watch", flag.ExitOnError)
		exchange := fs.String("exchange", "", "只看某个交易所")
		open := fs.Bool("open", false, "只看未完成订单")
		if _, err := parseArgs(fs, args, 0); err != nil {
			return err
		}
		return runWatch(c.addr, c.token, *exchange, *open)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func (c *cli) print(v any, pretty func() string) error {
	if c.raw {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(c.out, pretty())
	return err
}

// optionalFloat 未设置时为 nil（区分 0 与未传）
type optionalFloat struct {
	v   float64
	set bool
}

func (f *optionalFloat) String() string {
	if f == nil || !f.set {
		return ""
	}
	return num(f.v)
}

func (f *optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f *optionalFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func amountPriceFlags(name string) (*flag.FlagSet, *float64, *optionalFloat) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	amount := fs.Float64("amount", 0, "数量")
	price := &optionalFloat{}
	fs.Var(price, "price", "价格（不传为市价）")
	return fs, amount, price
}

// parseArgs 允许位置参数和 flag 混排：先取前 n 个位置参数，剩余交给 flag
func parseArgs(fs *flag.FlagSet, args []string, n int) ([]string, error) {
	var pos, rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") {
			rest = append(rest, args[i:]...)
			break
		}
		pos = append(pos, a)
	}
	if err := fs.Parse(rest); err != nil {
		return nil, err
	}
	pos = append(pos, fs.Args()...)
	if len(pos) < n {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", fs.Name(), n, len(pos))
	}
	return pos, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
