package main

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/betbot/goexec/internal/controlplane/stream"
	"github.com/betbot/goexec/internal/domain"
)

const reconnectDelay = 2 * time.Second

// watch 订阅 /api/stream/orders，实时显示账本变化

type connectedMsg struct{ conn *websocket.Conn }

type eventMsg stream.Event

type streamErrMsg struct{ err error }

type reconnectMsg struct{}

type watchModel struct {
	url      string
	token    string
	exchange string // 只看某个交易所（可选）
	openOnly bool

	conn      *websocket.Conn
	connected bool
	err       error
	events    int
	lastEvent time.Time

	orders map[domain.OrderKey]*domain.Order
}

func newWatchModel(addr, token, exchange string, openOnly bool) watchModel {
	return watchModel{
		url:      streamURL(addr),
		token:    token,
		exchange: exchange,
		openOnly: openOnly,
		orders:   make(map[domain.OrderKey]*domain.Order),
	}
}

// streamURL http(s)://host → ws(s)://host/api/stream/orders
func streamURL(addr string) string {
	u := strings.TrimSuffix(addr, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "ws://" + u
	}
	return u + "/api/stream/orders"
}

func (m watchModel) Init() tea.Cmd {
	return dialCmd(m.url, m.token)
}

func dialCmd(url, token string) tea.Cmd {
	return func() tea.Msg {
		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, resp, err := dialer.Dial(url, header)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
			}
			return streamErrMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readCmd 每次读一条消息，读完再由 Update 重新调度
func readCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		var ev stream.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return streamErrMsg{err: err}
		}
		return eventMsg(ev)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		case "o":
			m.openOnly = !m.openOnly
		}
		return m, nil

	case connectedMsg:
		m.conn, m.connected, m.err = msg.conn, true, nil
		return m, readCmd(msg.conn)

	case eventMsg:
		m.apply(stream.Event(msg))
		if m.conn == nil {
			return m, nil
		}
		return m, readCmd(m.conn)

	case streamErrMsg:
		if m.conn != nil {
			_ = m.conn.Close()
		}
		m.conn, m.connected, m.err = nil, false, msg.err
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, dialCmd(m.url, m.token)
	}
	return m, nil
}

func (m *watchModel) apply(ev stream.Event) {
	m.events++
	m.lastEvent = ev.Time
	switch ev.Type {
	case stream.EventSnapshot:
		m.orders = make(map[domain.OrderKey]*domain.Order, len(ev.Orders))
		for _, o := range ev.Orders {
			if o != nil {
				m.orders[o.Key()] = o
			}
		}
	case stream.EventOrderUpdate:
		if ev.Order != nil {
			m.orders[ev.Order.Key()] = ev.Order
		}
	}
}

// visible 过滤后按时间倒序
func (m watchModel) visible() []*domain.Order {
	out := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if m.exchange != "" && o.Exchange != m.exchange {
			continue
		}
		if m.openOnly && !o.IsOpen() {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (m watchModel) View() string {
	status := okStyle.Render("● connected")
	if !m.connected {
		status = errStyle.Render("● disconnected")
		if m.err != nil {
			status += dimStyle.Render("  " + m.err.Error() + "，" + reconnectDelay.String() + " 后重连")
		}
	}
	filter := "all"
	if m.openOnly {
		filter = "open"
	}
	if m.exchange != "" {
		filter += " @" + m.exchange
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("goexec ledger") + "  " + status + "\n")
	last := "-"
	if !m.lastEvent.IsZero() {
		last = m.lastEvent.Local().Format("15:04:05")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("filter=%s  orders=%d  events=%d  last=%s", filter, len(m.orders), m.events, last)) + "\n\n")
	b.WriteString(renderOrders(m.visible()) + "\n\n")
	b.WriteString(dimStyle.Render("o 切换只看未完成 · q 退出"))
	return b.String()
}

func runWatch(addr, token, exchange string, openOnly bool) error {
	p := tea.NewProgram(newWatchModel(addr, token, exchange, openOnly), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
