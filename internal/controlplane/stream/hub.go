// Package stream 把账本的订单更新通过 WebSocket 推送给控制面客户端（execctl watch）。
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/metrics"
)

var log = logrus.WithField("component", "stream")

const (
	EventSnapshot    = "snapshot"
	EventOrderUpdate = "order_update"
)

// Event 推送给客户端的消息
type Event struct {
	Type   string          `json:"type"`
	Time   time.Time       `json:"time"`
	Order  *domain.Order   `json:"order,omitempty"`  // order_update
	Orders []*domain.Order `json:"orders,omitempty"` // snapshot
}

// Config Hub 配置
type Config struct {
	SendBuffer   int           // 每个客户端的待发队列，满了直接断开慢客户端
	PingInterval time.Duration // 服务端 ping 间隔
	WriteTimeout time.Duration
	// Snapshot 新连接建立后先推送一次账本快照（可选）
	Snapshot func() []*domain.Order
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	return c
}

type client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
	done chan struct{}

	// 快照入队前到达的更新先暂存，快照之后按顺序补发
	mu      sync.Mutex
	ready   bool
	pending []Event
}

// deliver 非阻塞投递；队列满返回 false
func (c *client) deliver(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		if len(c.pending) >= cap(c.send) {
			return false
		}
		c.pending = append(c.pending, ev)
		return true
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// start 先投递快照（可选），再补发暂存的更新
func (c *client) start(snapshot *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
	if snapshot != nil {
		c.pending = append([]Event{*snapshot}, c.pending...)
	}
	for _, ev := range c.pending {
		select {
		case c.send <- ev:
		default:
			c.pending = nil
			return false
		}
	}
	c.pending = nil
	return true
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub 广播器。实现 ports.OrderUpdateHandler，直接注册到 OrderManager。
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub 创建 Hub
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg: cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// 控制面已做 token 鉴权，这里不校验 Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnOrderUpdate 广播订单更新。不阻塞账本：队列满的客户端被断开。
func (h *Hub) OnOrderUpdate(_ context.Context, order *domain.Order) {
	if order == nil {
		return
	}
	h.broadcast(Event{Type: EventOrderUpdate, Time: time.Now(), Order: order.Clone()})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.deliver(ev) {
			log.Warnf("⚠️ 客户端发送队列已满，断开: %s", c.conn.RemoteAddr())
			c.close()
		}
	}
}

// ServeWS 升级为 WebSocket 并阻塞到连接结束
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写过错误响应
		log.Debugf("upgrade 失败: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan Event, h.cfg.SendBuffer), done: make(chan struct{})}

	// 先注册再取快照：取快照期间的更新进入 pending，排在快照之后，不会丢
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.StreamClients.Add(1)
	log.Infof("🔌 stream 客户端接入: %s", conn.RemoteAddr())

	var snapshot *Event
	if h.cfg.Snapshot != nil {
		snapshot = &Event{Type: EventSnapshot, Time: time.Now(), Orders: h.cfg.Snapshot()}
	}
	if !c.start(snapshot) {
		log.Warnf("⚠️ 客户端发送队列已满，断开: %s", conn.RemoteAddr())
		c.close()
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		metrics.StreamClients.Add(-1)
		_ = conn.Close()
		log.Infof("stream 客户端断开: %s", conn.RemoteAddr())
	}()

	go h.readLoop(c)
	h.writeLoop(c)
}

// readLoop 客户端不发业务消息，只用来感知断开和处理 pong
func (h *Hub) readLoop(c *client) {
	defer c.close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debugf("写入失败: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// Close 断开所有客户端（进程退出时调用）
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.close()
	}
}
