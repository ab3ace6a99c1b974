package internal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 心跳與緩衝設定
//
//	writePump 每 54s 送 Ping → 客戶端回 Pong → readPump 重置 60s 讀取期限
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	errConnClosed = errors.New("connection closed")
	errSendFull   = errors.New("send buffer full")
	errHubStopped = errors.New("hub stopped")
)

// Hub WebSocket 連接中心
//
// 每條連線由 uuid 識別，兩個 goroutine 服務：
//   - readPump：逐幀投遞給 Engine，維持同一連線的訊息順序
//   - writePump：從 send channel 取出訊息寫入，並定期 Ping
//
// Hub 本身不處理遊戲邏輯；連線建立、訊息與斷線都轉成 Engine 的命令。
type Hub struct {
	engine   *Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
	conns    map[string]*Connection
	mu       sync.RWMutex
	wg       sync.WaitGroup
	stopped  bool
}

// Connection 一條 WebSocket 連線，實現 Conn
type Connection struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.Mutex
	closed   bool
	lastPing time.Time
}

// NewHub 創建 WebSocket Hub
//
// allowedOrigins 為空或包含 "*" 時接受任何來源；
// 沒有 Origin 標頭的請求（非瀏覽器客戶端）一律接受。
func NewHub(engine *Engine, allowedOrigins []string, logger *slog.Logger) *Hub {
	hub := &Hub{
		engine: engine,
		logger: logger,
		conns:  make(map[string]*Connection),
	}
	hub.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(allowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return hub
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS 處理 WebSocket 連接
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("升級 WebSocket 失敗",
			"origin", r.Header.Get("Origin"),
			"error", err)
		return
	}

	c := &Connection{
		ID:       uuid.NewString(),
		conn:     ws,
		send:     make(chan []byte, sendBufferSize),
		hub:      hub,
		lastPing: time.Now(),
	}

	// 必須在啟動 readPump 之前登記，確保 Connect 排在該連線所有訊息之前
	if err := hub.engine.Connect(context.Background(), c.ID, c); err != nil {
		hub.logger.Error("登記連線失敗", "conn_id", c.ID, "error", err)
		_ = ws.Close()
		return
	}
	if err := hub.register(c); err != nil {
		hub.logger.Debug("拒絕連線", "conn_id", c.ID, "error", err)
		_ = ws.Close()
		if err := hub.engine.Disconnect(context.Background(), c.ID); err != nil {
			hub.logger.Debug("投遞斷線失敗", "conn_id", c.ID, "error", err)
		}
		return
	}

	go c.writePump()
	go c.readPump()

	hub.logger.Debug("WebSocket 連接建立",
		"conn_id", c.ID,
		"remote_addr", r.RemoteAddr)
}

// Send 實現 Conn；不阻塞
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendFull
	}
}

// closeSend 關閉 send channel，讓 writePump 送出 Close 幀後結束
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// LastPing 最後一次收到 Pong 的時間
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// register 登記連線並計入讀寫 goroutine；Stop 之後一律拒絕
func (hub *Hub) register(c *Connection) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if hub.stopped {
		return errHubStopped
	}
	hub.conns[c.ID] = c
	hub.wg.Add(2)
	return nil
}

func (hub *Hub) unregister(c *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, ok := hub.conns[c.ID]; ok && actual == c {
		delete(hub.conns, c.ID)
	}
	c.closeSend()
}

// ConnectionCount 目前連線數
func (hub *Hub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.conns)
}

// Stop 關閉所有連線並等待讀寫 goroutine 結束
//
// 每條連線的 readPump 結束時會向 Engine 投遞斷線，
// 因此應在停止 Engine 之前呼叫。
func (hub *Hub) Stop() {
	hub.mu.Lock()
	hub.stopped = true
	for _, c := range hub.conns {
		c.closeSend()
		_ = c.conn.Close()
	}
	hub.mu.Unlock()

	hub.wg.Wait()
	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端訊息並依序投遞給 Engine
func (c *Connection) readPump() {
	defer c.hub.wg.Done()
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
		if err := c.hub.engine.Disconnect(context.Background(), c.ID); err != nil {
			c.hub.logger.Debug("投遞斷線失敗", "conn_id", c.ID, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤", "conn_id", c.ID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := c.hub.engine.Receive(context.Background(), c.ID, message); err != nil {
			c.hub.logger.Debug("投遞訊息失敗", "conn_id", c.ID, "error", err)
			return
		}
	}
}

// writePump 將 send channel 的訊息寫入連線，並定期發送 Ping
func (c *Connection) writePump() {
	defer c.hub.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出 Close 幀
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送已排隊的訊息
			n := len(c.send)
			for range n {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
