// Package eventbus 將對局生命週期事件發佈到 NATS
//
// 主題格式：<prefix>.match.<type>，例如 arena.match.ended。
// 使用 core NATS（fire-and-forget），不經過 JetStream：
// 事件只供觀察（儀表板、統計），漏掉一則不影響任何對局。
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/koopa0/system-design/14-tank-arena/internal"
)

// Conn Publisher 需要的 NATS 連線操作
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// Publisher 實現 internal.EventPublisher
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// Connect 連接 NATS Server
//
//   - MaxReconnects(-1)：無限重連
//   - ReconnectWait(1s)：重連間隔
//   - PingInterval(20s)：心跳檢測
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("tank-arena"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}
	return conn, nil
}

// NewPublisher 創建發佈者；prefix 為空時使用 "arena"
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "arena"
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject 事件類型對應的主題
func (p *Publisher) Subject(t internal.LifecycleType) string {
	return p.prefix + ".match." + string(t)
}

// Publish 序列化並發佈事件
func (p *Publisher) Publish(ctx context.Context, event internal.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("發佈 %s 失敗: %w", subject, err)
	}

	p.logger.Debug("事件已發佈", "subject", subject, "match_id", event.MatchID)
	return nil
}

// Close 關閉連線
func (p *Publisher) Close() {
	p.conn.Close()
}
