// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// ConnIDKey 連線 ID 的上下文鍵
	ConnIDKey contextKey = "conn_id"
	// MatchIDKey 對局 ID 的上下文鍵
	MatchIDKey contextKey = "match_id"
)

// Options 日誌設定
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Output string // stdout, stderr 或檔案路徑
}

// New 依設定建立日誌記錄器
//
// 返回的 io.Closer 在輸出為檔案時需要關閉；輸出到 stdout/stderr 時為 no-op。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		output io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	switch opts.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		// #nosec G304 - 路徑來自配置檔，非使用者輸入
		file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		output = file
		closer = file
	}

	return NewWithWriter(output, opts), closer, nil
}

// NewWithWriter 以指定輸出建立日誌記錄器（測試使用）
func NewWithWriter(w io.Writer, opts Options) *slog.Logger {
	level := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(&contextHandler{Handler: handler})
}

// ParseLevel 解析日誌級別
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取連線與對局資訊
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok && connID != "" {
		r.AddAttrs(slog.String("conn_id", connID))
	}
	if matchID, ok := ctx.Value(MatchIDKey).(string); ok && matchID != "" {
		r.AddAttrs(slog.String("match_id", matchID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithConnID 添加連線 ID 到上下文
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// WithMatchID 添加對局 ID 到上下文
func WithMatchID(ctx context.Context, matchID string) context.Context {
	return context.WithValue(ctx, MatchIDKey, matchID)
}

// Discard 返回丟棄所有輸出的記錄器
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
