package internal

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// LeaderboardEntry 排行榜中的一名玩家
type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Wins     int64  `json:"wins"`
}

// LeaderboardReader 讀取勝場排行
type LeaderboardReader interface {
	Top(ctx context.Context, n int) ([]LeaderboardEntry, error)
}

// MatchHistoryReader 讀取已結束的對局
type MatchHistoryReader interface {
	Recent(ctx context.Context, n int) ([]MatchResult, error)
}

// HandlerConfig Handler 的依賴；Leaderboard 與 History 可為 nil
type HandlerConfig struct {
	Engine         *Engine
	Hub            *Hub
	Leaderboard    LeaderboardReader
	History        MatchHistoryReader
	AllowedOrigins []string
	AdminToken     string
}

// Handler HTTP 請求處理器
type Handler struct {
	engine      *Engine
	hub         *Hub
	leaderboard LeaderboardReader
	history     MatchHistoryReader
	origins     map[string]struct{}
	anyOrigin   bool
	adminToken  string
	logger      *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(cfg HandlerConfig, logger *slog.Logger) *Handler {
	h := &Handler{
		engine:      cfg.Engine,
		hub:         cfg.Hub,
		leaderboard: cfg.Leaderboard,
		history:     cfg.History,
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		adminToken:  cfg.AdminToken,
		logger:      logger,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			h.anyOrigin = true
		}
		h.origins[o] = struct{}{}
	}
	return h
}

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /{$}", wrap(h.greeting))
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	mux.HandleFunc("GET /api/v1/leaderboard", wrap(h.getLeaderboard))
	mux.HandleFunc("GET /api/v1/matches/recent", wrap(h.recentMatches))
	mux.HandleFunc("POST /api/v1/matchmaking/clear", wrap(h.requireAdmin(h.clearMatchmaking)))

	// WebSocket 升級需要原始的 ResponseWriter（Hijacker），不經過日誌包裝
	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))
	}

	return h.cors(mux)
}

// greeting 靜態問候
func (h *Handler) greeting(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello World!"))
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.errorResponse(w, "引擎未運行", http.StatusServiceUnavailable)
		return
	}

	resp := map[string]any{
		"sessions":          stats.Sessions,
		"queue_size":        stats.QueueSize,
		"matches":           stats.Matches,
		"matches_by_status": stats.MatchesByState,
	}
	if h.hub != nil {
		resp["connections"] = h.hub.ConnectionCount()
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// getLeaderboard 勝場排行
func (h *Handler) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.errorResponse(w, "排行榜未啟用", http.StatusServiceUnavailable)
		return
	}

	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := h.leaderboard.Top(r.Context(), limit)
	if err != nil {
		h.logger.Error("讀取排行榜失敗", "error", err)
		h.errorResponse(w, "讀取排行榜失敗", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}

	h.jsonResponse(w, map[string]any{
		"entries": entries,
		"limit":   limit,
	}, http.StatusOK)
}

// recentMatches 最近結束的對局
func (h *Handler) recentMatches(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.errorResponse(w, "對局封存未啟用", http.StatusServiceUnavailable)
		return
	}

	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	matches, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("讀取對局紀錄失敗", "error", err)
		h.errorResponse(w, "讀取對局紀錄失敗", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []MatchResult{}
	}

	h.jsonResponse(w, map[string]any{
		"matches": matches,
		"limit":   limit,
	}, http.StatusOK)
}

// clearMatchmaking 清空配對佇列
func (h *Handler) clearMatchmaking(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.ClearQueue(r.Context())
	if err != nil {
		h.errorResponse(w, "引擎未運行", http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, map[string]any{
		"removed": n,
	}, http.StatusOK)
}

// parseLimit 解析 ?limit=，預設 10，上限 100
func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		h.errorResponse(w, "limit 必須是正整數", http.StatusBadRequest)
		return 0, false
	}
	return min(n, maxListLimit), true
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// requireAdmin 設定 admin_token 時要求 X-Admin-Token
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
				h.errorResponse(w, "未授權", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// cors 只對允許的來源回應 CORS 標頭
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) originAllowed(origin string) bool {
	if h.anyOrigin {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
