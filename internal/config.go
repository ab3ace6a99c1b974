package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/koopa0/system-design/14-tank-arena/pkg/errors"
)

// Config 整個應用的配置
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Game     GameConfig     `yaml:"game"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig HTTP / WebSocket 服務設定
type ServerConfig struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AdminToken     string        `yaml:"admin_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// GameConfig 對局與排程設定
type GameConfig struct {
	TickRate            time.Duration `yaml:"tick_rate"`
	MatchmakingInterval time.Duration `yaml:"matchmaking_interval"`
	MaxPlayersPerMatch  int           `yaml:"max_players_per_match"`
	WaitingMatchTTL     time.Duration `yaml:"waiting_match_ttl"` // 0 表示不回收
	InboxSize           int           `yaml:"inbox_size"`
	ReporterBuffer      int           `yaml:"reporter_buffer"`
}

// PostgresConfig 對局封存；DSN 為空時不啟用
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// RedisConfig 排行榜；Addr 為空時不啟用
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig 生命週期事件；URL 為空時不啟用
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig 日誌設定
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DefaultConfig 預設配置
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           3000,
			AllowedOrigins: []string{"http://localhost:5173"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Game: GameConfig{
			TickRate:            time.Second / 30,
			MatchmakingInterval: 2 * time.Second,
			MaxPlayersPerMatch:  2,
			WaitingMatchTTL:     time.Minute,
			InboxSize:           1024,
			ReporterBuffer:      256,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		NATS: NATSConfig{
			SubjectPrefix: "arena",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// LoadConfig 載入配置檔案
//
// path 為空時只使用預設值；檔案中未出現的欄位保留預設值。
// 環境變數 DATABASE_URL、REDIS_ADDR、NATS_URL 覆蓋檔案設定。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自啟動參數
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
	}
}

// Validate 檢查配置
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return invalidConfig("server.port must be in 1..65535, got %d", c.Server.Port)
	case c.Game.TickRate <= 0:
		return invalidConfig("game.tick_rate must be positive, got %s", c.Game.TickRate)
	case c.Game.MatchmakingInterval <= 0:
		return invalidConfig("game.matchmaking_interval must be positive, got %s", c.Game.MatchmakingInterval)
	case c.Game.MaxPlayersPerMatch != 2:
		return invalidConfig("game.max_players_per_match must be 2, got %d", c.Game.MaxPlayersPerMatch)
	case c.Game.WaitingMatchTTL < 0:
		return invalidConfig("game.waiting_match_ttl must not be negative, got %s", c.Game.WaitingMatchTTL)
	case c.Postgres.MinConns > c.Postgres.MaxConns:
		return invalidConfig("postgres.min_conns (%d) exceeds max_conns (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return apperrors.Wrap(fmt.Errorf(format, args...), apperrors.ErrCodeInvalidInput, "invalid config")
}
