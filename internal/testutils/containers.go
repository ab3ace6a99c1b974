// Package testutils 提供整合測試用的容器環境
//
// 啟動真實的 PostgreSQL 與 Redis（testcontainers），套用嵌入的遷移，
// 並在測試結束時自動清理。需要 Docker；以 -short 執行時跳過。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/14-tank-arena/internal/migrations"
)

// TestEnvironment 封裝測試環境
type TestEnvironment struct {
	RedisClient  *redis.Client
	PostgresPool *pgxpool.Pool
	RedisAddr    string
	PostgresDSN  string
	NATSURL      string
	Logger       *slog.Logger
}

// NewLogger 測試用記錄器，只輸出警告以上
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// SkipIfShort -short 模式下跳過需要容器的測試
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
}

// SetupPostgres 啟動 PostgreSQL 容器並執行遷移
//
//	func TestArchive(t *testing.T) {
//	    env := testutils.SetupPostgres(t)
//	    archive := storage.NewMatchArchive(env.PostgresPool, env.Logger)
//	}
func SetupPostgres(t testing.TB) *TestEnvironment {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	env := &TestEnvironment{Logger: NewLogger()}

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("arena"),
		tcpostgres.WithUsername("arena"),
		tcpostgres.WithPassword("arena"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	env.PostgresDSN = dsn

	m, err := migrations.New(dsn, env.Logger)
	if err != nil {
		t.Fatalf("failed to create migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	_ = m.Close()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	config.MaxConns = 5

	env.PostgresPool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(env.PostgresPool.Close)

	if err := env.PostgresPool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	return env
}

// SetupRedis 啟動 Redis 容器
func SetupRedis(t testing.TB) *TestEnvironment {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	env := &TestEnvironment{Logger: NewLogger()}

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisContainer.Terminate(context.Background()) })

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	env.RedisAddr = endpoint

	env.RedisClient = redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	t.Cleanup(func() { _ = env.RedisClient.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := env.RedisClient.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return env
}

// SetupNATS 啟動 NATS 容器，返回 nats:// 連線位址
func SetupNATS(t testing.TB) *TestEnvironment {
	t.Helper()
	SkipIfShort(t)

	ctx := context.Background()
	env := &TestEnvironment{Logger: NewLogger()}

	natsContainer, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}
	t.Cleanup(func() { _ = natsContainer.Terminate(context.Background()) })

	url, err := natsContainer.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		t.Fatalf("failed to get nats endpoint: %v", err)
	}
	env.NATSURL = url
	return env
}

// TruncateResults 清空 match_results（用於子測試之間）
func (env *TestEnvironment) TruncateResults(t testing.TB) {
	t.Helper()
	if _, err := env.PostgresPool.Exec(context.Background(), "TRUNCATE TABLE match_results"); err != nil {
		t.Fatalf("failed to truncate match_results: %v", err)
	}
}

// FlushRedis 清空 Redis 資料
func (env *TestEnvironment) FlushRedis(t testing.TB) {
	t.Helper()
	if err := env.RedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}
