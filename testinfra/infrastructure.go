// Package testinfra connects participants to real MySQL and Redis for
// integration tests. Tests skip when either backend is unreachable.
package testinfra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"lra"
	"lra/event"
	idemstore "lra/idempotency/store"
	"lra/lock"
	lockredis "lra/lock/redis"
	"lra/logging"
	redisrecorder "lra/recorder/redis"
	"lra/store/mysql"
)

// DefaultConfig returns default test configuration
func DefaultConfig() TestConfig {
	return TestConfig{
		MySQLDSN:      getEnvOrDefault("LRA_TEST_MYSQL_DSN", "root:123456@tcp(localhost:3306)/lra_test"),
		RedisAddr:     getEnvOrDefault("LRA_TEST_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("LRA_TEST_REDIS_PASSWORD", ""),
		RedisDB:       0,
		Delay:         20 * time.Millisecond,
	}
}

// TestConfig holds test configuration
type TestConfig struct {
	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// Delay is the work delay of machines built by NewMachine.
	Delay time.Duration
}

// TestInfrastructure holds live backend connections scoped to one test.
type TestInfrastructure struct {
	Redis      *redis.Client
	MySQLStore *mysql.MySQLStore
	Recorder   *redisrecorder.Recorder
	Locker     lock.Locker
	Config     TestConfig
	testID     string
}

// NewTestInfrastructure connects to MySQL and Redis and migrates the schema.
// It skips the test if the infrastructure is not available. Connections and
// test data are released by t.Cleanup.
func NewTestInfrastructure(t *testing.T) *TestInfrastructure {
	t.Helper()

	cfg := DefaultConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := mysql.Open(cfg.MySQLDSN)
	if err != nil {
		t.Skipf("Skipping test: MySQL DSN invalid: %v", err)
	}
	if err := st.DB().PingContext(ctx); err != nil {
		st.Close()
		t.Skipf("Skipping test: MySQL ping failed: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		t.Fatalf("migrate: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		st.Close()
		redisClient.Close()
		t.Skipf("Skipping test: Redis ping failed: %v", err)
	}

	ti := &TestInfrastructure{
		Redis:      redisClient,
		MySQLStore: st,
		Recorder:   redisrecorder.New(redisClient),
		Locker:     lockredis.NewRedisLocker(redisClient),
		Config:     cfg,
		testID:     fmt.Sprintf("test-%d", time.Now().UnixNano()),
	}
	t.Cleanup(func() {
		ti.Cleanup(t)
		ti.Close()
	})
	return ti
}

// TestID returns the unique test identifier. It doubles as the participant
// name so every row and key a test writes can be found again.
func (ti *TestInfrastructure) TestID() string {
	return ti.testID
}

// GenerateTxID generates a unique transaction ID for testing
func (ti *TestInfrastructure) GenerateTxID(suffix string) string {
	return fmt.Sprintf("%s-%s", ti.testID, suffix)
}

// NewMachine builds a participant machine on the live backends: Redis
// counters and MySQL idempotency records.
func (ti *TestInfrastructure) NewMachine(t *testing.T, bus event.EventBus, opts ...lra.MachineOption) *lra.Machine {
	t.Helper()

	if bus == nil {
		bus = event.NewNoOpEventBus()
	}
	base := []lra.MachineOption{
		lra.WithRecorder(ti.Recorder),
		lra.WithChecker(idemstore.New(ti.MySQLStore)),
		lra.WithEventBus(bus),
		lra.WithLogger(logging.Nop()),
		lra.WithOptions(lra.WithDelay(ti.Config.Delay)),
	}
	m, err := lra.NewMachine(lra.NewBaseParticipant(ti.testID), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// Cleanup deletes the rows and keys written under the test id.
func (ti *TestInfrastructure) Cleanup(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	db := ti.MySQLStore.DB()

	if _, err := db.ExecContext(ctx, "DELETE FROM lra_participant_counters WHERE participant = ?", ti.testID); err != nil {
		t.Logf("Warning: failed to cleanup counters: %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM lra_idempotency WHERE idempotency_key LIKE ?", "lra:"+ti.testID+":%"); err != nil {
		t.Logf("Warning: failed to cleanup idempotency: %v", err)
	}

	keys, err := ti.Redis.Keys(ctx, "lra:*"+ti.testID+"*").Result()
	if err == nil && len(keys) > 0 {
		ti.Redis.Del(ctx, keys...)
	}
}

// Close closes all connections
func (ti *TestInfrastructure) Close() {
	if ti.MySQLStore != nil {
		ti.MySQLStore.Close()
	}
	if ti.Redis != nil {
		ti.Redis.Close()
	}
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
