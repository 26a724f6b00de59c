package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/metalstock_backend/config"
	"github.com/mmdatafocus/metalstock_backend/models"
	"github.com/mmdatafocus/metalstock_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGormLedgerConcurrentReactors(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })
	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "metalstock_test")
	t.Setenv("LEDGER_REDIS_BUCKET_LOCK", "true")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	l := workflow.NewLedgerFromEnv()
	event := func(id, qty, rate string) models.MetalEvent {
		return models.MetalEvent{
			ReferenceId:    id,
			MetalType:      "gold",
			Classification: "raw",
			Purity:         "22K",
			Quantity:       decimal.RequireFromString(qty),
			Rate:           decimal.RequireFromString(rate),
			EventDate:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.PurchaseReactor().OnCreate(ctx, event(fmt.Sprintf("P%d", i), "1", "6000"))
			errs <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.SaleReactor().OnCreate(ctx, event(fmt.Sprintf("S%d", i), "1", "0"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	key := models.BucketKey{MetalType: models.MetalTypeGold, StockType: models.StockTypeRaw, Purity: "22K"}
	b, err := l.GetBucket(ctx, key)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Equal(b.Quantity), "quantity %s", b.Quantity)
	require.True(t, decimal.NewFromInt(60000).Equal(b.TotalCost), "total %s", b.TotalCost)

	rec, err := l.Reconcile(ctx, b.ID)
	require.NoError(t, err)
	require.Nil(t, rec.Drift)

	// a second create for an existing key must find the bucket, not insert a duplicate
	_, err = l.PurchaseReactor().OnCreate(ctx, event("P0", "2", "6000"))
	require.NoError(t, err)
	buckets, err := l.ListBuckets(ctx, models.BucketFilter{MetalType: models.MetalTypeGold})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("metalstock-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun("run", "-d", "--name", name, "-p", "127.0.0.1:0:6379", "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "redis-cli", "ping"); err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("metalstock-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=metalstock_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent"); err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	m := regexp.MustCompile(`:(\d+)`).FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	b, err := exec.Command("docker", args...).CombinedOutput()
	return string(b), err
}
