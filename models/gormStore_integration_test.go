package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/metal_ledger/config"
	"github.com/mmdatafocus/metal_ledger/models"
	"github.com/mmdatafocus/metal_ledger/utils"
	"github.com/mmdatafocus/metal_ledger/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Allocation, reversal and the append-only guard against a real MySQL.
func TestGormStoreAllocationRoundTrip(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "metal_ledger_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	logger := logrus.New()
	store := models.NewGormStore(config.GetDB())
	lots := workflow.NewLotRegistry(store, logger)
	ledger := workflow.NewMovementLedger(store, logger)
	allocation := workflow.NewAllocationEngine(store, logger, nil)

	ctx := utils.SetOrganizationIdInContext(context.Background(), "org-it")
	product, err := lots.CreateProduct(ctx, models.NewProduct{Name: "Gold grain", Unit: models.ProductUnitGrams})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	first, err := lots.CreateLot(ctx, models.NewInventoryLot{
		ProductId:    product.ID,
		Quantity:     decimal.NewFromInt(2500),
		SourceType:   models.LotSourceTypePurchase,
		ReceivedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}
	second, err := lots.CreateLot(ctx, models.NewInventoryLot{
		ProductId:    product.ID,
		Quantity:     decimal.NewFromInt(1500),
		SourceType:   models.LotSourceTypePurchase,
		ReceivedDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateLot: %v", err)
	}

	res, err := allocation.Allocate(ctx, workflow.AllocationRequest{ProductId: product.ID, QuantityNeeded: decimal.NewFromInt(3000), DocumentRef: "SALE-IT-1"})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(res.Allocations) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(res.Allocations))
	}
	for _, id := range []int{first.ID, second.ID} {
		if err := ledger.VerifyLot(ctx, id); err != nil {
			t.Fatalf("VerifyLot(%d): %v", id, err)
		}
	}

	_, err = allocation.Allocate(ctx, workflow.AllocationRequest{ProductId: product.ID, QuantityNeeded: decimal.NewFromInt(5000), DocumentRef: "SALE-IT-2"})
	if !errors.Is(err, models.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	if _, err := allocation.ReverseAllocation(ctx, "SALE-IT-1", ""); err != nil {
		t.Fatalf("ReverseAllocation: %v", err)
	}
	restored, err := lots.GetLot(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	if !restored.RemainingQuantity.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected 1500 after reversal, got %s", restored.RemainingQuantity)
	}

	err = config.GetDB().WithContext(ctx).Exec("UPDATE stock_movements SET quantity = 0 WHERE product_id = ?", product.ID).Error
	if !errors.Is(err, models.ErrImmutableLedger) {
		t.Fatalf("expected the ledger guard to reject the rewrite, got %v", err)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("metal-ledger-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=metal_ledger_test",
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
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
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
	// Example: "127.0.0.1:49154\n"
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
