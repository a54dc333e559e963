//go:build pact
// +build pact

package pacttest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// The order portal consumes the order API; the order API in turn consumes
// the payment gateway.
const (
	ProviderName = "order-reconciler-api"
	ConsumerName = "order-portal"

	GatewayProviderName = "payment-gateway"
	GatewayConsumerName = "order-reconciler"

	StateOrdersBaseline = "orders baseline"
	StateOrderExists    = "order ord-pact-1 exists"
	StateOrderMissing   = "no order with id ord-missing"

	StateGatewayAccepts     = "gateway accepts card payments"
	StateGatewayOrderPaid   = "gateway settled order ord-pact-1"
	StateGatewayUnavailable = "gateway is under maintenance"
)

const (
	ExistingOrderID = "ord-pact-1"
	MissingOrderID  = "ord-missing"

	ExampleSKU         = "SKU-PACT-1"
	ExampleTransaction = "txn-pact-1"
	ExampleReference   = "REF-PACT-1"
	ExampleCheckoutURL = "https://pay.example/checkout/txn-pact-1"
)

// PactDir returns the workspace-level directory for generated pact files.
func PactDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "pacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact dir: %v", err)
	}
	return dir
}

// PactFile returns the pact file the order portal publishes for the order API.
func PactFile(t testing.TB) string {
	t.Helper()
	return filepath.Join(PactDir(t), ConsumerName+"-"+ProviderName+".json")
}

// LogDir returns the log output directory for pact-go.
func LogDir(t testing.TB) string {
	t.Helper()
	dir := filepath.Join(projectRoot(t), "bin", "pact-logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create pact log dir: %v", err)
	}
	return dir
}

// ExampleCreateOrderPayload is a two line cart paid by card.
func ExampleCreateOrderPayload() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"sku": ExampleSKU, "quantity": 2, "unitPrice": "10.00"},
		},
		"shippingAmount": "4.50",
		"currency":       "USD",
		"method":         "card",
	}
}

// projectRoot walks up from this file to the workspace root.
func projectRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller for pact paths")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
