package health

import (
	"context"
	"errors"
	"testing"
)

func TestCheckAllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	status := Check(context.Background(), ok, ok)
	if !status.Healthy {
		t.Fatalf("expected healthy, issues: %v", status.Issues)
	}
	if !status.DatabaseReachable || !status.SecretStoreReachable {
		t.Fatal("expected both probes reachable")
	}
}

func TestCheckReportsFailures(t *testing.T) {
	ok := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("connection refused") }

	status := Check(context.Background(), broken, ok)
	if status.Healthy {
		t.Fatal("expected unhealthy")
	}
	if status.DatabaseReachable {
		t.Fatal("database probe should have failed")
	}
	if !status.SecretStoreReachable {
		t.Fatal("secret store probe should have passed")
	}
	if len(status.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(status.Issues))
	}
}
