package health

import (
	"context"
	"fmt"
	"time"
)

// Probe verifies one backing dependency.
type Probe func(ctx context.Context) error

type Status struct {
	DatabaseReachable    bool      `json:"database_reachable"`
	SecretStoreReachable bool      `json:"secret_store_reachable"`
	CheckedAt            time.Time `json:"checked_at"`
	Healthy              bool      `json:"healthy"`
	Issues               []string  `json:"issues,omitempty"`
}

// Check probes the database and the secret store with a bounded deadline and
// aggregates the result.
func Check(ctx context.Context, database, secretStore Probe) *Status {
	status := &Status{
		Healthy:   true,
		CheckedAt: time.Now().UTC(),
		Issues:    []string{},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := database(ctx); err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("database unreachable: %v", err))
	} else {
		status.DatabaseReachable = true
	}

	if err := secretStore(ctx); err != nil {
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("secret store unreachable: %v", err))
	} else {
		status.SecretStoreReachable = true
	}

	return status
}
