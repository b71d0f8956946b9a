// Package mockadapter provides a deterministic provider.Adapter for
// tests, grounded on the mock provider style used throughout
// ajayykmr-messaging-service's internal/providers/*/mock_provider.go:
// behaviour is controlled by a default scenario and per-call scenario
// scripting rather than real network calls.
package mockadapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"deliveryengine/internal/models"
	"deliveryengine/internal/provider"
)

// Scenario enumerates the supported mock behaviours.
type Scenario int

const (
	ScenarioSuccess Scenario = iota
	ScenarioTransientFailure
	ScenarioPermanentFailure
)

// Adapter is a scripted provider.Adapter. By default every call
// succeeds; Script overrides the scenario for a specific 1-indexed
// call number, letting tests exercise "fail N times then succeed".
type Adapter struct {
	mu      sync.Mutex
	script  map[int]Scenario
	calls   atomic.Int64
	Default Scenario
}

// New builds a mock adapter that succeeds on every call unless Script
// is populated.
func New() *Adapter {
	return &Adapter{script: make(map[int]Scenario), Default: ScenarioSuccess}
}

// Script sets the scenario for the nth call (1-indexed).
func (a *Adapter) Script(call int, s Scenario) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.script[call] = s
}

// Calls reports how many times Send has been invoked.
func (a *Adapter) Calls() int64 {
	return a.calls.Load()
}

// Send implements provider.Adapter.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) (provider.Verdict, error) {
	n := int(a.calls.Add(1))

	a.mu.Lock()
	scenario, scripted := a.script[n]
	if !scripted {
		scenario = a.Default
	}
	a.mu.Unlock()

	switch scenario {
	case ScenarioSuccess:
		return provider.Verdict{
			Success:         true,
			ProviderPayload: []byte(fmt.Sprintf(`{"provider":"mock","call":%d}`, n)),
		}, nil
	case ScenarioTransientFailure:
		return provider.Verdict{
			Success:      false,
			Retryable:    true,
			ErrorMessage: "mock: transient provider failure",
		}, nil
	case ScenarioPermanentFailure:
		return provider.Verdict{
			Success:      false,
			Retryable:    false,
			ErrorMessage: "mock: permanent provider rejection",
		}, nil
	default:
		return provider.Verdict{Success: true}, nil
	}
}
