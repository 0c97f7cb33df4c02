package observability

import (
	"context"

	"github.com/jmorales/debt-ledger/internal/infrastructure/observability"
)

// Setup initializes logs, metrics and traces. Returns the tracer
// provider shutdown func.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
