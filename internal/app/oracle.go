package app

import (
	"context"
	"time"

	"github.com/ent0n29/voicecart/internal/observability"
	"github.com/ent0n29/voicecart/internal/oracle"
)

// timedOracle records the latency of every completion.
type timedOracle struct {
	next    oracle.Oracle
	metrics *observability.Metrics
}

func (t timedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := t.next.Complete(ctx, prompt)
	t.metrics.ObserveOracleLatency(time.Since(start))
	return out, err
}
