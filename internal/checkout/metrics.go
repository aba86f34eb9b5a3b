package checkout

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var tracer = otel.Tracer("escrowflow/checkout")

type metrics struct {
	checkouts     metric.Int64Counter
	outcomes      metric.Int64Counter
	holdsResolved metric.Int64Counter
	violations    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("escrowflow/checkout")
	return &metrics{
		checkouts:     counter(meter, "escrowflow.checkouts", "Checkouts attempted, by result."),
		outcomes:      counter(meter, "escrowflow.payment_outcomes", "Payment authority outcomes processed, by outcome and result."),
		holdsResolved: counter(meter, "escrowflow.holds_resolved", "Escrow holds moved to a terminal status, by status and trigger."),
		violations:    counter(meter, "escrowflow.invariant_violations", "Partial lifecycle states detected, by kind."),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}
