package linkpreview

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

func newCounter(name, description string) metric.Int64Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}
