package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "jira-reporter/service"

type metrics struct {
	issuesCreated metric.Int64Counter
	issuesUpdated metric.Int64Counter
	undelivered   metric.Int64Counter
	verifications metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	return &metrics{
		issuesCreated: counter(meter, "reporter.issues.created", "Jira issues created for unique crashes"),
		issuesUpdated: counter(meter, "reporter.issues.updated", "Duplicate counters written back to Jira"),
		undelivered:   counter(meter, "reporter.reports.undelivered", "Crash reports that did not reach Jira"),
		verifications: counter(meter, "reporter.verifications", "Integration config verifications"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func (m *metrics) verification(ctx context.Context, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
