package service

import (
	"context"

	"jirareporter.app/reporter/internal/model"
)

// ReportProducer emits report-undelivered events to the api gateway.
type ReportProducer interface {
	Produce(ctx context.Context, msg model.ReportUndelivered) error
}

// ResultProducer emits integration-result events to the api gateway.
type ResultProducer interface {
	Produce(ctx context.Context, msg model.IntegrationResult) error
}

// VerifyProducer emits verify-config events to the internal channel.
type VerifyProducer interface {
	Produce(ctx context.Context, msg model.VerifyConfig) error
}

// Producers groups the outbound message producers the services write to.
type Producers struct {
	Reports ReportProducer
	Results ResultProducer
	Verify  VerifyProducer
}
