package engine

import (
	"context"
	"fmt"

	"jirareporter.app/reporter/core/config"
	"jirareporter.app/reporter/internal/model"
	"jirareporter.app/reporter/internal/queue"
	"jirareporter.app/reporter/internal/service"
)

// Channels are the queues the reporter reads from and writes to.
type Channels struct {
	Reporter    *queue.ConsumingChannel
	Internal    *queue.ConsumingChannel
	InternalOut *queue.ProducingChannel
	APIGateway  *queue.ProducingChannel
	DLQ         *queue.ProducingChannel
}

// DeclareChannels creates every channel on app. Crash events that cannot be
// consumed go to the dead-letter queue.
func DeclareChannels(ctx context.Context, app *queue.App, queues config.QueueConfig, maxDeliveries int) (*Channels, error) {
	var (
		c   Channels
		err error
	)

	if c.Reporter, err = app.CreateConsumingChannel(ctx, queues.Reporter); err != nil {
		return nil, err
	}
	if c.DLQ, err = app.CreateProducingChannel(ctx, queues.DLQ); err != nil {
		return nil, err
	}
	c.Reporter.UseDeadLetter(c.DLQ)
	c.Reporter.UseMaxDeliveries(maxDeliveries)

	if c.APIGateway, err = app.CreateProducingChannel(ctx, queues.APIGateway); err != nil {
		return nil, err
	}

	if c.Internal, err = app.CreateConsumingChannel(ctx, queues.ReporterInternal); err != nil {
		return nil, err
	}
	c.Internal.UseMaxDeliveries(maxDeliveries)
	if c.InternalOut, err = app.CreateProducingChannel(ctx, queues.ReporterInternal); err != nil {
		return nil, err
	}

	return &c, nil
}

// Producers binds the outbound message types to their channels.
func (c *Channels) Producers() service.Producers {
	return service.Producers{
		Reports: queue.AddProducer[model.ReportUndelivered](c.APIGateway, model.MessageReportUndelivered),
		Results: queue.AddProducer[model.IntegrationResult](c.APIGateway, model.MessageIntegrationResult),
		Verify:  queue.AddProducer[model.VerifyConfig](c.InternalOut, model.MessageVerifyConfig),
	}
}

// Bind registers the reconcile handlers as consumers.
func (c *Channels) Bind(svc service.ReconcileService) error {
	if err := queue.AddConsumer(c.Reporter, model.MessageUniqueCrash, svc.HandleUniqueCrash); err != nil {
		return fmt.Errorf("binding %s: %w", model.MessageUniqueCrash, err)
	}
	if err := queue.AddConsumer(c.Reporter, model.MessageDuplicateCrash, svc.HandleDuplicateCrash); err != nil {
		return fmt.Errorf("binding %s: %w", model.MessageDuplicateCrash, err)
	}
	if err := queue.AddConsumer(c.Internal, model.MessageVerifyConfig, svc.HandleVerifyConfig); err != nil {
		return fmt.Errorf("binding %s: %w", model.MessageVerifyConfig, err)
	}
	return nil
}
