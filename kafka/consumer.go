package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"form-payment-svc/gateway"
	"form-payment-svc/middleware"
	"form-payment-svc/models"
	"form-payment-svc/payments"

	"github.com/IBM/sarama"
	"github.com/stripe/stripe-go/v82"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

func InitConsumer(brokers []string, logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.Strings("brokers", brokers))
	return consumer, nil
}

type EventResolver interface {
	Resolve(ctx context.Context, ev stripe.Event) ([]models.ResolvedEvent, error)
}

type EventProcessor interface {
	ProcessResolvedEvents(ctx context.Context, events []models.ResolvedEvent) error
}

// GatewayConsumer applies Stripe events relayed through Kafka.
type GatewayConsumer struct {
	consumer   sarama.Consumer
	topic      string
	resolver   EventResolver
	processor  EventProcessor
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

func NewGatewayConsumer(consumer sarama.Consumer, topic string, resolver EventResolver, processor EventProcessor, logger *zap.Logger, maxRetries int) *GatewayConsumer {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &GatewayConsumer{
		consumer:   consumer,
		topic:      topic,
		resolver:   resolver,
		processor:  processor,
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

// Run consumes every partition of the topic until ctx is canceled.
func (g *GatewayConsumer) Run(ctx context.Context) error {
	partitions, err := g.consumer.Partitions(g.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	var partitionConsumers []sarama.PartitionConsumer
	defer func() {
		for _, pc := range partitionConsumers {
			pc.Close()
		}
	}()
	for _, partition := range partitions {
		pc, err := g.consumer.ConsumePartition(g.topic, partition, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("failed to consume partition %d: %w", partition, err)
		}
		partitionConsumers = append(partitionConsumers, pc)
	}

	g.logger.Info("Kafka consumer started",
		zap.String("topic", g.topic),
		zap.Int("partitions", len(partitions)))

	var wg sync.WaitGroup
	for i, pc := range partitionConsumers {
		wg.Add(1)
		go func(partition int32, pc sarama.PartitionConsumer) {
			defer wg.Done()
			g.consumePartition(ctx, partition, pc)
		}(partitions[i], pc)
	}
	wg.Wait()

	g.logger.Info("Kafka consumer stopped", zap.String("topic", g.topic))
	return nil
}

func (g *GatewayConsumer) consumePartition(ctx context.Context, partition int32, pc sarama.PartitionConsumer) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-pc.Messages():
			if !ok {
				return
			}
			if err := g.handleMessageWithRetry(ctx, message); err != nil {
				g.logger.Error("Failed to handle message after retries",
					zap.Int32("partition", partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
			}
		case err, ok := <-pc.Errors():
			if ok {
				g.logger.Error("Kafka consumer error", zap.Int32("partition", partition), zap.Error(err))
			}
		}
	}
}

func (g *GatewayConsumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		err := g.handleMessage(ctx, message)
		if err == nil {
			return nil
		}
		lastErr = err
		if !payments.IsTransient(err) {
			middleware.RecordGatewayMessage("dropped")
			return fmt.Errorf("dropping message: %w", err)
		}
		if attempt < g.maxRetries {
			backoff := time.Duration(attempt) * g.backoff
			g.logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	middleware.RecordGatewayMessage("failed")
	return fmt.Errorf("failed after %d attempts: %w", g.maxRetries, lastErr)
}

func (g *GatewayConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, saramaHeaderCarrierConsumer(message.Headers))
	ctx, span := otel.Tracer("form-payment-service").Start(ctx, "ProcessRelayedStripeEvent")
	defer span.End()

	raw, err := gateway.DecodeEvent(message.Value)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.String("stripe.event_id", raw.ID),
		attribute.String("stripe.event_type", string(raw.Type)),
	)

	events, err := g.resolver.Resolve(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = g.processor.ProcessResolvedEvents(ctx, events)
	if errors.Is(err, payments.ErrDuplicateEvent) {
		middleware.RecordGatewayMessage("duplicate")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	middleware.RecordGatewayMessage("applied")
	return nil
}

type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
