// Package redpanda publishes analysis requests for completed results to a
// Redpanda/Kafka topic. The analysis consumer lives outside this service and
// writes narrative content back through the interpretation endpoint.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// DefaultAnalysisTopic is the topic analysis requests are written to.
const DefaultAnalysisTopic = "result-analysis-requests"

// kafkaClient is the subset of *kgo.Client the producer needs.
type kafkaClient interface {
	BeginTransaction() error
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	EndTransaction(ctx context.Context, commit kgo.TransactionEndTry) error
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.AnalysisTrigger with one transaction per request.
type Producer struct {
	client kafkaClient
	topic  string
	// serializes transactions on the shared client
	transactionChan chan struct{}
}

// NewProducer connects to brokers and makes sure topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	return NewProducerWithTransactionalID(ctx, brokers, topic, "psychometric-engine-analysis")
}

// NewProducerWithTransactionalID is NewProducer with an explicit transactional id,
// so several producers can share a cluster.
func NewProducerWithTransactionalID(ctx context.Context, brokers []string, topic, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.new_producer: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultAnalysisTopic
	}
	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.DialTimeout(10*time.Second),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.new_producer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("analysis topic not ensured", slog.String("topic", topic), slog.Any("error", err))
	}
	slog.Info("redpanda producer ready", slog.Any("brokers", brokers), slog.String("topic", topic))
	return newProducer(client, topic), nil
}

func newProducer(client kafkaClient, topic string) *Producer {
	return &Producer{client: client, topic: topic, transactionChan: make(chan struct{}, 1)}
}

// RequestAnalysis publishes req keyed by result id, so requests for one
// result stay ordered on a partition.
func (p *Producer) RequestAnalysis(ctx domain.Context, req domain.AnalysisRequest) error {
	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return fmt.Errorf("op=redpanda.request_analysis: %w", ctx.Err())
	}

	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("op=redpanda.request_analysis: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(req.ResultID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "result_id", Value: []byte(req.ResultID)},
			{Key: "instrument_id", Value: []byte(req.InstrumentID)},
		},
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.request_analysis: begin transaction: %w", err)
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.String("result_id", req.ResultID), slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.request_analysis: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=redpanda.request_analysis: commit transaction: %w", err)
	}
	slog.Debug("analysis requested", slog.String("result_id", req.ResultID), slog.String("topic", p.topic))
	return nil
}

// Ping checks broker connectivity for readiness.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("op=redpanda.ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
