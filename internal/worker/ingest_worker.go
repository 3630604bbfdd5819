package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/ingest"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
)

type Ingester interface {
	Run(ctx context.Context, documentID uint) error
	Abandon(ctx context.Context, documentID uint) error
}

// Outcome is what the worker does with a delivery once it was handled.
type Outcome int

const (
	Ack Outcome = iota
	Requeue
	Drop
)

// IngestWorker consumes ingest jobs. A job that failed before its document
// was claimed is requeued once; on the second failure the document is
// abandoned as FAILED so it never stays PENDING.
type IngestWorker struct {
	conn        *amqp.Connection
	pipeline    Ingester
	queueName   string
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, pipeline Ingester, queueName string, concurrency int, logger *slog.Logger) *IngestWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:        conn,
		pipeline:    pipeline,
		queueName:   queueName,
		concurrency: concurrency,
		logger:      logger.With("component", "ingest_worker"),
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmqClient.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(w.concurrency, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	var consumers sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			w.consume(workerCtx, deliveries)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			switch w.Handle(ctx, d.Body, d.Redelivered) {
			case Ack:
				_ = d.Ack(false)
			case Requeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

// Handle runs one job and decides the fate of its delivery. Stage failures
// are acked since the document already records them as FAILED.
func (w *IngestWorker) Handle(ctx context.Context, body []byte, redelivered bool) Outcome {
	var job rabbitmqClient.IngestJob
	if err := json.Unmarshal(body, &job); err != nil || job.DocumentID == 0 {
		w.logger.Error("decode ingest job failed", "error", err, "body", string(body))
		return Drop
	}

	err := w.pipeline.Run(ctx, job.DocumentID)
	var stageErr *ingest.StageError
	switch {
	case err == nil:
		return Ack
	case errors.As(err, &stageErr):
		return Ack
	case errors.Is(err, ingest.ErrDocumentNotFound):
		w.logger.Error("ingest job for unknown document", "document_id", job.DocumentID)
		return Drop
	case !redelivered:
		w.logger.Warn("ingest job failed, requeue", "document_id", job.DocumentID, "error", err)
		return Requeue
	}

	w.logger.Error("ingest job failed again", "document_id", job.DocumentID, "error", err)
	if err := w.pipeline.Abandon(ctx, job.DocumentID); err != nil {
		w.logger.Error("abandon document failed", "document_id", job.DocumentID, "error", err)
	}
	return Drop
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
