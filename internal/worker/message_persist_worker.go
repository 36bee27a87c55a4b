// Package worker runs background consumers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docchat/internal/metrics"
	"docchat/internal/model"
	"docchat/internal/platform/rabbitmq"
)

type MessageStore interface {
	Create(ctx context.Context, message *model.Message) error
}

// HistoryInvalidator is told after each persisted message so cached history
// is rebuilt from the database on the next read.
type HistoryInvalidator interface {
	Invalidate(ctx context.Context, sessionID string) error
}

// MessagePersistWorker writes queued chat messages to the database. A
// message that cannot be decoded is dropped; a write failure is requeued
// once and dropped on the second failure.
type MessagePersistWorker struct {
	conn      *amqp.Connection
	store     MessageStore
	history   HistoryInvalidator
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMessagePersistWorker(conn *amqp.Connection, store MessageStore, history HistoryInvalidator, queueName string, logger *slog.Logger) *MessagePersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagePersistWorker{
		conn:      conn,
		store:     store,
		history:   history,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *MessagePersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(32, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("message queue closed", "queue", w.queueName)
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.Info("message persist worker started", "queue", w.queueName)
	return nil
}

func (w *MessagePersistWorker) handle(ctx context.Context, d amqp.Delivery) {
	result, requeue := w.process(ctx, d.Body, d.Redelivered)
	metrics.MessagesPersisted.WithLabelValues(result).Inc()
	if result == "ok" {
		_ = d.Ack(false)
		return
	}
	_ = d.Nack(false, requeue)
}

// process returns the result label and, on failure, whether to requeue.
func (w *MessagePersistWorker) process(ctx context.Context, body []byte, redelivered bool) (string, bool) {
	var msg model.Message
	if err := json.Unmarshal(body, &msg); err != nil || msg.SessionID == "" {
		w.logger.Warn("worker decode message failed", "error", err)
		return "invalid", false
	}

	if err := w.store.Create(ctx, &msg); err != nil {
		w.logger.Error("worker persist message failed", "session_id", msg.SessionID, "redelivered", redelivered, "error", err)
		return "failed", !redelivered
	}
	if w.history != nil {
		if err := w.history.Invalidate(ctx, msg.SessionID); err != nil {
			w.logger.Warn("invalidate history cache failed", "session_id", msg.SessionID, "error", err)
		}
	}
	return "ok", false
}

func (w *MessagePersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
