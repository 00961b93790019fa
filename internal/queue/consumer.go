package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facecheck/internal/models"
)

type EnrollmentHandler func(ctx context.Context, task models.EnrollmentTask) error

type EventHandler func(ctx context.Context, ev models.CheckinEvent) error

const enrollmentAckWait = 2 * time.Minute

// progressReporter is the part of jetstream.Msg that resets the ack timer.
type progressReporter interface {
	InProgress() error
}

// withProgress runs fn and tells the server the message is still being
// worked on every interval until fn returns.
func withProgress(r progressReporter, every time.Duration, fn func() error) error {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := r.InProgress(); err != nil {
					slog.Warn("extend ack deadline", "error", err)
				}
			}
		}
	}()

	err := fn()
	close(stop)
	<-done
	return err
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

func decodeTask(data []byte) (models.EnrollmentTask, error) {
	var task models.EnrollmentTask
	if err := json.Unmarshal(data, &task); err != nil {
		return task, fmt.Errorf("decode enrollment task: %w", err)
	}
	if task.TaskID == "" || task.IdentityID == "" {
		return task, fmt.Errorf("decode enrollment task: missing task or identity id")
	}
	return task, nil
}

func decodeEvent(data []byte) (models.CheckinEvent, error) {
	var ev models.CheckinEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// ConsumeEnrollments starts consuming enrollment tasks from the ENROLLMENTS
// stream. workerCount determines how many goroutines process messages
// concurrently. Malformed tasks are terminated instead of redelivered.
func (c *Consumer) ConsumeEnrollments(ctx context.Context, consumerName string, handler EnrollmentHandler, workerCount int) error {
	stream, err := c.js.Stream(ctx, EnrollmentsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EnrollmentsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       enrollmentAckWait,
		MaxDeliver:    3,
		FilterSubject: EnrollmentsSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch enrollments error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				task, err := decodeTask(msg.Data())
				if err != nil {
					slog.Error("drop enrollment task", "worker", workerID, "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				err = withProgress(msg, enrollmentAckWait/4, func() error { return handler(ctx, task) })
				if err != nil {
					slog.Error("process enrollment error", "worker", workerID, "task_id", task.TaskID, "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}(i)
	}

	slog.Info("enrollment consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// ConsumeEvents starts consuming check-in events (for API to broadcast via WebSocket).
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := decodeEvent(msg.Data())
				if err != nil {
					slog.Error("drop event", "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
