package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/workbench-tasks/internal/progress"
)

// Publisher sends one message to a topic and returns the server message ID.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// RunMessage is the JSON payload published for a finished run.
type RunMessage struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name,omitempty"`
	Stage      string    `json:"stage"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Note       string    `json:"note,omitempty"`
}

// PubSubSink publishes terminal run events so other services (notebooks,
// dashboards, CI hooks) can react to finished work. Start and progress events
// are not published.
type PubSubSink struct {
	pub    Publisher
	logger *zap.Logger
}

// NewPubSubSink wraps a Publisher.
func NewPubSubSink(pub Publisher, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{pub: pub, logger: logger}
}

// Consume publishes every terminal event of the batch. All events are
// attempted; failures are joined into the returned error.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		msg := RunMessage{
			RunID:      evt.RunUUID().String(),
			Name:       evt.Name,
			Stage:      string(evt.Stage),
			FinishedAt: evt.TS.UTC(),
			DurationMs: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal run message: %w", err))
			continue
		}
		id, err := s.pub.Publish(ctx, data, map[string]string{"stage": msg.Stage})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish run %s: %w", msg.RunID, err))
			continue
		}
		s.logger.Debug("run event published", zap.String("run_id", msg.RunID), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close releases the publisher.
func (s *PubSubSink) Close(context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}

// TopicPublisher is the Google Cloud Pub/Sub implementation of Publisher.
type TopicPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewTopicPublisher connects to projectID and binds topicID.
func NewTopicPublisher(ctx context.Context, projectID, topicID string) (*TopicPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub project id and topic id are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &TopicPublisher{client: client, topic: client.Topic(topicID)}, nil
}

// Publish sends data and waits for the server acknowledgement.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *TopicPublisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
