package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

const (
	eventSource         = "meshview/engine"
	subjectTopologyDiff = "topology.changes"
	subjectFindingNew   = "topology.findings"
	typeTopologyChanged = "io.meshview.topology.changed"
	typeFindingDetected = "io.meshview.finding.detected"
)

// EventPublisher publishes topology change and finding events as
// CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewEventPublisher creates an EventPublisher for the given stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *EventPublisher {
	return &EventPublisher{js: js, stream: streamName, logger: log}
}

// PublishTopologyChange publishes one graph diff as a change event.
func (p *EventPublisher) PublishTopologyChange(ctx context.Context, diff *models.GraphDiff) error {
	now := time.Now()

	return p.publish(ctx, subjectTopologyDiff, typeTopologyChanged, models.TopologyChangeEvent{
		FromVersion: diff.FromVersion,
		ToVersion:   diff.ToVersion,
		Diff:        diff,
		Timestamp:   now,
	})
}

// PublishFinding publishes one new finding.
func (p *EventPublisher) PublishFinding(ctx context.Context, finding *models.Finding) error {
	return p.publish(ctx, subjectFindingNew, typeFindingDetected, models.FindingEvent{
		Finding:   finding,
		Timestamp: time.Now(),
	})
}

func (p *EventPublisher) publish(ctx context.Context, subject, eventType string, data interface{}) error {
	now := time.Now()

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &now,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	ack, err := p.js.Publish(ctx, subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("event published")

	return nil
}

// ConnectWithEventPublisher creates a NATS connection with JetStream,
// ensures the stream exists, and returns an EventPublisher.
func ConnectWithEventPublisher(ctx context.Context, natsURL, streamName string, log logger.Logger, opts ...nats.Option) (*EventPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err = js.Stream(ctx, streamName); err != nil {
		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{"topology.>"},
		}

		if _, err = js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	return NewEventPublisher(js, streamName, log), nc, nil
}
