package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/srne2mqtt/internal/core/domain"
	"github.com/berfenger/srne2mqtt/internal/core/port"
	"github.com/berfenger/srne2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
)

const DEFAULT_PUBLISH_TIMEOUT = 500 * time.Millisecond

// ActorTelemetryPublisher hands telemetry records to the MQTT actor and waits
// for the broker acknowledgement, bounded by the context deadline.
type ActorTelemetryPublisher struct {
	sender actor.SenderContext
	mqtt   *actor.PID
}

var _ port.TelemetryPublisher = (*ActorTelemetryPublisher)(nil)

func NewActorTelemetryPublisher(sender actor.SenderContext, mqttPID *actor.PID) *ActorTelemetryPublisher {
	return &ActorTelemetryPublisher{sender: sender, mqtt: mqttPID}
}

func (p *ActorTelemetryPublisher) Publish(ctx context.Context, record domain.TelemetryRecord, topic string) error {
	if p.mqtt == nil {
		return fmt.Errorf("publish %s: no message bus", topic)
	}
	payload, err := mqtt.TelemetryPayload(record)
	if err != nil {
		return err
	}
	timeout := DEFAULT_PUBLISH_TIMEOUT
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	result, err := p.sender.RequestFuture(p.mqtt, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: payload,
	}, timeout).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	resp, ok := result.(domain.PublishMessageResponse)
	if !ok {
		return fmt.Errorf("publish %s: unexpected response %T", topic, result)
	}
	return resp.ResponseError
}
