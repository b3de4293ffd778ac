package events

import (
	"context"
	"encoding/json"
)

// Broadcaster pushes serialized events to connected clients.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// FanoutPublisher forwards events to a primary publisher and broadcasts them.
type FanoutPublisher struct {
	primary     Publisher
	broadcaster Broadcaster
}

// NewFanoutPublisher constructs a publisher that fans out to the primary
// publisher and the broadcaster. Either may be nil.
func NewFanoutPublisher(primary Publisher, broadcaster Broadcaster) *FanoutPublisher {
	return &FanoutPublisher{primary: primary, broadcaster: broadcaster}
}

// Publish delivers to the primary publisher first, then broadcasts.
func (p *FanoutPublisher) Publish(ctx context.Context, evt Event) error {
	if p.primary != nil {
		if err := p.primary.Publish(ctx, evt); err != nil {
			return err
		}
	}

	if p.broadcaster != nil {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		p.broadcaster.Broadcast(data)
	}

	return nil
}
