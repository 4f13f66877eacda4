// Package mqtt bridges status snapshots to an MQTT broker as retained
// JSON, one message per update, so subscribers that join late still see
// the current state.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	paho "github.com/eclipse/paho.mqtt.golang"

	"gnssd/internal/gnss"
)

// client is the part of paho.Client the publisher uses.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	topic string
	c     client
}

// NewPublisher connects to the broker before returning; a daemon with
// mqtt enabled but no reachable broker should fail loudly at startup.
func NewPublisher(broker, clientID, topic string) (*Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)
	return newPublisher(topic, paho.NewClient(opts))
}

func newPublisher(topic string, c client) (*Publisher, error) {
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect: %w", token.Error())
	}
	return &Publisher{topic: topic, c: c}, nil
}

// Run publishes every snapshot until the context ends. Publish failures
// are logged, not fatal; paho reconnects on its own.
func (p *Publisher) Run(ctx context.Context, bc *gnss.Broadcaster) error {
	id, ch := bc.Subscribe(8)
	defer bc.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.publish(st); err != nil {
				log.Printf("mqtt: publish: %v", err)
			}
		}
	}
}

func (p *Publisher) publish(st gnss.Status) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	token := p.c.Publish(p.topic, 0, true, payload)
	token.Wait()
	return token.Error()
}

func (p *Publisher) Close() {
	p.c.Disconnect(250)
}
