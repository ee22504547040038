package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

type MQTTOptions struct {
	Broker   string // tcp://host:port
	ClientID string
	Timeout  time.Duration
}

// MQTT is a Bus over an MQTT broker at QoS 1. Subscriptions survive
// reconnects.
type MQTT struct {
	client  paho.Client
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]Handler
}

func NewMQTT(o MQTTOptions) (*MQTT, error) {
	if o.Broker == "" {
		return nil, errors.New("bus.broker is required")
	}
	if o.Timeout == 0 {
		o.Timeout = 5 * time.Second
	}

	b := &MQTT{timeout: o.Timeout, subs: make(map[string]Handler)}

	opts := paho.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(o.Timeout)
	opts.SetOnConnectHandler(b.resubscribe)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", o.Broker).Msg("bus connection lost")
	})

	b.client = paho.NewClient(opts)
	tok := b.client.Connect()
	if !tok.WaitTimeout(o.Timeout) {
		return nil, fmt.Errorf("connect %s: timed out", o.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", o.Broker, err)
	}
	log.Info().Str("broker", o.Broker).Str("client_id", o.ClientID).Msg("bus connected")
	return b, nil
}

func (b *MQTT) Publish(topic string, payload []byte) error {
	tok := b.client.Publish(topic, 1, false, payload)
	if !tok.WaitTimeout(b.timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return tok.Error()
}

func (b *MQTT) Subscribe(topic string, h Handler) error {
	b.mu.Lock()
	b.subs[topic] = h
	b.mu.Unlock()
	return b.subscribe(topic, h)
}

func (b *MQTT) subscribe(topic string, h Handler) error {
	tok := b.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		h(msg.Payload())
	})
	if !tok.WaitTimeout(b.timeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	return tok.Error()
}

// resubscribe runs on every (re)connect. The initial connect finds no
// subscriptions yet.
func (b *MQTT) resubscribe(paho.Client) {
	b.mu.Lock()
	subs := make(map[string]Handler, len(b.subs))
	for t, h := range b.subs {
		subs[t] = h
	}
	b.mu.Unlock()

	for t, h := range subs {
		// Subscribe tokens must not be waited on inside the connect callback.
		go func() {
			if err := b.subscribe(t, h); err != nil {
				log.Error().Err(err).Str("topic", t).Msg("resubscribe failed")
			}
		}()
	}
}

func (b *MQTT) Close() error {
	b.client.Disconnect(250)
	return nil
}
