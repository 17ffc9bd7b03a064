package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/gridmarket/infra/logger"
)

// envelope wraps a market message on the wire with its type name so the
// receiving side can decode the concrete struct.
type envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PahoSender delivers market messages to brokers over MQTT. Directed
// messages go to <prefix>/broker/<name>, broadcasts to <prefix>/tariffs.
type PahoSender struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	logger     logger.Logger
	maxRetries int
	backoff    time.Duration
}

// NewPahoSender connects to the MQTT broker described by cfg.
func NewPahoSender(cfg Config) (*PahoSender, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_sender")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &PahoSender{
		cli:        c,
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
	}, nil
}

// Send delivers a message to one broker's private topic.
func (p *PahoSender) Send(broker string, message any) error {
	return p.publish(fmt.Sprintf("%s/broker/%s", p.prefix, broker), message)
}

// Broadcast delivers a message to the shared tariff topic.
func (p *PahoSender) Broadcast(message any) error {
	return p.publish(p.prefix+"/tariffs", message)
}

func (p *PahoSender) publish(topic string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mqtt: encode %T: %w", message, err)
	}
	env := envelope{
		ID:        uuid.NewString(),
		Type:      messageType(message),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	qos := byte(0)
	if q, ok := p.qos["market"]; ok {
		qos = q
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, false, body)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("sent %s %s to %s", env.Type, env.ID, topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(p.backoff * time.Duration(1<<attempt))
	}
	return publishErr
}

// Disconnect gracefully closes the MQTT connection.
func (p *PahoSender) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
