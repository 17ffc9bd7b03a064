package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/infra/logger"
)

// Dispatcher consumes decoded broker messages.
type Dispatcher interface {
	Dispatch(message any) model.TariffStatus
}

// messageType names a market message on the wire.
func messageType(message any) string {
	switch message.(type) {
	case model.NewTariff:
		return "new_tariff"
	case model.ExpireTariff:
		return "expire_tariff"
	case model.RevokeTariff:
		return "revoke_tariff"
	case model.VariableRateUpdate:
		return "variable_rate_update"
	case model.EconomicControlEvent:
		return "economic_control"
	case model.BalancingControlEvent:
		return "balancing_control"
	case model.BalancingOrder:
		return "balancing_order"
	case model.TariffStatus:
		return "tariff_status"
	case model.ChargeInfo:
		return "charge_info"
	case model.TariffSpecification:
		return "tariff_specification"
	default:
		return fmt.Sprintf("%T", message)
	}
}

// decodeMessage turns an envelope back into its concrete struct.
func decodeMessage(env envelope) (any, error) {
	var target any
	switch env.Type {
	case "new_tariff":
		target = &model.NewTariff{}
	case "expire_tariff":
		target = &model.ExpireTariff{}
	case "revoke_tariff":
		target = &model.RevokeTariff{}
	case "variable_rate_update":
		target = &model.VariableRateUpdate{}
	case "economic_control":
		target = &model.EconomicControlEvent{}
	case "balancing_order":
		target = &model.BalancingOrder{}
	default:
		return nil, fmt.Errorf("mqtt: unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("mqtt: decode %s: %w", env.Type, err)
	}
	switch m := target.(type) {
	case *model.NewTariff:
		return *m, nil
	case *model.ExpireTariff:
		return *m, nil
	case *model.RevokeTariff:
		return *m, nil
	case *model.VariableRateUpdate:
		return *m, nil
	case *model.EconomicControlEvent:
		return *m, nil
	case *model.BalancingOrder:
		return *m, nil
	}
	return nil, fmt.Errorf("mqtt: unknown message type %q", env.Type)
}

// Receiver subscribes to the broker message topic and feeds decoded messages
// into the coordinator.
type Receiver struct {
	cli    pahoClient
	prefix string
	qos    map[string]byte
	disp   Dispatcher
	logger logger.Logger
}

// NewReceiver connects to the MQTT broker and subscribes to
// <prefix>/messages.
func NewReceiver(cfg Config, disp Dispatcher) (*Receiver, error) {
	if disp == nil {
		return nil, fmt.Errorf("mqtt: nil dispatcher provided to NewReceiver")
	}
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_receiver")
	r := &Receiver{prefix: cfg.TopicPrefix, qos: cfg.QoS, disp: disp, logger: log}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		qos := byte(0)
		if q, ok := r.qos["market"]; ok {
			qos = q
		}
		if token := c.Subscribe(r.prefix+"/messages", qos, r.onMessage); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	r.cli = c
	return r, nil
}

func (r *Receiver) onMessage(_ paho.Client, msg paho.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		r.logger.Errorf("failed to decode envelope: %v", err)
		return
	}
	decoded, err := decodeMessage(env)
	if err != nil {
		r.logger.Errorf("%v", err)
		return
	}
	st := r.disp.Dispatch(decoded)
	r.logger.Debugf("dispatched %s %s: %s", env.Type, env.ID, st.Status)
}

// Disconnect gracefully closes the MQTT connection.
func (r *Receiver) Disconnect() {
	if r.cli != nil && r.cli.IsConnected() {
		r.cli.Disconnect(250)
	}
}
