package test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/gridmarket/core/capacity"
	"github.com/kilianp07/gridmarket/core/market"
	"github.com/kilianp07/gridmarket/core/model"
	"github.com/kilianp07/gridmarket/core/settlement"
	"github.com/kilianp07/gridmarket/core/tariff"
	"github.com/kilianp07/gridmarket/infra/metrics"
	"github.com/kilianp07/gridmarket/infra/mqtt"
	"github.com/kilianp07/gridmarket/test/util"
)

// wireEnvelope mirrors the on-wire message framing.
type wireEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func skipWithoutDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("E2E") == "" {
		t.Skip("set E2E=1 to run container tests")
	}
}

func TestMarketOverMQTT(t *testing.T) {
	skipWithoutDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker, cleanup, err := util.StartMosquitto(ctx)
	if err != nil {
		t.Fatalf("mosquitto: %v", err)
	}
	defer cleanup()

	sendCfg := mqtt.Config{Broker: broker, ClientID: "market-sender", TopicPrefix: "market"}
	sender, err := mqtt.NewPahoSender(sendCfg)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	defer sender.Disconnect()

	store := tariff.NewStore()
	ctrl := capacity.NewController(store, sender, nil)
	scfg := settlement.Config{}
	scfg.SetDefaults()
	proc := settlement.NewProcessor(scfg, ctrl, nil)
	mcfg := market.Config{PublicationFee: -100}
	mcfg.SetDefaults()
	coord, err := market.NewCoordinator(mcfg, store, ctrl, proc, nil, sender, nil, nil, nil)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	recvCfg := mqtt.Config{Broker: broker, ClientID: "market-receiver", TopicPrefix: "market"}
	receiver, err := mqtt.NewReceiver(recvCfg, coord)
	if err != nil {
		t.Fatalf("receiver: %v", err)
	}
	defer receiver.Disconnect()

	// A broker-side observer watching its private topic and the tariff feed.
	statusCh := make(chan model.TariffStatus, 4)
	specCh := make(chan model.TariffSpecification, 4)
	obsOpts := paho.NewClientOptions().AddBroker(broker).SetClientID("broker-acme")
	obs := paho.NewClient(obsOpts)
	if token := obs.Connect(); token.Wait() && token.Error() != nil {
		t.Fatalf("observer connect: %v", token.Error())
	}
	defer obs.Disconnect(100)
	if token := obs.Subscribe("market/broker/acme", 0, func(_ paho.Client, m paho.Message) {
		var env wireEnvelope
		if err := json.Unmarshal(m.Payload(), &env); err != nil || env.Type != "tariff_status" {
			return
		}
		var st model.TariffStatus
		if err := json.Unmarshal(env.Payload, &st); err == nil {
			statusCh <- st
		}
	}); token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe status: %v", token.Error())
	}
	if token := obs.Subscribe("market/tariffs", 0, func(_ paho.Client, m paho.Message) {
		var env wireEnvelope
		if err := json.Unmarshal(m.Payload(), &env); err != nil || env.Type != "tariff_specification" {
			return
		}
		var spec model.TariffSpecification
		if err := json.Unmarshal(env.Payload, &spec); err == nil {
			specCh <- spec
		}
	}); token.Wait() && token.Error() != nil {
		t.Fatalf("subscribe tariffs: %v", token.Error())
	}

	// Publish a tariff through the wire.
	spec := model.TariffSpecification{
		ID:     "t1",
		Broker: "acme",
		Rates:  []model.Rate{{ID: "r1", Value: -0.12, MaxCurtailment: 0.5}},
	}
	payload, err := json.Marshal(model.NewTariff{Spec: spec})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body, err := json.Marshal(wireEnvelope{ID: "m1", Type: "new_tariff", Timestamp: time.Now().UnixMilli(), Payload: payload})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if token := obs.Publish("market/messages", 0, false, body); token.Wait() && token.Error() != nil {
		t.Fatalf("publish: %v", token.Error())
	}

	select {
	case st := <-statusCh:
		if st.Status != model.StatusSuccess || st.TariffID != "t1" {
			t.Fatalf("unexpected status: %+v", st)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no status reply received")
	}

	// Metrics endpoint for the activation counters.
	promAddr := "127.0.0.1:19309"
	go func() { _ = metrics.StartPromServer(ctx, promAddr) }()

	// First activation broadcasts the specification to all brokers.
	coord.Activate(time.Now(), 0)
	select {
	case got := <-specCh:
		if got.ID != "t1" || got.Broker != "acme" {
			t.Fatalf("unexpected broadcast: %+v", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no tariff broadcast received")
	}
	if !store.Tariff("t1").IsActive() {
		t.Fatalf("tariff not offered after activation")
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	if err := util.WaitForMetric(waitCtx, "http://"+promAddr+"/metrics", "tariffs_published_total"); err != nil {
		t.Fatalf("publication counter not exported: %v", err)
	}
}
