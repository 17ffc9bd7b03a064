package app

import (
	"context"
	"fmt"

	"github.com/kilianp07/gridmarket/config"
	"github.com/kilianp07/gridmarket/core/capacity"
	"github.com/kilianp07/gridmarket/core/market"
	"github.com/kilianp07/gridmarket/core/settlement"
	"github.com/kilianp07/gridmarket/core/sim"
	"github.com/kilianp07/gridmarket/core/tariff"
	"github.com/kilianp07/gridmarket/infra/history"
	"github.com/kilianp07/gridmarket/infra/logger"
	"github.com/kilianp07/gridmarket/infra/metrics"
	"github.com/kilianp07/gridmarket/infra/mqtt"
	"github.com/kilianp07/gridmarket/internal/eventbus"
)

// Service wires the tariff market coordinator to its adapters.
type Service struct {
	Coordinator *market.Coordinator
	Clock       *sim.Clock
	History     *history.SQLiteStore

	sender      *mqtt.PahoSender
	receiver    *mqtt.Receiver
	bus         eventbus.EventBus
	log         logger.Logger
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	sender, err := mqtt.NewPahoSender(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt sender: %w", err)
	}

	sink, err := metrics.NewSink(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	var hist *history.SQLiteStore
	if cfg.History.Enabled {
		hist, err = history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		sink = metrics.NewMultiSink(sink, hist)
	}

	store := tariff.NewStore()
	ctrl := capacity.NewController(store, sender, logger.New("capacity"))
	proc := settlement.NewProcessor(cfg.Settlement, ctrl, logger.New("settlement"))

	bus := eventbus.New()
	coord, err := market.NewCoordinator(cfg.Market, store, ctrl, proc, nil, sender, bus,
		logger.New("market"), sink)
	if err != nil {
		return nil, fmt.Errorf("market coordinator: %w", err)
	}
	receiver, err := mqtt.NewReceiver(cfg.MQTT, coord)
	if err != nil {
		return nil, fmt.Errorf("mqtt receiver: %w", err)
	}
	clock, err := sim.NewClock(cfg.Sim, coord, logger.New("clock"))
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}

	return &Service{
		Coordinator: coord,
		Clock:       clock,
		History:     hist,
		sender:      sender,
		receiver:    receiver,
		bus:         bus,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}, nil
}

// Run starts the service and blocks until the context is cancelled or the
// clock finishes.
func (s *Service) Run(ctx context.Context) error {
	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.logEvents(ctx)
	return s.Clock.Run(ctx)
}

// logEvents mirrors market lifecycle events into the service log.
func (s *Service) logEvents(ctx context.Context) {
	events := s.bus.Subscribe()
	defer s.bus.Unsubscribe(events)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.log.Debugw("market event", map[string]any{"event": fmt.Sprintf("%T", ev)})
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the MQTT connections and the history store.
func (s *Service) Close() error {
	if s.receiver != nil {
		s.receiver.Disconnect()
	}
	if s.sender != nil {
		s.sender.Disconnect()
	}
	s.bus.Close()
	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
