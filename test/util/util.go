// Package util holds helpers shared by the integration tests: a disposable
// Mosquitto broker in a container and a poller for the metrics endpoint.
package util

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	brokerReadyTimeout = 10 * time.Second
	pollInterval       = 100 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
`

// StartMosquitto runs a throwaway Mosquitto broker in Docker and returns its
// tcp:// URL plus a cleanup function. The broker is probed with a real MQTT
// connect before returning, so callers can connect immediately.
func StartMosquitto(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "gridmarket-mosq")
	if err != nil {
		return "", nil, err
	}
	confPath := filepath.Join(dir, "mosquitto.conf")
	if err := os.WriteFile(confPath, []byte(mosquittoConf), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}

	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
			Files: []tc.ContainerFile{{
				HostFilePath:      confPath,
				ContainerFilePath: "/mosquitto/config/mosquitto.conf",
				FileMode:          0o644,
			}},
		},
		Started: true,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("start mosquitto: %w", err)
	}
	cleanup := func() {
		_ = cont.Terminate(context.Background())
		_ = os.RemoveAll(dir)
	}

	host, err := cont.Host(ctx)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	probeCtx, cancel := context.WithTimeout(ctx, brokerReadyTimeout)
	defer cancel()
	if err := probeBroker(probeCtx, broker); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("broker never became ready: %w", err)
	}
	return broker, cleanup, nil
}

func probeBroker(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("gridmarket-probe")
	for {
		cli := paho.NewClient(opts)
		if token := cli.Connect(); token.Wait() && token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// WaitForMetric polls metricsURL until a line containing substr shows up or
// the context expires.
func WaitForMetric(ctx context.Context, metricsURL, substr string) error {
	for {
		if body, err := fetch(ctx, metricsURL); err == nil && strings.Contains(body, substr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("metric %q not found at %s: %w", substr, metricsURL, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
