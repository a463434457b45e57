// Command broadcast relays bus traffic to listeners outside the device.
//
// Every message delivered to its bus address is written to TCP listeners
// as a JSON line and to WebSocket listeners as a text frame. With MQTT
// enabled, each message is also published to the broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/queeriouslabs/secbot/internal/app"
	"github.com/queeriouslabs/secbot/internal/broadcast"
	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
	"github.com/queeriouslabs/secbot/internal/infrastructure/logging"
	"github.com/queeriouslabs/secbot/internal/infrastructure/mqtt"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if app.IsHelp(err) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags, err := app.ParseFlags("broadcast", args, os.Stderr, nil)
	if err != nil {
		return err
	}
	if flags.Version {
		fmt.Printf("broadcast %s (%s)\n", version, commit)
		return nil
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, cfg.Broadcast.Name, version)
	defer log.Close() //nolint:errcheck // nothing to do on close failure at exit

	topics := mqtt.Topics{Prefix: cfg.Broadcast.MQTTTopicPrefix}
	mqttClient, err := connectMQTT(cfg.MQTT, topics, log)
	if err != nil {
		return err
	}
	var publisher broadcast.Publisher
	if mqttClient != nil {
		publisher = mqttClient
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	hub := broadcast.NewHub(cfg.Broadcast.MaxClients, log)
	defer hub.Close()

	tcp := broadcast.NewTCPServer(hub, log)
	if err := tcp.Start(ctx, cfg.Broadcast.Listen); err != nil {
		return err
	}
	defer tcp.Close() //nolint:errcheck // listener shutdown at exit

	if cfg.Broadcast.HTTPListen != "" {
		srv := broadcast.NewHTTPServer(hub, cfg.Broadcast.WebSocketPath, health(cfg.MQTT, mqttClient), log)
		if err := srv.Start(ctx, cfg.Broadcast.HTTPListen); err != nil {
			return err
		}
		defer srv.Close() //nolint:errcheck // listener shutdown at exit
	}

	endpoint, err := app.OpenBus(ctx, cfg.Bus, cfg.Broadcast.Name, true, log)
	if err != nil {
		return err
	}
	defer endpoint.Stop()

	svc := broadcast.NewService(endpoint, hub, broadcast.NewMirror(publisher, topics, log), log)
	err = svc.Run(ctx)
	log.Info("broadcast stopped")
	return err
}

// connectMQTT returns nil when MQTT is disabled.
func connectMQTT(cfg config.MQTTConfig, topics mqtt.Topics, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT mirror disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg, topics, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// health reports the MQTT mirror state on /healthz.
func health(cfg config.MQTTConfig, client *mqtt.Client) func() map[string]any {
	return func() map[string]any {
		state := "disabled"
		switch {
		case !cfg.Enabled || client == nil:
		case client.IsConnected():
			state = "connected"
		default:
			state = "disconnected"
		}
		return map[string]any{"mqtt": state}
	}
}
