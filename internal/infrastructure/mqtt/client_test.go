package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/queeriouslabs/secbot/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "secbot-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a Client whose paho client was never connected.
func disconnectedClient() *Client {
	cfg := testConfig()
	return &Client{
		client: pahomqtt.NewClient(buildClientOptions(cfg)),
		cfg:    cfg,
		topics: Topics{Prefix: "secbot"},
		logger: noopLogger{},
	}
}

// requireBroker skips unless SECBOT_TEST_MQTT is set, signalling a broker
// is listening at 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	if os.Getenv("SECBOT_TEST_MQTT") == "" {
		t.Skip("SECBOT_TEST_MQTT not set; skipping broker test")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"door event", Topics{Prefix: "secbot"}.DoorEvent("front_door_latch"), "secbot/event/front_door_latch"},
		{"relay", Topics{Prefix: "secbot"}.Relay("authorizer"), "secbot/relay/authorizer"},
		{"system status", Topics{Prefix: "secbot"}.SystemStatus(), "secbot/system/status"},
		{"all events", Topics{Prefix: "secbot"}.AllEvents(), "secbot/event/+"},
		{"default prefix", Topics{}.SystemStatus(), "secbot/system/status"},
		{"trailing slash", Topics{Prefix: "lab/"}.Relay("x"), "lab/relay/x"},
		{"wildcards sanitised", Topics{Prefix: "secbot"}.DoorEvent("a/+/#"), "secbot/event/a____"},
		{"empty id", Topics{Prefix: "secbot"}.Relay(""), "secbot/relay/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "secbot"
	cfg.Auth.Password = "hunter2"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "secbot-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "secbot" || opts.Password != "hunter2" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, Topics{Prefix: "lab"}, "secbot-broadcast")

	if !opts.WillEnabled || opts.WillTopic != "lab/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var st status
	if err := json.Unmarshal(opts.WillPayload, &st); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if st.Status != "offline" || st.ClientID != "secbot-broadcast" || st.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", st)
	}
}

func TestStatusPayload_EscapesClientID(t *testing.T) {
	payload := statusPayload("online", `bad"id`, "")

	var st status
	if err := json.Unmarshal(payload, &st); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if st.ClientID != `bad"id` {
		t.Errorf("ClientID = %q", st.ClientID)
	}
	if strings.Contains(string(payload), "reason") {
		t.Error("empty reason should be omitted")
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"bad qos", "secbot/x", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized", "secbot/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "secbot/x", []byte("{}"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := disconnectedClient()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(cfg, Topics{}, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndPublish(t *testing.T) {
	requireBroker(t)

	c, err := Connect(testConfig(), Topics{Prefix: "secbot-test"}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	if !c.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if err := c.PublishRetained(c.Topics().DoorEvent("front_door_latch"),
		[]byte(`{"src_id":"front_door_latch","event":"/front_door/ready"}`)); err != nil {
		t.Errorf("PublishRetained() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
