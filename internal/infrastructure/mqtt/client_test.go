package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/soywod/kronos.server/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for broker-free tests.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "kronos-test",
		},
		QoS:         1,
		TopicPrefix: "kronos-test",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("kronos")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"server status", topics.ServerStatus(), "kronos/server/status"},
		{"task change", topics.TaskChange("u-1", "create"), "kronos/user/u-1/task/create"},
		{"task change wildcard", topics.TaskChange("u-1", "+"), "kronos/user/u-1/task/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_DefaultPrefix(t *testing.T) {
	want := DefaultTopicPrefix + "/server/status"
	if got := NewTopics("").ServerStatus(); got != want {
		t.Errorf("ServerStatus() = %q, want %q", got, want)
	}
}

func TestBuildClientOptions(t *testing.T) {
	t.Run("plain tcp without auth", func(t *testing.T) {
		opts := buildClientOptions(testConfig())

		if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
			t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
		}
		if opts.ClientID != "kronos-test" {
			t.Errorf("ClientID = %q, want %q", opts.ClientID, "kronos-test")
		}
		if opts.Username != "" {
			t.Errorf("Username = %q, want empty", opts.Username)
		}
		if !opts.CleanSession {
			t.Error("CleanSession = false, want true")
		}
		if opts.TLSConfig != nil {
			t.Error("TLSConfig should be nil without TLS")
		}
	})

	t.Run("tls with auth", func(t *testing.T) {
		cfg := testConfig()
		cfg.Broker.TLS = true
		cfg.Broker.Port = 8883
		cfg.Auth = config.MQTTAuthConfig{Username: "kronos", Password: "secret"}

		opts := buildClientOptions(cfg)

		if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
			t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
		}
		if opts.Username != "kronos" || opts.Password != "secret" {
			t.Errorf("credentials = %q/%q, want kronos/secret", opts.Username, opts.Password)
		}
		if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
			t.Error("TLSConfig should enforce the minimum TLS version")
		}
	})
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)
	configureLWT(opts, NewTopics(cfg.TopicPrefix), cfg.Broker.ClientID)

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if opts.WillTopic != "kronos-test/server/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var payload statusPayload
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload.Status != statusOffline || payload.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", payload)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	raw := buildStatusPayload("kronos-test", statusOnline, "")

	if strings.Contains(string(raw), "reason") {
		t.Errorf("online payload should omit reason: %s", raw)
	}

	var payload statusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Status != statusOnline || payload.ClientID != "kronos-test" || payload.Timestamp == "" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), topics: NewTopics("kronos-test")}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "kronos/x", []byte("{}"), 3, ErrInvalidQoS},
		{"payload too large", "kronos/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "kronos/x", []byte("{}"), 1, ErrNotConnected},
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

func TestClient_Disconnected(t *testing.T) {
	var nilClient *Client
	if nilClient.IsConnected() {
		t.Error("nil client should report disconnected")
	}
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}

	c := &Client{cfg: testConfig()}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled ctx error = %v, want context.Canceled", err)
	}
}
