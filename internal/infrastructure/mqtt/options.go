package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultPublishTimeout bounds a single publish or subscribe round trip.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// connectGrace is added to the configured connect timeout before the
	// session abandons an attempt paho has not resolved.
	connectGrace = 2 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// parseBroker checks that paho can dial the configured URL.
func parseBroker(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBroker, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidBroker, raw)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBroker, u.Scheme)
	}
	return u, nil
}

// isSecure reports whether the scheme needs a TLS config.
func isSecure(scheme string) bool {
	switch scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return false
}

// buildClientOptions creates paho options for one connection attempt.
//
// This configures:
//   - Broker URL (any scheme paho supports, including ws/wss)
//   - A fresh client ID for this attempt
//   - Keepalive, clean session and connect timeout from config
//   - TLS for secure schemes
//
// Paho's own reconnect logic is disabled; the session retries on a fixed
// interval instead.
func buildClientOptions(cfg config.MQTTConfig, broker *url.URL, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(broker.String())
	opts.SetClientID(clientID)

	opts.SetCleanSession(cfg.CleanSession)
	opts.SetKeepAlive(cfg.KeepAliveDuration())
	opts.SetConnectTimeout(cfg.ConnectTimeout())

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Deliver messages for a topic in arrival order.
	opts.SetOrderMatters(true)

	if isSecure(broker.Scheme) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}
