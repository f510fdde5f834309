package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	AuthMethod string `json:"auth_method"`

	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	TLSConfig  *tls.Config `json:"-"`

	// StatusTopic carries the retained online announcement; the broker
	// publishes the retained offline will there when the session dies.
	StatusTopic  string `json:"status_topic"`
	SubscribeQoS byte   `json:"subscribe_qos"`

	// KeepAliveS is the MQTT keepalive; ConnectTimeoutS bounds a single
	// connect attempt and must stay well under it so the supervisor,
	// not the broker, decides when to retry.
	KeepAliveS      int `json:"keep_alive_s"`
	ConnectTimeoutS int `json:"connect_timeout_s"`
	// CleanSession defaults to true; set false to let the broker queue
	// QoS 1 messages across reconnects.
	CleanSession *bool `json:"clean_session"`

	MinBackoffMS int `json:"min_backoff_ms"`
	MaxBackoffMS int `json:"max_backoff_ms"`

	BreakerThreshold int `json:"breaker_threshold"`
	BreakerResetS    int `json:"breaker_reset_s"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "telemetrix"
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "telemetrix/status"
	}
	if c.SubscribeQoS == 0 {
		c.SubscribeQoS = 1
	}
	if c.KeepAliveS <= 0 {
		c.KeepAliveS = 60
	}
	if c.ConnectTimeoutS <= 0 {
		c.ConnectTimeoutS = 10
	}
	if c.MinBackoffMS <= 0 {
		c.MinBackoffMS = 1000
	}
	if c.MaxBackoffMS <= 0 {
		c.MaxBackoffMS = 60000
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerResetS <= 0 {
		c.BreakerResetS = 120
	}
}

// CleanStart reports whether the session starts clean. Unset means
// true.
func (c Config) CleanStart() bool {
	return c.CleanSession == nil || *c.CleanSession
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
