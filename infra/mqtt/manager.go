// Package mqtt maintains the broker connection for the ingestion
// pipeline: it connects with exponential backoff behind a circuit
// breaker, replays device subscriptions on every (re)connect and
// announces liveness through a retained status topic with a matching
// last-will.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/enermesh/telemetrix/core/breaker"
	"github.com/enermesh/telemetrix/core/logger"
	"github.com/enermesh/telemetrix/core/metrics"
	infralogger "github.com/enermesh/telemetrix/infra/logger"
)

// State describes the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// pahoClient is the slice of paho.Client the manager uses; tests swap
// in a fake through newMQTTClient.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Handler receives every message arriving on a subscribed topic. It
// must not block; the dispatch pool's Enqueue satisfies that.
type Handler func(topic string, payload []byte)

// Manager owns the broker session. Reconnection is handled here, not
// by paho: the supervisor loop doubles its delay from the configured
// minimum to the maximum and a circuit breaker stops hammering a
// broker that keeps refusing us.
type Manager struct {
	cfg     Config
	handler Handler
	topics  func() []string
	brk     *breaker.Breaker
	metrics metrics.Sink
	log     logger.Logger

	mu         sync.Mutex
	cli        pahoClient
	state      State
	subscribed []string

	lost chan struct{}
	done chan struct{}
}

// NewManager builds a Manager. topics is consulted on every connect so
// device changes picked up between reconnects need no extra plumbing.
func NewManager(cfg Config, topics func() []string, handler Handler, m metrics.Sink) *Manager {
	cfg.SetDefaults()
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Manager{
		cfg:     cfg,
		handler: handler,
		topics:  topics,
		brk:     breaker.New(cfg.BreakerThreshold, time.Duration(cfg.BreakerResetS)*time.Second),
		metrics: m,
		log:     infralogger.New("mqtt_manager"),
		lost:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.metrics.SetConnected(s == StateConnected)
}

// Run supervises the connection until ctx is cancelled. It blocks.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	backoff := time.Duration(m.cfg.MinBackoffMS) * time.Millisecond
	maxBackoff := time.Duration(m.cfg.MaxBackoffMS) * time.Millisecond

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.brk.CanExecute() {
			m.log.Warnf("circuit breaker open, holding off broker %s", m.cfg.Broker)
			if !sleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		m.setState(StateConnecting)
		cli := newMQTTClient(m.clientOptions())
		token := cli.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			m.brk.RecordFailure()
			m.setState(StateDisconnected)
			m.log.Errorf("connect to %s failed: %v (retry in %s)", m.cfg.Broker, err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		m.brk.RecordSuccess()
		backoff = time.Duration(m.cfg.MinBackoffMS) * time.Millisecond
		m.onConnected(cli)

		select {
		case <-ctx.Done():
			m.shutdown(cli)
			return ctx.Err()
		case <-m.lost:
			m.setState(StateDisconnected)
			// Release the dead client's network goroutines before
			// dialing a fresh one.
			cli.Disconnect(0)
			m.mu.Lock()
			m.cli = nil
			m.mu.Unlock()
			m.log.Warnf("connection to %s lost", m.cfg.Broker)
		}
	}
}

// Wait blocks until Run has returned.
func (m *Manager) Wait() { <-m.done }

func (m *Manager) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions().AddBroker(m.cfg.Broker).SetClientID(m.cfg.ClientID)
	// The supervisor loop owns reconnection.
	opts.AutoReconnect = false
	opts.SetCleanSession(m.cfg.CleanStart())
	opts.SetKeepAlive(time.Duration(m.cfg.KeepAliveS) * time.Second)
	// Shorter than the keepalive so a dead broker fails fast into the
	// backoff loop.
	opts.SetConnectTimeout(time.Duration(m.cfg.ConnectTimeoutS) * time.Second)
	if m.cfg.AuthMethod == "username_password" || m.cfg.AuthMethod == "both" || m.cfg.AuthMethod == "" {
		if m.cfg.Username != "" {
			opts.SetUsername(m.cfg.Username)
		}
		if m.cfg.Password != "" {
			opts.SetPassword(m.cfg.Password)
		}
	}
	if m.cfg.UseTLS {
		if tlsCfg, err := m.cfg.LoadTLSConfig(); err == nil {
			opts.SetTLSConfig(tlsCfg)
		} else {
			m.log.Errorf("tls config: %v", err)
		}
	}
	opts.SetBinaryWill(m.cfg.StatusTopic, statusPayload("offline", 0), m.cfg.SubscribeQoS, true)
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		select {
		case m.lost <- struct{}{}:
		default:
		}
	}
	return opts
}

// onConnected replays subscriptions and announces liveness.
func (m *Manager) onConnected(cli pahoClient) {
	topics := m.topics()
	for _, topic := range topics {
		t := cli.Subscribe(topic, m.cfg.SubscribeQoS, func(_ paho.Client, msg paho.Message) {
			m.handler(msg.Topic(), msg.Payload())
		})
		if t.Wait() && t.Error() != nil {
			m.log.Errorf("subscribe %s: %v", topic, t.Error())
		}
	}

	m.mu.Lock()
	m.cli = cli
	m.subscribed = topics
	m.mu.Unlock()
	m.setState(StateConnected)

	pt := cli.Publish(m.cfg.StatusTopic, m.cfg.SubscribeQoS, true, statusPayload("online", len(topics)))
	if pt.Wait() && pt.Error() != nil {
		m.log.Warnf("status publish: %v", pt.Error())
	}
	m.log.Infof("connected to %s, %d topics subscribed", m.cfg.Broker, len(topics))
}

// RefreshSubscriptions re-syncs the live session with the topic
// source after a device change. A no-op while disconnected; the next
// connect replays from the source anyway.
func (m *Manager) RefreshSubscriptions() {
	m.mu.Lock()
	cli := m.cli
	old := m.subscribed
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || cli == nil {
		return
	}

	if len(old) > 0 {
		if t := cli.Unsubscribe(old...); t.Wait() && t.Error() != nil {
			m.log.Warnf("unsubscribe: %v", t.Error())
		}
	}
	topics := m.topics()
	for _, topic := range topics {
		t := cli.Subscribe(topic, m.cfg.SubscribeQoS, func(_ paho.Client, msg paho.Message) {
			m.handler(msg.Topic(), msg.Payload())
		})
		if t.Wait() && t.Error() != nil {
			m.log.Errorf("subscribe %s: %v", topic, t.Error())
		}
	}
	m.mu.Lock()
	m.subscribed = topics
	m.mu.Unlock()
	m.log.Infof("subscriptions refreshed, %d topics", len(topics))
}

// shutdown publishes the retained offline status, drops subscriptions
// and closes the session.
func (m *Manager) shutdown(cli pahoClient) {
	m.setState(StateDisconnected)
	if cli.IsConnected() {
		if t := cli.Publish(m.cfg.StatusTopic, m.cfg.SubscribeQoS, true, statusPayload("offline", 0)); t.Wait() && t.Error() != nil {
			m.log.Warnf("offline status publish: %v", t.Error())
		}
		m.mu.Lock()
		subscribed := m.subscribed
		m.mu.Unlock()
		if len(subscribed) > 0 {
			if t := cli.Unsubscribe(subscribed...); t.Wait() && t.Error() != nil {
				m.log.Warnf("unsubscribe: %v", t.Error())
			}
		}
	}
	cli.Disconnect(250)
	m.log.Infof("mqtt session closed")
}

func statusPayload(status string, topicCount int) []byte {
	b, _ := json.Marshal(map[string]any{
		"status":             status,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
		"active_topic_count": topicCount,
	})
	return b
}

// sleep pauses for d unless ctx ends first. Returns false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
