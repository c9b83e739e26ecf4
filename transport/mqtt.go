package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

const DefaultMQTTConnectTimeout = 10 * time.Second

// MQTT carries fragments as MQTT publishes, one fragment per message, for
// gateways bridged onto a broker. It implements both client.Channel and Link.
//
// The link is treated as down as soon as the broker connection is lost:
// a reconnect could not resume a half received message anyway.
type MQTT struct {
	opts MQTTOptions
	log  *zap.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	cancel  context.CancelFunc
	inbound chan []byte
}

func NewMQTT(opts MQTTOptions) (*MQTT, error) {
	if _, err := url.Parse(opts.BrokerURL); err != nil || opts.BrokerURL == "" {
		return nil, fmt.Errorf("invalid mqtt broker url %q: %v", opts.BrokerURL, err)
	}

	if opts.Topics.Publish == "" || opts.Topics.Subscribe == "" {
		return nil, errors.New("mqtt publish and subscribe topics are required")
	}

	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30
	}

	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultMQTTConnectTimeout
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &MQTT{
		opts: opts,
		log: log.Named("mqtt").With(
			zap.String("broker", opts.BrokerURL),
			zap.String("publish", opts.Topics.Publish)),
	}, nil
}

func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cm != nil {
		m.mu.Unlock()
		return nil
	}

	brokerURL, _ := url.Parse(m.opts.BrokerURL)

	// The connection manager outlives ctx, which only bounds the wait for the
	// first connection.
	connCtx, cancel := context.WithCancel(context.Background())
	inbound := make(chan []byte, NotificationBufferSize)

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     m.opts.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                m.opts.ConnectTimeout,
		ConnectUsername:               m.opts.Username,
		ConnectPassword:               []byte(m.opts.Password),
		OnConnectionUp:                m.onConnectionUp,
		OnConnectError: func(err error) {
			m.log.Warn("MQTT connection failed, retrying", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.opts.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					m.route(inbound, pr.Packet)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				m.log.Warn("MQTT client error", zap.Error(err))
				m.linkDown(inbound)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				reason := ""
				if d.Properties != nil {
					reason = d.Properties.ReasonString
				}

				m.log.Warn("MQTT server disconnected", zap.String("reason", reason))
				m.linkDown(inbound)
			},
		},
	}

	cm, err := autopaho.NewConnection(connCtx, cfg)
	if err != nil {
		cancel()
		m.mu.Unlock()
		return err
	}

	m.cm, m.cancel, m.inbound = cm, cancel, inbound
	m.mu.Unlock()

	if err := cm.AwaitConnection(ctx); err != nil {
		m.Disconnect()
		return err
	}

	m.log.Info("MQTT connection established")

	return nil
}

func (m *MQTT) Disconnect() error {
	m.mu.Lock()
	cm, cancel, inbound := m.cm, m.cancel, m.inbound
	m.cm, m.cancel = nil, nil
	m.mu.Unlock()

	if cm == nil {
		return nil
	}

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	err := cm.Disconnect(ctx)
	if err != nil {
		m.log.Debug("MQTT disconnect was not clean", zap.Error(err))
	}

	cancel()
	m.linkDown(inbound)

	return err
}

func (m *MQTT) Send(ctx context.Context, fragment []byte) error {
	m.mu.Lock()
	cm := m.cm
	m.mu.Unlock()

	if cm == nil {
		return ErrNotConnected
	}

	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   m.opts.Topics.Publish,
		QoS:     m.opts.QoS,
		Payload: append([]byte(nil), fragment...),
	})

	return err
}

func (m *MQTT) Notifications() <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inbound == nil {
		return closedNotifications
	}

	return m.inbound
}

func (m *MQTT) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: m.opts.Topics.Subscribe, QoS: m.opts.QoS},
		},
	}); err != nil {
		m.log.Error("Failed to subscribe", zap.String("topic", m.opts.Topics.Subscribe), zap.Error(err))
	}
}

func (m *MQTT) route(inbound chan []byte, p *paho.Publish) {
	if p.Topic != m.opts.Topics.Subscribe {
		m.log.Debug("Received message on unhandled topic", zap.String("topic", p.Topic))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inbound != inbound {
		return
	}

	select {
	case inbound <- append([]byte(nil), p.Payload...):
	default:
		m.log.Warn("Notification buffer full, dropping fragment")
	}
}

// linkDown closes inbound once. Fragments routed afterwards are ignored.
func (m *MQTT) linkDown(inbound chan []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inbound == nil || m.inbound != inbound {
		return
	}

	close(inbound)
	m.inbound = nil

	if m.cancel != nil {
		m.cancel()
		m.cm, m.cancel = nil, nil
	}
}
