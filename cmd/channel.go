package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/gwlink/client"
	"github.com/luma/gwlink/internal/env"
	"github.com/luma/gwlink/transport"
)

// newChannel builds the controller side link selected by conf.
func newChannel(conf *env.Config, log *zap.Logger) (client.Channel, error) {
	switch conf.Transport {
	case "tcp":
		return transport.NewTCPChannel(conf.TCPAddr, log), nil

	case "mqtt":
		return transport.NewMQTT(mqttOptions(conf, transport.ControllerTopics(conf.MQTTTopicPrefix), log))

	default:
		return nil, fmt.Errorf("unknown transport %q, expected tcp or mqtt", conf.Transport)
	}
}

func mqttOptions(conf *env.Config, topics transport.MQTTTopics, log *zap.Logger) transport.MQTTOptions {
	clientID := conf.MQTTClientID
	if clientID == "" {
		clientID = "gwlink-" + uuid.NewString()[:8]
	}

	return transport.MQTTOptions{
		BrokerURL: conf.MQTTBroker,
		ClientID:  clientID,
		Username:  conf.MQTTUsername,
		Password:  conf.MQTTPassword,
		Topics:    topics,
		QoS:       1,
		Log:       log,
	}
}

// openSession connects a session to the configured gateway.
func openSession(ctx context.Context) (*client.Session, error) {
	ch, err := newChannel(conf, log)
	if err != nil {
		return nil, err
	}

	opts := conf.SessionOptions()
	opts.Log = log

	session := client.NewSession(ch, opts)
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}

	return session, nil
}
