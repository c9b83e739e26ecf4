package transport

import (
	"time"

	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on. Zero picks a free port, see TCP.Addr().
	Port int

	// Reuseport controls setting SO_REUSEPORT. It is required for more than
	// one listener.
	Reuseport bool

	NumListeners int

	// Handler serves every accepted connection.
	Handler Handler

	Log *zap.Logger
}

type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// Topics decides which side of the link this client plays.
	Topics MQTTTopics

	QoS            byte
	KeepAlive      uint16
	ConnectTimeout time.Duration

	Log *zap.Logger
}

// MQTTTopics are the two topics fragments travel on.
type MQTTTopics struct {
	Publish   string
	Subscribe string
}

// ControllerTopics publishes commands and subscribes to responses under
// prefix.
func ControllerTopics(prefix string) MQTTTopics {
	return MQTTTopics{Publish: prefix + "/command", Subscribe: prefix + "/response"}
}

// PeripheralTopics is the mirror of ControllerTopics.
func PeripheralTopics(prefix string) MQTTTopics {
	return MQTTTopics{Publish: prefix + "/response", Subscribe: prefix + "/command"}
}
