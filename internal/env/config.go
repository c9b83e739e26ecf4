package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/gwlink/client"
	"github.com/luma/gwlink/protocol"
)

type Config struct {
	LogLevel  string `env:"GWLINK_LOG_LEVEL,default=info"`
	DebugHTTP bool   `env:"GWLINK_DEBUG_HTTP"`

	// Transport selects the link to the gateway: tcp or mqtt.
	Transport string `env:"GWLINK_TRANSPORT,default=tcp"`
	TCPAddr   string `env:"GWLINK_TCP_ADDR,default=127.0.0.1:7363"`

	MQTTBroker      string `env:"GWLINK_MQTT_BROKER,default=mqtt://127.0.0.1:1883"`
	MQTTClientID    string `env:"GWLINK_MQTT_CLIENT_ID"`
	MQTTUsername    string `env:"GWLINK_MQTT_USERNAME"`
	MQTTPassword    string `env:"GWLINK_MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"GWLINK_MQTT_TOPIC_PREFIX,default=gwlink/gateway"`

	FragmentSize    int           `env:"GWLINK_FRAGMENT_SIZE,default=18"`
	FragmentDelay   time.Duration `env:"GWLINK_FRAGMENT_DELAY,default=100ms"`
	SettleDelay     time.Duration `env:"GWLINK_SETTLE_DELAY,default=2s"`
	ResponseTimeout time.Duration `env:"GWLINK_RESPONSE_TIMEOUT,default=10s"`
	StallTimeout    time.Duration `env:"GWLINK_STALL_TIMEOUT"`
	MaxMessageSize  int           `env:"GWLINK_MAX_MESSAGE_SIZE,default=4096"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// SessionOptions maps the timing and framing settings onto client options.
func (c *Config) SessionOptions() client.Options {
	opts := client.DefaultOptions()

	opts.FragmentSize = c.FragmentSize
	if opts.FragmentSize == 0 {
		opts.FragmentSize = protocol.DefaultFragmentSize
	}

	opts.FragmentDelay = c.FragmentDelay
	opts.SettleDelay = c.SettleDelay
	opts.ResponseTimeout = c.ResponseTimeout
	opts.StallTimeout = c.StallTimeout
	opts.MaxMessageSize = c.MaxMessageSize

	return opts
}
