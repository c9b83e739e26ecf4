package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/gwlink/cmd/gen"
	"github.com/luma/gwlink/internal/env"
	"github.com/luma/gwlink/internal/meta"
)

var (
	// Loaded in PersistentPreRunE, with flags applied on top
	conf *env.Config
	log  *zap.Logger

	logLevel      string
	transportName string
	tcpAddr       string
	mqttBroker    string
	mqttPrefix    string
	fragmentDelay time.Duration
	settleDelay   time.Duration
	timeout       time.Duration
)

var RootCmd = &cobra.Command{
	Use:   "gwlink",
	Short: "Configure gateways over a fragmented JSON command link",
	Long: `gwlink talks to gateway peripherals that only accept short writes.

Commands are encoded as compact JSON, split into 18 byte fragments and
terminated by an <END> fragment. Replies are reassembled the same way.

Settings come from GWLINK_* environment variables (and .env.local), flags
override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if conf, err = env.LoadConfig(cmd.Context()); err != nil {
			return err
		}

		applyFlags(cmd, conf)

		log, err = env.MakeLogger(conf.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), meta.GetInfo())
	},
}

func init() {
	flags := RootCmd.PersistentFlags()

	flags.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVarP(&transportName, "transport", "t", "tcp", "link to the gateway: tcp or mqtt")
	flags.StringVar(&tcpAddr, "addr", "127.0.0.1:7363", "gateway address for the tcp transport")
	flags.StringVar(&mqttBroker, "mqtt-broker", "mqtt://127.0.0.1:1883", "broker url for the mqtt transport")
	flags.StringVar(&mqttPrefix, "mqtt-prefix", "gwlink/gateway", "topic prefix of the gateway for the mqtt transport")
	flags.DurationVar(&fragmentDelay, "fragment-delay", 100*time.Millisecond, "pause between fragments")
	flags.DurationVar(&settleDelay, "settle-delay", 2*time.Second, "pause after the end marker")
	flags.DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for a reply")

	RootCmd.AddCommand(
		StartCmd,
		EmulateCmd,
		ReadCmd,
		UpdateCmd,
		CreateCmd,
		DeleteCmd,
		StreamCmd,
		VersionCmd,
		gen.RootCmd,
	)
}

// applyFlags overrides the environment with every flag set on the command
// line.
func applyFlags(cmd *cobra.Command, conf *env.Config) {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		conf.LogLevel = logLevel
	}

	if flags.Changed("transport") {
		conf.Transport = transportName
	}

	if flags.Changed("addr") {
		conf.TCPAddr = tcpAddr
	}

	if flags.Changed("mqtt-broker") {
		conf.MQTTBroker = mqttBroker
	}

	if flags.Changed("mqtt-prefix") {
		conf.MQTTTopicPrefix = mqttPrefix
	}

	if flags.Changed("fragment-delay") {
		conf.FragmentDelay = fragmentDelay
	}

	if flags.Changed("settle-delay") {
		conf.SettleDelay = settleDelay
	}

	if flags.Changed("timeout") {
		conf.ResponseTimeout = timeout
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
