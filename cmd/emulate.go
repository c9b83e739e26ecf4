package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luma/gwlink/gateway"
	"github.com/luma/gwlink/storage"
	"github.com/luma/gwlink/transport"
)

var (
	// The address the emulated gateway listens on
	listenAddr string

	// File the emulated gateway's document is restored from and saved to
	stateFile string

	sampleInterval time.Duration
)

func init() {
	flags := EmulateCmd.Flags()

	flags.StringVarP(&listenAddr, "listen", "l", "0.0.0.0:7363", "The address to accept tcp controllers on")
	flags.StringVar(&stateFile, "state", "", "JSON file to load the gateway configuration from and save it to on exit")
	flags.DurationVar(&sampleInterval, "sample-interval", gateway.DefaultSampleInterval, "How often registers produce a reading")
}

var EmulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an emulated gateway",
	Long: `Run an emulated gateway

Answers the command set of the gateway firmware over the selected transport
and produces synthetic register readings for streaming.

Usage
	gwlink emulate --listen 127.0.0.1:7363 --state gateway.json
	gwlink emulate -t mqtt --mqtt-prefix site/gw1

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var serve func(context.Context, *gateway.Peripheral) error

		switch conf.Transport {
		case "tcp":
			serve = serveTCP
		case "mqtt":
			serve = serveMQTT
		default:
			return fmt.Errorf("unknown transport %q, expected tcp or mqtt", conf.Transport)
		}

		ctx, signalStop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		store := storage.NewInmemoryStore()
		defer func() {
			err = multierr.Append(err, store.Close())
		}()

		if err := restoreState(store, stateFile); err != nil {
			return err
		}

		handler := gateway.NewHandler(store, log)
		if err := handler.Seed(ctx); err != nil {
			return err
		}

		peripheral := gateway.NewPeripheral(handler, gateway.PeripheralOptions{
			FragmentSize:  conf.FragmentSize,
			FragmentDelay: gateway.DefaultFragmentDelay,
			Log:           log,
		})

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return gateway.NewSampler(handler, sampleInterval, log).Run(gctx)
		})

		g.Go(func() error {
			return serve(gctx, peripheral)
		})

		err = g.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}

		log.Info("Exiting")

		return multierr.Append(err, saveState(store, stateFile))
	},
}

func serveTCP(ctx context.Context, peripheral *gateway.Peripheral) error {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	fileLimit, err := setFileLimit()
	if err != nil {
		return err
	}

	log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

	tcp := transport.NewTCP(transport.Options{
		Host:      host,
		Port:      port,
		Reuseport: true,
		Handler:   peripheral.Serve,
		Log:       log.Named("transport"),
	})

	if err := tcp.Start(ctx); err != nil {
		return err
	}

	log.Info("Emulating gateway", zap.Stringer("addr", tcp.Addr()))

	<-ctx.Done()

	if err := tcp.Close(); err != nil {
		log.Error("TCP server forced to shutdown", zap.Error(err))
	}

	return ctx.Err()
}

// serveMQTT plays the gateway side of the topic pair until ctx ends. A lost
// broker connection is retried.
func serveMQTT(ctx context.Context, peripheral *gateway.Peripheral) error {
	link, err := transport.NewMQTT(mqttOptions(conf, transport.PeripheralTopics(conf.MQTTTopicPrefix), log))
	if err != nil {
		return err
	}

	for {
		if err := link.Connect(ctx); err != nil {
			return err
		}

		log.Info("Emulating gateway", zap.String("prefix", conf.MQTTTopicPrefix))

		if err := peripheral.Serve(ctx, link); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Peripheral stopped", zap.Error(err))
		}

		if err := link.Disconnect(); err != nil {
			log.Debug("MQTT disconnect", zap.Error(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func restoreState(store *storage.InmemoryStore, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info("No saved state, starting from factory defaults", zap.String("path", path))
		return nil
	}

	if err != nil {
		return err
	}

	return store.Restore(raw)
}

func saveState(store *storage.InmemoryStore, path string) error {
	if path == "" {
		return nil
	}

	raw, err := store.Backup()
	if err != nil {
		return err
	}

	log.Info("Saving state", zap.String("path", path))

	return os.WriteFile(path, raw, 0o644)
}
