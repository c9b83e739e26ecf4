package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/gwlink/client"
	"github.com/luma/gwlink/protocol"
)

var (
	deviceID  string
	registers []string
)

var ReadCmd = &cobra.Command{
	Use:   "read TYPE",
	Short: "Read a resource from the gateway",
	Long: `Read a resource from the gateway.

TYPE is one of devices, devices_summary, device, registers,
registers_summary, server_config or logging_config. The device scoped types
need --device-id.

Usage
	gwlink read server_config
	gwlink read registers --device-id D1A2B3C
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			return doAndPrint(ctx, cmd.OutOrStdout(), session,
				protocol.ReadCommand(args[0]).WithDeviceID(deviceID))
		})
	},
}

var UpdateCmd = &cobra.Command{
	Use:   "update TYPE CONFIG",
	Short: "Replace a configuration document on the gateway",
	Long: `Replace a configuration document on the gateway.

CONFIG is a JSON object, or @path to read it from a file.

Usage
	gwlink update logging_config '{"logging_ret":"1m","logging_interval":"10m"}'
	gwlink update server_config @server.json
`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfigArg(args[1])
		if err != nil {
			return err
		}

		command, err := protocol.UpdateCommand(args[0], config)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			return doAndPrint(ctx, cmd.OutOrStdout(), session, command)
		})
	},
}

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create devices and registers",
}

var createDeviceCmd = &cobra.Command{
	Use:   "device CONFIG",
	Short: "Create a device, and optionally its registers",
	Long: `Create a device, and optionally its registers.

Each --register is created on the new device in the same session.

Usage
	gwlink create device '{"device_name":"meter","protocol":"RTU"}' \
		--register '{"register_name":"kwh","address":30001,"data_type":"FLOAT32"}'
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfigArg(args[0])
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			id, err := session.CreateDevice(ctx, config)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "device %s\n", id)

			for _, register := range registers {
				regConfig, err := readConfigArg(register)
				if err != nil {
					return err
				}

				regID, err := session.CreateRegister(ctx, regConfig)
				if err != nil {
					return fmt.Errorf("failed to create register on %s: %w", id, err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "register %s\n", regID)
			}

			return nil
		})
	},
}

var createRegisterCmd = &cobra.Command{
	Use:   "register CONFIG",
	Short: "Create a register on a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := readConfigArg(args[0])
		if err != nil {
			return err
		}

		command, err := protocol.CreateRegisterCommand(deviceID, config)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			return doAndPrint(ctx, cmd.OutOrStdout(), session, command)
		})
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete devices and registers",
}

var deleteDeviceCmd = &cobra.Command{
	Use:   "device DEVICE_ID",
	Short: "Delete a device and all of its registers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			return doAndPrint(ctx, cmd.OutOrStdout(), session, protocol.DeleteDeviceCommand(args[0]))
		})
	},
}

var deleteRegisterCmd = &cobra.Command{
	Use:   "register DEVICE_ID REGISTER_ID",
	Short: "Delete a register",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			return doAndPrint(ctx, cmd.OutOrStdout(), session, protocol.DeleteRegisterCommand(args[0], args[1]))
		})
	},
}

var StreamCmd = &cobra.Command{
	Use:   "stream DEVICE_ID",
	Short: "Print live readings of a device until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, session *client.Session) error {
			resp, err := session.Do(ctx, protocol.StreamCommand(args[0]))
			if err != nil {
				return err
			}

			if err := resp.ErrorOrNil(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop

				case push, ok := <-session.Stream():
					if !ok {
						break loop
					}

					fmt.Fprintln(out, push.Get(protocol.FieldData).Raw)
				}
			}

			// The interrupt cancelled ctx, stopping needs a fresh one.
			stopCtx, cancel := context.WithTimeout(context.Background(), conf.ResponseTimeout+conf.SettleDelay)
			defer cancel()

			if _, err := session.Do(stopCtx, protocol.StreamCommand(protocol.StreamStop)); err != nil {
				log.Warn("Failed to stop streaming", zap.Error(err))
			}

			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{ReadCmd, createRegisterCmd} {
		c.Flags().StringVarP(&deviceID, "device-id", "d", "", "device the command applies to")
	}

	createDeviceCmd.Flags().StringArrayVarP(&registers, "register", "r", nil, "register config to create on the new device (repeatable)")

	CreateCmd.AddCommand(createDeviceCmd, createRegisterCmd)
	DeleteCmd.AddCommand(deleteDeviceCmd, deleteRegisterCmd)
}

// withSession connects, runs fn and disconnects. ctx ends on interrupt.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, session *client.Session) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	session, err := openSession(ctx)
	if err != nil {
		return err
	}

	defer func() {
		err = multierr.Append(err, session.Close())
	}()

	return fn(ctx, session)
}

func doAndPrint(ctx context.Context, out io.Writer, session *client.Session, command protocol.Command) error {
	resp, err := session.Do(ctx, command)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, pretty(resp.Raw))

	return resp.ErrorOrNil()
}

// readConfigArg returns arg as JSON, reading it from a file when it starts
// with @.
func readConfigArg(arg string) ([]byte, error) {
	if path := strings.TrimPrefix(arg, "@"); path != arg {
		return os.ReadFile(path)
	}

	return []byte(arg), nil
}

func pretty(raw []byte) string {
	return gjson.GetBytes(raw, "@pretty").Raw
}
