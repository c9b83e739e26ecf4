package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/gwlink/protocol"
	"github.com/luma/gwlink/storage"
)

// Store paths.
const (
	keyServerConfig  = "server_config"
	keyLoggingConfig = "logging_config"
	keyDevices       = "devices"
	keyData          = "data"
	keyRegisters     = "registers"
)

// Handler applies commands to the gateway's state and builds the replies.
type Handler struct {
	store storage.Store
	newID func(prefix string) string
	log   *zap.Logger
}

func NewHandler(store storage.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}

	return &Handler{
		store: store,
		newID: randomID,
		log:   log.Named("handler"),
	}
}

// Store returns the document the handler works on.
func (h *Handler) Store() storage.Store {
	return h.store
}

// Seed writes the factory configuration for every section that is missing.
func (h *Handler) Seed(ctx context.Context) (err error) {
	defaults := []struct {
		key string
		raw string
	}{
		{keyServerConfig, DefaultServerConfig},
		{keyLoggingConfig, DefaultLoggingConfig},
		{keyDevices, `{}`},
	}

	for _, d := range defaults {
		if _, gerr := h.store.Get(ctx, d.key); !errors.Is(gerr, storage.ErrNotFound) {
			continue
		}

		err = multierr.Append(err, h.store.SetRaw(ctx, d.key, []byte(d.raw)))
	}

	return err
}

// Handle executes cmd and returns the encoded reply.
func (h *Handler) Handle(ctx context.Context, cmd protocol.Command) []byte {
	h.log.Debug("Handling command", zap.Stringer("command", cmd))

	switch cmd.Op {
	case protocol.OpRead:
		return h.read(ctx, cmd)
	case protocol.OpCreate:
		return h.create(ctx, cmd)
	case protocol.OpUpdate:
		return h.update(ctx, cmd)
	case protocol.OpDelete:
		return h.delete(ctx, cmd)
	default:
		return errorResponse("Unsupported operation: " + string(cmd.Op))
	}
}

// DeviceExists reports whether id names a stored device.
func (h *Handler) DeviceExists(ctx context.Context, id string) bool {
	if !validID(id) {
		return false
	}

	_, err := h.store.Get(ctx, devicePath(id))
	return err == nil
}

func (h *Handler) read(ctx context.Context, cmd protocol.Command) []byte {
	switch cmd.Type {
	case protocol.TypeDevices:
		ids := []string{}
		h.devices(ctx).ForEach(func(key, _ gjson.Result) bool {
			ids = append(ids, key.String())
			return true
		})

		return okResponse(protocol.TypeDevices, ids)

	case protocol.TypeDevicesSummary:
		summary := []map[string]interface{}{}
		h.devices(ctx).ForEach(func(key, device gjson.Result) bool {
			summary = append(summary, map[string]interface{}{
				"device_id":      key.String(),
				"device_name":    device.Get("device_name").Value(),
				"protocol":       device.Get("protocol").Value(),
				"register_count": device.Get(keyRegisters + ".#").Int(),
			})
			return true
		})

		return okResponse(protocol.TypeDevicesSummary, summary)

	case protocol.TypeDevice:
		device, ok := h.device(ctx, cmd.DeviceID)
		if !ok {
			return errorResponse("Device not found")
		}

		return okRawResponse(protocol.FieldData, device.Raw)

	case protocol.TypeRegisters:
		device, ok := h.device(ctx, cmd.DeviceID)
		if !ok {
			return errorResponse("No registers found")
		}

		registers := device.Get(keyRegisters)
		if !registers.IsArray() {
			return okRawResponse(protocol.TypeRegisters, `[]`)
		}

		return okRawResponse(protocol.TypeRegisters, registers.Raw)

	case protocol.TypeRegistersSummary:
		device, ok := h.device(ctx, cmd.DeviceID)
		if !ok {
			return errorResponse("No registers found")
		}

		summary := []map[string]interface{}{}
		device.Get(keyRegisters).ForEach(func(_, reg gjson.Result) bool {
			summary = append(summary, map[string]interface{}{
				"register_id":   reg.Get("register_id").Value(),
				"register_name": reg.Get("register_name").Value(),
				"address":       reg.Get("address").Value(),
				"data_type":     reg.Get("data_type").Value(),
				"description":   reg.Get("description").Value(),
			})
			return true
		})

		return okResponse(protocol.TypeRegistersSummary, summary)

	case protocol.TypeServerConfig, protocol.TypeLoggingConfig:
		raw, err := h.store.Get(ctx, cmd.Type)
		if err != nil {
			h.log.Warn("Failed to read config", zap.String("type", cmd.Type), zap.Error(err))
			return errorResponse("Failed to get " + strings.ReplaceAll(cmd.Type, "_", " "))
		}

		return okRawResponse(cmd.Type, string(raw))

	default:
		return errorResponse("Unsupported read type: " + cmd.Type)
	}
}

func (h *Handler) create(ctx context.Context, cmd protocol.Command) []byte {
	switch cmd.Type {
	case protocol.TypeDevice:
		id := h.uniqueID(ctx, "D")

		device, err := withFields(cmd.Config, field{protocol.FieldDeviceID, `"` + id + `"`}, field{keyRegisters, `[]`})
		if err == nil {
			err = h.store.SetRaw(ctx, devicePath(id), device)
		}

		if err != nil {
			h.log.Warn("Failed to create device", zap.Error(err))
			return errorResponse("Device creation failed")
		}

		h.log.Info("Created device", zap.String("device_id", id))
		return okResponse(protocol.FieldDeviceID, id)

	case protocol.TypeRegister:
		device, ok := h.device(ctx, cmd.DeviceID)
		if !ok {
			return errorResponse("Register creation failed")
		}

		id := h.newID("R")

		reg, err := withFields(cmd.Config, field{protocol.FieldRegisterID, `"` + id + `"`})
		if err == nil {
			if !device.Get(keyRegisters).IsArray() {
				err = h.store.SetRaw(ctx, devicePath(cmd.DeviceID)+"."+keyRegisters, []byte(`[]`))
			}
		}

		if err == nil {
			err = h.store.SetRaw(ctx, devicePath(cmd.DeviceID)+"."+keyRegisters+".-1", reg)
		}

		if err != nil {
			h.log.Warn("Failed to create register", zap.String("device_id", cmd.DeviceID), zap.Error(err))
			return errorResponse("Register creation failed")
		}

		h.log.Info("Created register",
			zap.String("device_id", cmd.DeviceID),
			zap.String("register_id", id))

		return okResponse(protocol.FieldRegisterID, id)

	default:
		return errorResponse("Unsupported create type: " + cmd.Type)
	}
}

func (h *Handler) update(ctx context.Context, cmd protocol.Command) []byte {
	switch cmd.Type {
	case protocol.TypeServerConfig:
		config := gjson.ParseBytes(cmd.Config)
		if !config.Get("communication").Exists() || !config.Get("protocol").Exists() {
			return errorResponse("Server configuration update failed")
		}

		if err := h.store.SetRaw(ctx, keyServerConfig, cmd.Config); err != nil {
			h.log.Warn("Failed to store server config", zap.Error(err))
			return errorResponse("Server configuration update failed")
		}

		return okResponse(protocol.FieldMessage, "Server configuration updated")

	case protocol.TypeLoggingConfig:
		config := gjson.ParseBytes(cmd.Config)
		if !loggingRetentions[config.Get("logging_ret").String()] ||
			!loggingIntervals[config.Get("logging_interval").String()] {
			return errorResponse("Logging configuration update failed")
		}

		if err := h.store.SetRaw(ctx, keyLoggingConfig, cmd.Config); err != nil {
			h.log.Warn("Failed to store logging config", zap.Error(err))
			return errorResponse("Logging configuration update failed")
		}

		return okResponse(protocol.FieldMessage, "Logging configuration updated")

	default:
		return errorResponse("Unsupported update type: " + cmd.Type)
	}
}

func (h *Handler) delete(ctx context.Context, cmd protocol.Command) []byte {
	switch cmd.Type {
	case protocol.TypeDevice:
		if !h.DeviceExists(ctx, cmd.DeviceID) {
			return errorResponse("Device deletion failed")
		}

		if err := h.store.Delete(ctx, devicePath(cmd.DeviceID)); err != nil {
			h.log.Warn("Failed to delete device", zap.String("device_id", cmd.DeviceID), zap.Error(err))
			return errorResponse("Device deletion failed")
		}

		return okResponse(protocol.FieldMessage, "Device deleted")

	case protocol.TypeRegister:
		device, ok := h.device(ctx, cmd.DeviceID)
		if !ok || cmd.RegisterID == "" {
			return errorResponse("Register deletion failed")
		}

		index := -1
		device.Get(keyRegisters).ForEach(func(key, reg gjson.Result) bool {
			if reg.Get(protocol.FieldRegisterID).String() == cmd.RegisterID {
				index = int(key.Int())
				return false
			}
			return true
		})

		if index < 0 {
			return errorResponse("Register deletion failed")
		}

		path := devicePath(cmd.DeviceID) + "." + keyRegisters + "." + strconv.Itoa(index)
		if err := h.store.Delete(ctx, path); err != nil {
			h.log.Warn("Failed to delete register", zap.String("register_id", cmd.RegisterID), zap.Error(err))
			return errorResponse("Register deletion failed")
		}

		return okResponse(protocol.FieldMessage, "Register deleted")

	default:
		return errorResponse("Unsupported delete type: " + cmd.Type)
	}
}

func (h *Handler) devices(ctx context.Context) gjson.Result {
	raw, err := h.store.Get(ctx, keyDevices)
	if err != nil {
		return gjson.Result{}
	}

	return gjson.ParseBytes(raw)
}

func (h *Handler) device(ctx context.Context, id string) (gjson.Result, bool) {
	if !validID(id) {
		return gjson.Result{}, false
	}

	raw, err := h.store.Get(ctx, devicePath(id))
	if err != nil {
		return gjson.Result{}, false
	}

	return gjson.ParseBytes(raw), true
}

func (h *Handler) uniqueID(ctx context.Context, prefix string) string {
	for {
		id := h.newID(prefix)
		if !h.DeviceExists(ctx, id) {
			return id
		}
	}
}

func devicePath(id string) string {
	return keyDevices + "." + id
}

func dataPath(id string) string {
	return keyData + "." + id
}

// validID accepts identifiers that are safe to use as a single path
// component.
func validID(id string) bool {
	if id == "" {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}

// randomID returns prefix followed by six upper case hex digits.
func randomID(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

type field struct {
	path string
	raw  string
}

// withFields sets raw JSON values on a copy of config.
func withFields(config []byte, fields ...field) (out []byte, err error) {
	out = []byte(`{}`)
	if len(config) > 0 {
		out = append([]byte(nil), config...)
	}

	for _, f := range fields {
		if out, err = sjson.SetRawBytes(out, f.path, []byte(f.raw)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func okResponse(key string, value interface{}) []byte {
	out, err := sjson.SetBytes([]byte(`{"status":"ok"}`), key, value)
	if err != nil {
		return errorResponse(err.Error())
	}

	return out
}

func okRawResponse(key, raw string) []byte {
	out, err := sjson.SetRawBytes([]byte(`{"status":"ok"}`), key, []byte(raw))
	if err != nil {
		return errorResponse(err.Error())
	}

	return out
}

func errorResponse(message string) []byte {
	out, _ := sjson.SetBytes([]byte(`{"status":"error"}`), protocol.FieldMessage, message)
	return out
}

func dataResponse(point []byte) []byte {
	out, err := sjson.SetRawBytes([]byte(`{"status":"data"}`), protocol.FieldData, point)
	if err != nil {
		return nil
	}

	return out
}
