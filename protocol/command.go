package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Op string

const (
	OpRead   Op = "read"
	OpUpdate Op = "update"
	OpCreate Op = "create"
	OpDelete Op = "delete"
)

// Resource types the gateway understands. Type is an open string on Command,
// these are only the ones gwlink has helpers for.
const (
	TypeServerConfig     = "server_config"
	TypeLoggingConfig    = "logging_config"
	TypeDevice           = "device"
	TypeDevices          = "devices"
	TypeDevicesSummary   = "devices_summary"
	TypeRegister         = "register"
	TypeRegisters        = "registers"
	TypeRegistersSummary = "registers_summary"
	TypeData             = "data"
)

const (
	FieldOp         = "op"
	FieldType       = "type"
	FieldDeviceID   = "device_id"
	FieldDevice     = "device"
	FieldRegisterID = "register_id"
	FieldConfig     = "config"
	FieldStatus     = "status"
	FieldMessage    = "message"
	FieldData       = "data"
)

// StreamStop is the `device` value that halts data streaming.
const StreamStop = "stop"

// Command is a single controller instruction. It is a value type: the With*
// methods return modified copies and never touch the receiver.
type Command struct {
	Op         Op
	Type       string
	DeviceID   string
	Device     string
	RegisterID string

	// Config is the compact JSON encoding of the operation's config object.
	Config json.RawMessage
}

func NewCommand(op Op, typ string) Command {
	return Command{Op: op, Type: typ}
}

func ReadCommand(typ string) Command {
	return NewCommand(OpRead, typ)
}

func UpdateCommand(typ string, config interface{}) (Command, error) {
	return NewCommand(OpUpdate, typ).WithConfig(config)
}

func CreateDeviceCommand(config interface{}) (Command, error) {
	return NewCommand(OpCreate, TypeDevice).WithConfig(config)
}

// CreateRegisterCommand builds a register creation. deviceID may be left empty
// for a session to fill in from the last created device.
func CreateRegisterCommand(deviceID string, config interface{}) (Command, error) {
	return NewCommand(OpCreate, TypeRegister).WithDeviceID(deviceID).WithConfig(config)
}

func DeleteDeviceCommand(deviceID string) Command {
	return NewCommand(OpDelete, TypeDevice).WithDeviceID(deviceID)
}

func DeleteRegisterCommand(deviceID, registerID string) Command {
	cmd := NewCommand(OpDelete, TypeRegister).WithDeviceID(deviceID)
	cmd.RegisterID = registerID
	return cmd
}

// StreamCommand starts streaming data points for device, or stops streaming
// when device is StreamStop.
func StreamCommand(device string) Command {
	cmd := ReadCommand(TypeData)
	cmd.Device = device
	return cmd
}

func (c Command) WithDeviceID(deviceID string) Command {
	c.DeviceID = deviceID
	return c
}

// WithConfig encodes config as the command's config object. config may be a
// Go value, or already encoded JSON as []byte, json.RawMessage or string.
func (c Command) WithConfig(config interface{}) (Command, error) {
	var (
		raw []byte
		err error
	)

	switch v := config.(type) {
	case nil:
		c.Config = nil
		return c, nil

	case json.RawMessage:
		raw, err = compactJSON(v)

	case []byte:
		raw, err = compactJSON(v)

	case string:
		raw, err = compactJSON([]byte(v))

	default:
		raw, err = encodeJSON(v)
	}

	if err != nil {
		return c, fmt.Errorf("%w: config: %v", ErrInvalidCommand, err)
	}

	if !gjson.ParseBytes(raw).IsObject() {
		return c, fmt.Errorf("%w: config must be a JSON object", ErrInvalidCommand)
	}

	c.Config = raw
	return c, nil
}

// Field returns the named identifier field, or "" when it is unset or not an
// identifier field.
func (c Command) Field(name string) string {
	switch name {
	case FieldDeviceID:
		return c.DeviceID
	case FieldDevice:
		return c.Device
	case FieldRegisterID:
		return c.RegisterID
	default:
		return ""
	}
}

// WithField sets the named identifier field. Unknown names leave the command
// unchanged.
func (c Command) WithField(name, value string) Command {
	switch name {
	case FieldDeviceID:
		c.DeviceID = value
	case FieldDevice:
		c.Device = value
	case FieldRegisterID:
		c.RegisterID = value
	}

	return c
}

// Dependencies lists the identifier fields this command takes from an
// earlier exchange when the caller leaves them empty.
func (c Command) Dependencies() []string {
	if c.Op == OpCreate && c.Type == TypeRegister {
		return []string{FieldDeviceID}
	}

	return nil
}

func (c Command) requiredFields() []string {
	switch {
	case c.Op == OpCreate && c.Type == TypeRegister:
		return []string{FieldDeviceID}
	case c.Op == OpRead && (c.Type == TypeDevice || c.Type == TypeRegisters || c.Type == TypeRegistersSummary):
		return []string{FieldDeviceID}
	case c.Op == OpRead && c.Type == TypeData:
		return []string{FieldDevice}
	case c.Op == OpDelete && c.Type == TypeDevice:
		return []string{FieldDeviceID}
	case c.Op == OpDelete && c.Type == TypeRegister:
		return []string{FieldDeviceID, FieldRegisterID}
	}

	return nil
}

func (c Command) Validate() error {
	switch c.Op {
	case OpRead, OpUpdate, OpCreate, OpDelete:
	default:
		return fmt.Errorf("%w: unsupported op %q", ErrInvalidCommand, c.Op)
	}

	if c.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidCommand)
	}

	if (c.Op == OpUpdate || c.Op == OpCreate) && len(c.Config) == 0 {
		return fmt.Errorf("%w: %s %s requires a config", ErrInvalidCommand, c.Op, c.Type)
	}

	for _, field := range c.requiredFields() {
		if c.Field(field) == "" {
			return fmt.Errorf("%w: %s %s requires %s", ErrInvalidCommand, c.Op, c.Type, field)
		}
	}

	return nil
}

// Marshal returns the compact JSON encoding of the command. Keys are always
// written in the same order and nothing is HTML escaped, so the same command
// always costs the same number of fragments.
func (c Command) Marshal() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	doc := []byte("{}")

	fields := []struct {
		path  string
		value string
	}{
		{FieldOp, string(c.Op)},
		{FieldType, c.Type},
		{FieldDeviceID, c.DeviceID},
		{FieldDevice, c.Device},
		{FieldRegisterID, c.RegisterID},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}

		value, err := encodeJSON(f.value)
		if err != nil {
			return nil, err
		}

		if doc, err = sjson.SetRawBytes(doc, f.path, value); err != nil {
			return nil, err
		}
	}

	if len(c.Config) > 0 {
		var err error
		if doc, err = sjson.SetRawBytes(doc, FieldConfig, c.Config); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func (c Command) String() string {
	s := string(c.Op) + " " + c.Type
	if c.DeviceID != "" {
		s += " " + c.DeviceID
	}

	return s
}

// ParseCommand decodes a command from its JSON encoding. It does not validate
// the command, the gateway reports unsupported ops and types itself.
func ParseCommand(raw []byte) (Command, error) {
	if !gjson.ValidBytes(raw) {
		return Command{}, &ParseError{Raw: string(raw)}
	}

	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Command{}, fmt.Errorf("%w: not a JSON object", ErrInvalidCommand)
	}

	cmd := Command{
		Op:         Op(doc.Get(FieldOp).String()),
		Type:       doc.Get(FieldType).String(),
		DeviceID:   doc.Get(FieldDeviceID).String(),
		Device:     doc.Get(FieldDevice).String(),
		RegisterID: doc.Get(FieldRegisterID).String(),
	}

	if config := doc.Get(FieldConfig); config.Exists() && config.IsObject() {
		compacted, err := compactJSON([]byte(config.Raw))
		if err != nil {
			return Command{}, fmt.Errorf("%w: config: %v", ErrInvalidCommand, err)
		}

		cmd.Config = compacted
	}

	return cmd, nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func compactJSON(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
