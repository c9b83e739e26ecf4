package protocol

import (
	"github.com/tidwall/gjson"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusData  = "data"
)

// Response is one complete message received from the gateway. Raw is always
// a valid JSON document.
type Response struct {
	Raw []byte
}

// NewResponse wraps a reassembled message, returning a ParseError when raw is
// not valid JSON.
func NewResponse(raw []byte) (Response, error) {
	if !gjson.ValidBytes(raw) {
		return Response{}, &ParseError{Raw: string(raw)}
	}

	return Response{Raw: raw}, nil
}

// Get returns the value at a gjson path.
func (r Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

func (r Response) Status() string {
	return r.Get(FieldStatus).String()
}

func (r Response) OK() bool {
	return r.Status() == StatusOK
}

// IsData reports whether this is an unsolicited streaming data push rather
// than the reply to a command.
func (r Response) IsData() bool {
	return r.Status() == StatusData
}

func (r Response) Message() string {
	return r.Get(FieldMessage).String()
}

// ErrorOrNil returns a RemoteError if the gateway reported a failure.
// Otherwise it returns nil.
func (r Response) ErrorOrNil() error {
	if r.Status() == StatusError {
		return &RemoteError{Message: r.Message()}
	}

	return nil
}

// Map returns the response as a generic mapping. ok is false when the
// response is not a JSON object.
func (r Response) Map() (m map[string]interface{}, ok bool) {
	m, ok = gjson.ParseBytes(r.Raw).Value().(map[string]interface{})
	return m, ok
}

func (r Response) String() string {
	return string(r.Raw)
}
