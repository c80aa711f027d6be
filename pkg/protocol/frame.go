package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedFrame is returned for inbound frames that cannot be parsed.
// A malformed frame is reported and skipped; it never tears down the
// connection by itself.
var ErrMalformedFrame = errors.New("protocol: malformed callback frame")

// ParseCallbackFrame parses an inbound callback invocation frame.
//
// The frame is "<id>:<json-array-of-args>", or a bare "<id>" for a
// zero-argument call.
func ParseCallbackFrame(data []byte) (id uint64, args []any, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, nil, ErrMalformedFrame
	}

	idPart := data
	var argsPart []byte
	if i := bytes.IndexByte(data, ':'); i >= 0 {
		idPart = data[:i]
		argsPart = data[i+1:]
	}

	id, err = strconv.ParseUint(string(idPart), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad id %q", ErrMalformedFrame, idPart)
	}

	if len(bytes.TrimSpace(argsPart)) == 0 {
		return id, nil, nil
	}
	if err := json.Unmarshal(argsPart, &args); err != nil {
		return 0, nil, fmt.Errorf("%w: bad args: %v", ErrMalformedFrame, err)
	}
	return id, args, nil
}

// EncodeCallbackFrame encodes a callback invocation frame. A nil or empty
// args slice produces the bare-id form.
func EncodeCallbackFrame(id uint64, args []any) ([]byte, error) {
	if len(args) == 0 {
		return []byte(strconv.FormatUint(id, 10)), nil
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, 21+len(encoded))
	frame = strconv.AppendUint(frame, id, 10)
	frame = append(frame, ':')
	frame = append(frame, encoded...)
	return frame, nil
}
