// Package cql implements the client side of the CQL binary protocol
// (version 4): frame encoding and decoding, the protocol notation
// primitives, request bodies and response parsing.
package cql

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

const (
	protoVersionRequest  = 0x04
	protoVersionResponse = 0x84

	// headerLength is the fixed size of a v4 frame header:
	// version, flags, stream (2), opcode, body length (4).
	headerLength = 9

	// maxFrameLength bounds the body length we accept from the server.
	// The protocol caps frames at 256MB.
	maxFrameLength = 256 * 1024 * 1024
)

// Opcode identifies the message carried by a frame.
type Opcode byte

const (
	OpError        Opcode = 0x00
	OpStartup      Opcode = 0x01
	OpReady        Opcode = 0x02
	OpAuthenticate Opcode = 0x03
	OpOptions      Opcode = 0x05
	OpSupported    Opcode = 0x06
	OpQuery        Opcode = 0x07
	OpResult       Opcode = 0x08
	OpPrepare      Opcode = 0x09
	OpExecute      Opcode = 0x0A
	OpRegister     Opcode = 0x0B
	OpEvent        Opcode = 0x0C
	OpBatch        Opcode = 0x0D
	OpAuthSuccess  Opcode = 0x10
)

func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	case OpPrepare:
		return "PREPARE"
	case OpExecute:
		return "EXECUTE"
	case OpRegister:
		return "REGISTER"
	case OpEvent:
		return "EVENT"
	case OpBatch:
		return "BATCH"
	case OpAuthSuccess:
		return "AUTH_SUCCESS"
	default:
		return fmt.Sprintf("UNKNOWN_OP_0x%02x", byte(o))
	}
}

// Frame is one decoded protocol frame. Body is the raw, undecoded payload;
// ParseResponse interprets it according to the opcode.
type Frame struct {
	Version byte
	Flags   byte
	Stream  int16
	Opcode  Opcode
	Body    []byte
}

// Decode slices one complete frame off the front of buf. When buf holds a
// full frame it returns the frame and the remaining bytes. When buf is too
// short it returns (nil, buf, nil) and the caller should retry once more
// bytes have arrived. A header that cannot belong to a v4 frame is an error;
// the connection treats it as a transport failure.
func Decode(buf []byte) (*Frame, []byte, error) {
	if len(buf) < headerLength {
		return nil, buf, nil
	}

	version := buf[0]
	if version != protoVersionRequest && version != protoVersionResponse {
		return nil, buf, errors.Errorf("cql: unsupported protocol version 0x%02x", version)
	}
	opcode := Opcode(buf[4])
	if opcode > OpAuthSuccess || opcode == 0x04 {
		return nil, buf, errors.Errorf("cql: invalid opcode 0x%02x", byte(opcode))
	}
	length := binary.BigEndian.Uint32(buf[5:9])
	if length > maxFrameLength {
		return nil, buf, errors.Errorf("cql: frame length %d exceeds maximum", length)
	}
	if len(buf) < headerLength+int(length) {
		return nil, buf, nil
	}

	frame := &Frame{
		Version: version,
		Flags:   buf[1],
		Stream:  int16(binary.BigEndian.Uint16(buf[2:4])),
		Opcode:  opcode,
		Body:    buf[headerLength : headerLength+int(length)],
	}
	return frame, buf[headerLength+int(length):], nil
}

// Encode serializes a request under the given stream id.
func Encode(req Request, stream int16) ([]byte, error) {
	body, err := req.body()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLength+len(body))
	out = append(out, protoVersionRequest, 0)
	out = appendShort(out, uint16(stream))
	out = append(out, byte(req.Opcode()))
	out = appendInt(out, int32(len(body)))
	out = append(out, body...)
	return out, nil
}
