package cql

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

var errShortBody = errors.New("cql: truncated frame body")

// reader walks a frame body using the protocol notation ([int], [short],
// [string], [bytes], ...). All integers are big-endian.
type reader struct {
	buf []byte
}

func (r *reader) readByte() (byte, error) {
	if len(r.buf) < 1 {
		return 0, errShortBody
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *reader) readShort() (uint16, error) {
	if len(r.buf) < 2 {
		return 0, errShortBody
	}
	v := binary.BigEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v, nil
}

func (r *reader) readInt() (int32, error) {
	if len(r.buf) < 4 {
		return 0, errShortBody
	}
	v := int32(binary.BigEndian.Uint32(r.buf))
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) readLong() (int64, error) {
	if len(r.buf) < 8 {
		return 0, errShortBody
	}
	v := int64(binary.BigEndian.Uint64(r.buf))
	r.buf = r.buf[8:]
	return v, nil
}

func (r *reader) read(n int) ([]byte, error) {
	if n < 0 || len(r.buf) < n {
		return nil, errShortBody
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readShort()
	if err != nil {
		return "", err
	}
	b, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) readLongString() (string, error) {
	n, err := r.readInt()
	if err != nil {
		return "", err
	}
	b, err := r.read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readBytes reads an [int]-prefixed byte value. A negative length denotes
// null and yields nil.
func (r *reader) readBytes() ([]byte, error) {
	n, err := r.readInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b, err := r.read(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) readShortBytes() ([]byte, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	b, err := r.read(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) readStringList() ([]string, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *reader) readStringMultimap() (map[string][]string, error) {
	n, err := r.readShort()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, n)
	for i := 0; i < int(n); i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.readStringList()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// readInet reads an [inet]: address size, address bytes and an [int] port.
func (r *reader) readInet() (net.IP, int, error) {
	size, err := r.readByte()
	if err != nil {
		return nil, 0, err
	}
	if size != 4 && size != 16 {
		return nil, 0, errors.Errorf("cql: invalid inet address length %d", size)
	}
	addr, err := r.read(int(size))
	if err != nil {
		return nil, 0, err
	}
	ip := make(net.IP, size)
	copy(ip, addr)
	port, err := r.readInt()
	if err != nil {
		return nil, 0, err
	}
	return ip, int(port), nil
}

func appendShort(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendInt(b []byte, v int32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendLong(b []byte, v int64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendString(b []byte, s string) []byte {
	b = appendShort(b, uint16(len(s)))
	return append(b, s...)
}

func appendLongString(b []byte, s string) []byte {
	b = appendInt(b, int32(len(s)))
	return append(b, s...)
}

// appendBytes writes an [int]-prefixed value; nil encodes as null (-1).
func appendBytes(b, v []byte) []byte {
	if v == nil {
		return appendInt(b, -1)
	}
	b = appendInt(b, int32(len(v)))
	return append(b, v...)
}

func appendShortBytes(b, v []byte) []byte {
	b = appendShort(b, uint16(len(v)))
	return append(b, v...)
}

func appendStringList(b []byte, list []string) []byte {
	b = appendShort(b, uint16(len(list)))
	for _, s := range list {
		b = appendString(b, s)
	}
	return b
}

func appendStringMap(b []byte, m map[string]string) []byte {
	b = appendShort(b, uint16(len(m)))
	for k, v := range m {
		b = appendString(b, k)
		b = appendString(b, v)
	}
	return b
}
