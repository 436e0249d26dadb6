package cql

import (
	"github.com/pkg/errors"
)

const cqlVersion = "3.0.0"

// Request is a client-originated frame body.
type Request interface {
	Opcode() Opcode
	body() ([]byte, error)
}

// Startup announces the protocol options. The connection sends it
// unauthenticated on stream 0 before anything else.
type Startup struct{}

func (Startup) Opcode() Opcode { return OpStartup }

func (Startup) body() ([]byte, error) {
	return appendStringMap(nil, map[string]string{"CQL_VERSION": cqlVersion}), nil
}

// Options asks the server which startup options it supports.
type Options struct{}

func (Options) Opcode() Opcode { return OpOptions }

func (Options) body() ([]byte, error) { return nil, nil }

// Query runs a CQL statement with the given parameters.
type Query struct {
	Statement string
	Params    QueryParams
}

func (Query) Opcode() Opcode { return OpQuery }

func (q Query) body() ([]byte, error) {
	b := appendLongString(nil, q.Statement)
	return q.Params.append(b)
}

// Prepare asks the server to prepare a statement for later execution.
type Prepare struct {
	Statement string
}

func (Prepare) Opcode() Opcode { return OpPrepare }

func (p Prepare) body() ([]byte, error) {
	return appendLongString(nil, p.Statement), nil
}

// Execute runs a previously prepared statement.
type Execute struct {
	ID     []byte
	Params QueryParams
}

func (Execute) Opcode() Opcode { return OpExecute }

func (e Execute) body() ([]byte, error) {
	b := appendShortBytes(nil, e.ID)
	return e.Params.append(b)
}

// Register subscribes the connection to the given server event types.
type Register struct {
	Types []string
}

func (Register) Opcode() Opcode { return OpRegister }

func (r Register) body() ([]byte, error) {
	return appendStringList(nil, r.Types), nil
}

// Query parameter flags, per the v4 <query_parameters> layout.
const (
	flagValues            = 0x01
	flagSkipMetadata      = 0x02
	flagPageSize          = 0x04
	flagWithPagingState   = 0x08
	flagSerialConsistency = 0x10
	flagDefaultTimestamp  = 0x20
)

// DefaultPageSize is used when QueryParams does not set one.
const DefaultPageSize = 100

// QueryParams carries the recognized per-query options. These are the only
// options the protocol layer accepts; Validate rejects anything outside
// their domains before a frame is built.
type QueryParams struct {
	Consistency       Consistency
	SkipMetadata      bool
	PageSize          int32
	PagingState       []byte
	SerialConsistency Consistency // Serial or LocalSerial; zero means unset
	Timestamp         *int64
	Values            [][]byte
}

// DefaultQueryParams returns the parameter defaults: consistency ONE and a
// page size of 100.
func DefaultQueryParams() QueryParams {
	return QueryParams{Consistency: One, PageSize: DefaultPageSize}
}

// Validate checks every option against its domain.
func (p QueryParams) Validate() error {
	if p.Consistency > LocalOne {
		return errors.Errorf("cql: invalid consistency 0x%x", uint16(p.Consistency))
	}
	if p.SerialConsistency != 0 && p.SerialConsistency != Serial && p.SerialConsistency != LocalSerial {
		return errors.Errorf("cql: invalid serial consistency %s", p.SerialConsistency)
	}
	if p.PageSize < 0 {
		return errors.Errorf("cql: invalid page size %d", p.PageSize)
	}
	return nil
}

func (p QueryParams) append(b []byte) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var flags byte
	if len(p.Values) > 0 {
		flags |= flagValues
	}
	if p.SkipMetadata {
		flags |= flagSkipMetadata
	}
	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	flags |= flagPageSize
	if p.PagingState != nil {
		flags |= flagWithPagingState
	}
	if p.SerialConsistency != 0 {
		flags |= flagSerialConsistency
	}
	if p.Timestamp != nil {
		flags |= flagDefaultTimestamp
	}

	b = appendShort(b, uint16(p.Consistency))
	b = append(b, flags)
	if flags&flagValues != 0 {
		b = appendShort(b, uint16(len(p.Values)))
		for _, v := range p.Values {
			b = appendBytes(b, v)
		}
	}
	b = appendInt(b, pageSize)
	if flags&flagWithPagingState != 0 {
		b = appendBytes(b, p.PagingState)
	}
	if flags&flagSerialConsistency != 0 {
		b = appendShort(b, uint16(p.SerialConsistency))
	}
	if flags&flagDefaultTimestamp != 0 {
		b = appendLong(b, *p.Timestamp)
	}
	return b, nil
}
