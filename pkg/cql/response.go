package cql

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Result kinds, per the RESULT body.
const (
	resultKindVoid         = 0x0001
	resultKindRows         = 0x0002
	resultKindSetKeyspace  = 0x0003
	resultKindPrepared     = 0x0004
	resultKindSchemaChange = 0x0005
)

// Rows metadata flags.
const (
	rowsFlagGlobalTableSpec = 0x0001
	rowsFlagHasMorePages    = 0x0002
	rowsFlagNoMetadata      = 0x0004
)

// Response is a server-originated frame body decoded by ParseResponse.
type Response interface {
	isResponse()
}

// Ready is the reply to STARTUP and REGISTER.
type Ready struct{}

// Supported lists the startup options the server understands.
type Supported struct {
	Options map[string][]string
}

// Void is the empty RESULT, returned by data-manipulating statements.
type Void struct{}

// SetKeyspace is the RESULT of a USE statement.
type SetKeyspace struct {
	Keyspace string
}

// Prepared carries the server-assigned id of a prepared statement.
type Prepared struct {
	ID []byte
}

// SchemaChange is the RESULT of a schema-altering statement.
type SchemaChange struct {
	Change   string
	Target   string
	Keyspace string
	Object   string
}

// TypeID is a column type option id. Collection and custom types carry
// additional payload on the wire, which the decoder consumes but does not
// retain; values stay raw bytes at this layer.
type TypeID uint16

// Column describes one column of a rows result.
type Column struct {
	Keyspace string
	Table    string
	Name     string
	Type     TypeID
}

// Row holds one row's column values, raw as sent by the server.
type Row [][]byte

// Rows is a RESULT carrying data. A non-nil PagingState means the server
// has more pages; echoing it back in a follow-up query yields the next one.
type Rows struct {
	Columns     []Column
	PagingState []byte
	Content     []Row
}

// Event is a server-pushed notification (stream id -1).
type Event struct {
	Type     string // TOPOLOGY_CHANGE, STATUS_CHANGE or SCHEMA_CHANGE
	Change   string
	Address  net.IP // topology and status changes
	Port     int
	Keyspace string // schema changes
	Object   string
}

// Error is a server application error routed back to the caller.
type Error struct {
	Code    int32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cql: server error 0x%04x: %s", e.Code, e.Message)
}

func (Ready) isResponse()         {}
func (*Supported) isResponse()    {}
func (Void) isResponse()          {}
func (*SetKeyspace) isResponse()  {}
func (*Prepared) isResponse()     {}
func (*SchemaChange) isResponse() {}
func (*Rows) isResponse()         {}
func (*Event) isResponse()        {}
func (*Error) isResponse()        {}

// ParseResponse decodes a frame body according to its opcode.
func ParseResponse(f *Frame) (Response, error) {
	r := &reader{buf: f.Body}
	switch f.Opcode {
	case OpReady:
		return Ready{}, nil
	case OpSupported:
		opts, err := r.readStringMultimap()
		if err != nil {
			return nil, err
		}
		return &Supported{Options: opts}, nil
	case OpResult:
		return parseResult(r)
	case OpEvent:
		return parseEvent(r)
	case OpError:
		code, err := r.readInt()
		if err != nil {
			return nil, err
		}
		msg, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &Error{Code: code, Message: msg}, nil
	default:
		return nil, errors.Errorf("cql: unexpected response opcode %s", f.Opcode)
	}
}

func parseResult(r *reader) (Response, error) {
	kind, err := r.readInt()
	if err != nil {
		return nil, err
	}
	switch kind {
	case resultKindVoid:
		return Void{}, nil
	case resultKindRows:
		return parseRows(r)
	case resultKindSetKeyspace:
		ks, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &SetKeyspace{Keyspace: ks}, nil
	case resultKindPrepared:
		id, err := r.readShortBytes()
		if err != nil {
			return nil, err
		}
		return &Prepared{ID: id}, nil
	case resultKindSchemaChange:
		sc := &SchemaChange{}
		if sc.Change, err = r.readString(); err != nil {
			return nil, err
		}
		if sc.Target, err = r.readString(); err != nil {
			return nil, err
		}
		if sc.Keyspace, err = r.readString(); err != nil {
			return nil, err
		}
		if sc.Target != "KEYSPACE" {
			if sc.Object, err = r.readString(); err != nil {
				return nil, err
			}
		}
		return sc, nil
	default:
		return nil, errors.Errorf("cql: unknown result kind 0x%04x", kind)
	}
}

func parseRows(r *reader) (*Rows, error) {
	flags, err := r.readInt()
	if err != nil {
		return nil, err
	}
	columnCount, err := r.readInt()
	if err != nil {
		return nil, err
	}

	rows := &Rows{}
	if flags&rowsFlagHasMorePages != 0 {
		if rows.PagingState, err = r.readBytes(); err != nil {
			return nil, err
		}
	}

	if flags&rowsFlagNoMetadata == 0 {
		var globalKeyspace, globalTable string
		if flags&rowsFlagGlobalTableSpec != 0 {
			if globalKeyspace, err = r.readString(); err != nil {
				return nil, err
			}
			if globalTable, err = r.readString(); err != nil {
				return nil, err
			}
		}
		rows.Columns = make([]Column, 0, columnCount)
		for i := int32(0); i < columnCount; i++ {
			col := Column{Keyspace: globalKeyspace, Table: globalTable}
			if flags&rowsFlagGlobalTableSpec == 0 {
				if col.Keyspace, err = r.readString(); err != nil {
					return nil, err
				}
				if col.Table, err = r.readString(); err != nil {
					return nil, err
				}
			}
			if col.Name, err = r.readString(); err != nil {
				return nil, err
			}
			if col.Type, err = readTypeOption(r); err != nil {
				return nil, err
			}
			rows.Columns = append(rows.Columns, col)
		}
	}

	rowCount, err := r.readInt()
	if err != nil {
		return nil, err
	}
	rows.Content = make([]Row, 0, rowCount)
	for i := int32(0); i < rowCount; i++ {
		row := make(Row, 0, columnCount)
		for j := int32(0); j < columnCount; j++ {
			v, err := r.readBytes()
			if err != nil {
				return nil, err
			}
			row = append(row, v)
		}
		rows.Content = append(rows.Content, row)
	}
	return rows, nil
}

// Column type option ids that carry a payload.
const (
	typeCustom TypeID = 0x0000
	typeList   TypeID = 0x0020
	typeMap    TypeID = 0x0021
	typeSet    TypeID = 0x0022
	typeUDT    TypeID = 0x0030
	typeTuple  TypeID = 0x0031
)

// readTypeOption consumes one type option, recursing into collection
// element types, and returns the top-level id.
func readTypeOption(r *reader) (TypeID, error) {
	id, err := r.readShort()
	if err != nil {
		return 0, err
	}
	typ := TypeID(id)
	switch typ {
	case typeCustom:
		if _, err := r.readString(); err != nil {
			return 0, err
		}
	case typeList, typeSet:
		if _, err := readTypeOption(r); err != nil {
			return 0, err
		}
	case typeMap:
		if _, err := readTypeOption(r); err != nil {
			return 0, err
		}
		if _, err := readTypeOption(r); err != nil {
			return 0, err
		}
	case typeUDT:
		if _, err := r.readString(); err != nil { // keyspace
			return 0, err
		}
		if _, err := r.readString(); err != nil { // type name
			return 0, err
		}
		n, err := r.readShort()
		if err != nil {
			return 0, err
		}
		for i := 0; i < int(n); i++ {
			if _, err := r.readString(); err != nil {
				return 0, err
			}
			if _, err := readTypeOption(r); err != nil {
				return 0, err
			}
		}
	case typeTuple:
		n, err := r.readShort()
		if err != nil {
			return 0, err
		}
		for i := 0; i < int(n); i++ {
			if _, err := readTypeOption(r); err != nil {
				return 0, err
			}
		}
	}
	return typ, nil
}

func parseEvent(r *reader) (*Event, error) {
	typ, err := r.readString()
	if err != nil {
		return nil, err
	}
	ev := &Event{Type: typ}
	switch typ {
	case "TOPOLOGY_CHANGE", "STATUS_CHANGE":
		if ev.Change, err = r.readString(); err != nil {
			return nil, err
		}
		if ev.Address, ev.Port, err = r.readInet(); err != nil {
			return nil, err
		}
	case "SCHEMA_CHANGE":
		if ev.Change, err = r.readString(); err != nil {
			return nil, err
		}
		target, err := r.readString()
		if err != nil {
			return nil, err
		}
		if ev.Keyspace, err = r.readString(); err != nil {
			return nil, err
		}
		if target != "KEYSPACE" {
			if ev.Object, err = r.readString(); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("cql: unknown event type %q", typ)
	}
	return ev, nil
}
