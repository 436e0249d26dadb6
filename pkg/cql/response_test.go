package cql

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, opcode Opcode, body []byte) Response {
	t.Helper()
	resp, err := ParseResponse(&Frame{Version: protoVersionResponse, Opcode: opcode, Body: body})
	require.NoError(t, err)
	return resp
}

func TestParseReady(t *testing.T) {
	resp := parse(t, OpReady, nil)
	assert.Equal(t, Ready{}, resp)
}

func TestParseSupported(t *testing.T) {
	body := appendShort(nil, 1)
	body = appendString(body, "CQL_VERSION")
	body = appendStringList(body, []string{"3.0.0", "3.4.4"})

	resp := parse(t, OpSupported, body)
	supported, ok := resp.(*Supported)
	require.True(t, ok)
	assert.Equal(t, []string{"3.0.0", "3.4.4"}, supported.Options["CQL_VERSION"])
}

func TestParseError(t *testing.T) {
	body := appendInt(nil, 0x1000)
	body = appendString(body, "unavailable")

	resp := parse(t, OpError, body)
	serverErr, ok := resp.(*Error)
	require.True(t, ok)
	assert.Equal(t, int32(0x1000), serverErr.Code)
	assert.Equal(t, "unavailable", serverErr.Message)
	assert.Contains(t, serverErr.Error(), "unavailable")
}

func TestParseVoidResult(t *testing.T) {
	resp := parse(t, OpResult, appendInt(nil, resultKindVoid))
	assert.Equal(t, Void{}, resp)
}

func TestParseSetKeyspace(t *testing.T) {
	body := appendInt(nil, resultKindSetKeyspace)
	body = appendString(body, "ks1")
	resp := parse(t, OpResult, body)
	ks, ok := resp.(*SetKeyspace)
	require.True(t, ok)
	assert.Equal(t, "ks1", ks.Keyspace)
}

func TestParsePrepared(t *testing.T) {
	body := appendInt(nil, resultKindPrepared)
	body = appendShortBytes(body, []byte{1, 2, 3, 4})
	resp := parse(t, OpResult, body)
	prepared, ok := resp.(*Prepared)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, prepared.ID)
}

func TestParseSchemaChange(t *testing.T) {
	body := appendInt(nil, resultKindSchemaChange)
	body = appendString(body, "CREATED")
	body = appendString(body, "TABLE")
	body = appendString(body, "ks1")
	body = appendString(body, "t1")
	resp := parse(t, OpResult, body)
	sc, ok := resp.(*SchemaChange)
	require.True(t, ok)
	assert.Equal(t, "CREATED", sc.Change)
	assert.Equal(t, "TABLE", sc.Target)
	assert.Equal(t, "ks1", sc.Keyspace)
	assert.Equal(t, "t1", sc.Object)
}

func rowsBody(t *testing.T, pagingState []byte, values ...string) []byte {
	t.Helper()
	flags := int32(rowsFlagGlobalTableSpec)
	if pagingState != nil {
		flags |= rowsFlagHasMorePages
	}
	body := appendInt(nil, resultKindRows)
	body = appendInt(body, flags)
	body = appendInt(body, 1) // columns
	if pagingState != nil {
		body = appendBytes(body, pagingState)
	}
	body = appendString(body, "ks1")
	body = appendString(body, "t1")
	body = appendString(body, "v")
	body = appendShort(body, 0x000D) // varchar
	body = appendInt(body, int32(len(values)))
	for _, v := range values {
		body = appendBytes(body, []byte(v))
	}
	return body
}

func TestParseRows(t *testing.T) {
	resp := parse(t, OpResult, rowsBody(t, nil, "a", "b"))
	rows, ok := resp.(*Rows)
	require.True(t, ok)
	assert.Nil(t, rows.PagingState)
	require.Len(t, rows.Columns, 1)
	assert.Equal(t, Column{Keyspace: "ks1", Table: "t1", Name: "v", Type: 0x000D}, rows.Columns[0])
	require.Len(t, rows.Content, 2)
	assert.Equal(t, Row{[]byte("a")}, rows.Content[0])
	assert.Equal(t, Row{[]byte("b")}, rows.Content[1])
}

func TestParseRowsWithPagingState(t *testing.T) {
	resp := parse(t, OpResult, rowsBody(t, []byte("page-2"), "a"))
	rows, ok := resp.(*Rows)
	require.True(t, ok)
	assert.Equal(t, []byte("page-2"), rows.PagingState)
	require.Len(t, rows.Content, 1)
}

func TestParseRowsCollectionTypes(t *testing.T) {
	// One list<text> column; the element type option must be consumed.
	body := appendInt(nil, resultKindRows)
	body = appendInt(body, rowsFlagGlobalTableSpec)
	body = appendInt(body, 1)
	body = appendString(body, "ks1")
	body = appendString(body, "t1")
	body = appendString(body, "tags")
	body = appendShort(body, uint16(typeList))
	body = appendShort(body, 0x000D)
	body = appendInt(body, 0) // no rows

	resp := parse(t, OpResult, body)
	rows, ok := resp.(*Rows)
	require.True(t, ok)
	require.Len(t, rows.Columns, 1)
	assert.Equal(t, typeList, rows.Columns[0].Type)
	assert.Empty(t, rows.Content)
}

func TestParseTopologyEvent(t *testing.T) {
	body := appendString(nil, "TOPOLOGY_CHANGE")
	body = appendString(body, "NEW_NODE")
	body = append(body, 4, 10, 0, 0, 1)
	body = appendInt(body, 9042)

	resp := parse(t, OpEvent, body)
	ev, ok := resp.(*Event)
	require.True(t, ok)
	assert.Equal(t, "TOPOLOGY_CHANGE", ev.Type)
	assert.Equal(t, "NEW_NODE", ev.Change)
	assert.Equal(t, net.IP{10, 0, 0, 1}, ev.Address)
	assert.Equal(t, 9042, ev.Port)
}

func TestParseSchemaEvent(t *testing.T) {
	body := appendString(nil, "SCHEMA_CHANGE")
	body = appendString(body, "UPDATED")
	body = appendString(body, "TABLE")
	body = appendString(body, "ks1")
	body = appendString(body, "t1")

	resp := parse(t, OpEvent, body)
	ev, ok := resp.(*Event)
	require.True(t, ok)
	assert.Equal(t, "SCHEMA_CHANGE", ev.Type)
	assert.Equal(t, "UPDATED", ev.Change)
	assert.Equal(t, "ks1", ev.Keyspace)
	assert.Equal(t, "t1", ev.Object)
}

func TestParseTruncatedBody(t *testing.T) {
	body := appendInt(nil, resultKindRows)
	body = appendInt(body, 0)
	_, err := ParseResponse(&Frame{Opcode: OpResult, Body: body})
	require.Error(t, err)
}

func TestConsistencyRoundTrip(t *testing.T) {
	for _, c := range []Consistency{Any, One, Two, Three, Quorum, All, LocalQuorum, EachQuorum, Serial, LocalSerial, LocalOne} {
		parsed, err := ParseConsistency(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	_, err := ParseConsistency("NOPE")
	require.Error(t, err)
}
