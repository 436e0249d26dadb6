package cassandra

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hzamani/cassandra/pkg/cql"
)

func row(v string) cql.Row {
	return cql.Row{[]byte(v)}
}

func TestRowStreamOrder(t *testing.T) {
	s := newRowStream(nil)
	s.push([]cql.Row{row("a"), row("b")})
	s.push([]cql.Row{row("c")})
	s.close(nil)

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, row(want), got)
	}
	_, err := s.Next(ctx)
	assert.Equal(t, io.EOF, err)
	// EOF is sticky.
	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestRowStreamBlocksUntilPush(t *testing.T) {
	s := newRowStream(nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.push([]cql.Row{row("late")})
		s.close(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()
	got, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, row("late"), got)
}

func TestRowStreamError(t *testing.T) {
	s := newRowStream(nil)
	s.push([]cql.Row{row("a")})
	s.close(errors.New("paging failed"))

	ctx := context.Background()
	// Rows delivered before the failure still drain.
	got, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, row("a"), got)

	_, err = s.Next(ctx)
	require.EqualError(t, err, "paging failed")
}

func TestRowStreamContextCancel(t *testing.T) {
	s := newRowStream(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRowStreamPushAfterCloseIsIgnored(t *testing.T) {
	s := newRowStream(nil)
	s.close(nil)
	s.push([]cql.Row{row("zombie")})
	_, err := s.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestRowStreamAll(t *testing.T) {
	s := newRowStream(nil)
	s.push([]cql.Row{row("a"), row("b")})
	s.close(nil)
	rows, err := s.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []cql.Row{row("a"), row("b")}, rows)
}
