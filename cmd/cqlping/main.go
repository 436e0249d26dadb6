// Command cqlping connects to a single Cassandra node and runs one
// operation against it: a query, an OPTIONS probe, or an event watch.
// It exists to exercise the connection end to end from a shell.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hzamani/cassandra/pkg/cassandra"
	"github.com/hzamani/cassandra/pkg/cql"
)

type connFlags struct {
	host     *string
	port     *int
	keyspace *string
	timeout  *time.Duration
	wait     *time.Duration
	verbose  *bool
}

func (f *connFlags) connect() (*cassandra.Conn, log.Logger) {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if !*f.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	cfg := cassandra.Config{
		Host:     *f.host,
		Port:     *f.port,
		Keyspace: *f.keyspace,
		Timeout:  *f.timeout,
	}
	return cassandra.New(cfg, logger, nil), logger
}

func (f *connFlags) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), *f.wait)
}

type queryCommand struct {
	flags       *connFlags
	statement   *string
	consistency *string
	pageSize    *int
}

func (cmd *queryCommand) run(_ *kingpin.ParseContext) error {
	conn, _ := cmd.flags.connect()
	defer conn.Stop()

	params := cql.DefaultQueryParams()
	cons, err := cql.ParseConsistency(*cmd.consistency)
	if err != nil {
		return err
	}
	params.Consistency = cons
	params.PageSize = int32(*cmd.pageSize)

	ctx, cancel := cmd.flags.ctx()
	defer cancel()
	result, err := conn.Query(ctx, *cmd.statement, &params)
	if err != nil {
		return err
	}

	switch {
	case result.Stream != nil:
		printColumns(result.Columns)
		count := 0
		for {
			row, err := result.Stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			printRow(row)
			count++
		}
		fmt.Printf("(%d rows)\n", count)
	case result.Rows != nil:
		printColumns(result.Columns)
		for _, row := range result.Rows {
			printRow(row)
		}
		fmt.Printf("(%d rows)\n", len(result.Rows))
	case result.Keyspace != "":
		fmt.Printf("keyspace set to %s\n", result.Keyspace)
	case result.SchemaChange != nil:
		sc := result.SchemaChange
		fmt.Printf("schema %s %s %s.%s\n", sc.Change, sc.Target, sc.Keyspace, sc.Object)
	default:
		fmt.Println("ok")
	}
	return nil
}

type optionsCommand struct {
	flags *connFlags
}

func (cmd *optionsCommand) run(_ *kingpin.ParseContext) error {
	conn, _ := cmd.flags.connect()
	defer conn.Stop()

	ctx, cancel := cmd.flags.ctx()
	defer cancel()
	opts, err := conn.Options(ctx)
	if err != nil {
		return err
	}
	bold := color.New(color.Bold)
	for k, vs := range opts {
		bold.Printf("%s:", k)
		for _, v := range vs {
			fmt.Printf(" %s", v)
		}
		fmt.Println()
	}
	return nil
}

type eventsCommand struct {
	flags *connFlags
	types *[]string
}

func (cmd *eventsCommand) run(_ *kingpin.ParseContext) error {
	conn, logger := cmd.flags.connect()
	defer conn.Stop()

	ctx, cancel := cmd.flags.ctx()
	defer cancel()
	stream, err := conn.Register(ctx, *cmd.types...)
	if err != nil {
		return err
	}
	defer stream.Close()
	level.Info(logger).Log("msg", "watching for events, ctrl-c to stop")

	for ev := range stream.Events() {
		switch ev.Type {
		case "SCHEMA_CHANGE":
			fmt.Printf("%s %s %s.%s\n", ev.Type, ev.Change, ev.Keyspace, ev.Object)
		default:
			fmt.Printf("%s %s %s:%d\n", ev.Type, ev.Change, ev.Address, ev.Port)
		}
	}
	return nil
}

func main() {
	app := kingpin.New("cqlping", "Run a single operation against a Cassandra node.")
	flags := &connFlags{
		host:     app.Flag("host", "Hostname or IP of the Cassandra node.").Default("127.0.0.1").String(),
		port:     app.Flag("port", "Port that Cassandra is running on.").Default("9042").Int(),
		keyspace: app.Flag("keyspace", "Keyspace to use.").String(),
		timeout:  app.Flag("timeout", "Connection handshake timeout.").Default("5s").Duration(),
		wait:     app.Flag("wait", "How long to wait for the operation.").Default("30s").Duration(),
		verbose:  app.Flag("verbose", "Log at debug level.").Short('v').Bool(),
	}

	query := &queryCommand{flags: flags}
	queryCmd := app.Command("query", "Run a CQL statement and print the result.").Action(query.run)
	query.statement = queryCmd.Arg("statement", "CQL statement to run.").Required().String()
	query.consistency = queryCmd.Flag("consistency", "Consistency level.").Default("ONE").String()
	query.pageSize = queryCmd.Flag("page-size", "Result page size.").Default("100").Int()

	options := &optionsCommand{flags: flags}
	app.Command("options", "Print the startup options the server supports.").Action(options.run)

	events := &eventsCommand{flags: flags}
	eventsCmd := app.Command("events", "Subscribe to server events and print them.").Action(events.run)
	events.types = eventsCmd.Flag("type", "Event type to watch; repeatable.").Strings()

	kingpin.MustParse(app.Parse(os.Args[1:]))
}

func printColumns(cols []cql.Column) {
	if len(cols) == 0 {
		return
	}
	bold := color.New(color.Bold)
	for i, col := range cols {
		if i > 0 {
			fmt.Print(" | ")
		}
		bold.Print(col.Name)
	}
	fmt.Println()
}

func printRow(row cql.Row) {
	for i, v := range row {
		if i > 0 {
			fmt.Print(" | ")
		}
		if v == nil {
			fmt.Print("null")
		} else {
			fmt.Printf("%s", v)
		}
	}
	fmt.Println()
}
