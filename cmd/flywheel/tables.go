package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/acksell/flywheel/engine"
	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

func newFlagSet(name, usage string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	o.register(fs)
	fs.Usage = func() {
		fmt.Printf("flywheel %s - %s\n\nUsage:\n  flywheel %s [flags]\n\nFlags:\n", name, usage, name)
		fs.PrintDefaults()
	}
	return fs
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runCreate(args []string) error {
	var o options
	fs := newFlagSet("create", "create the missing tables of the schema", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	e, err := o.open(ctx, fs, true)
	if err != nil {
		return err
	}
	defer e.Close()

	created, err := e.CreateSchema(ctx)
	for _, name := range created {
		fmt.Printf("created %s\n", name)
	}
	return err
}

func runDelete(args []string) error {
	var o options
	fs := newFlagSet("delete", "delete the tables of the schema", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	e, err := o.open(ctx, fs, true)
	if err != nil {
		return err
	}
	defer e.Close()

	deleted, err := e.DeleteSchema(ctx)
	for _, name := range deleted {
		fmt.Printf("deleted %s\n", name)
	}
	return err
}

func runList(args []string) error {
	var o options
	fs := newFlagSet("list", "list the tables in the store", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	e, err := o.open(ctx, fs, false)
	if err != nil {
		return err
	}
	defer e.Close()

	names, err := listTables(ctx, e)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func listTables(ctx context.Context, e *engine.Engine) ([]string, error) {
	var names []string
	p := dynamodb.NewListTablesPaginator(e.Client(), &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, out.TableNames...)
	}
	return names, nil
}

func runModels(args []string) error {
	var o options
	fs := newFlagSet("models", "print the models of the schema and their tables", &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	e, err := o.open(ctx, fs, true)
	if err != nil {
		return err
	}
	defer e.Close()

	existing := map[string]bool{}
	if names, err := listTables(ctx, e); err == nil {
		for _, n := range names {
			existing[n] = true
		}
	}
	return printModels(os.Stdout, e.Models(), existing)
}

func printModels(w io.Writer, models []*model.Metadata, existing map[string]bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tTABLE\tKEY\tINDEXES\tEXISTS")
	for _, m := range models {
		key := m.HashKey().Name
		if r := m.RangeKey(); r != nil {
			key += ", " + r.Name
		}
		var indexes []string
		for _, o := range m.Orderings() {
			if o.Index != "" {
				indexes = append(indexes, o.Index)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", m.Name(), m.TableName(), key, strings.Join(indexes, ", "), existing[m.TableName()])
	}
	return tw.Flush()
}
