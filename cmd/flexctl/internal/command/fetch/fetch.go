// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package fetch implements the "fetch" command.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"buf.build/go/app/appcmd"
	"buf.build/go/app/appext"
	"github.com/wangzl-eric/flexctl/cmd/flexctl/internal/flexctlcmd"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlconfig"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlpath"
	"github.com/wangzl-eric/flexctl/internal/pkg/cliio"
	"github.com/wangzl-eric/flexctl/internal/pkg/flexreport"
	"github.com/wangzl-eric/flexctl/internal/standard/xos"
	"github.com/spf13/pflag"
)

// queryFlagName is the flag name for fetching a single named query.
const queryFlagName = "query"

// NewCommand returns a new fetch command that fetches statements and writes
// canonical record files.
func NewCommand(name string, builder appext.SubCommandBuilder) *appcmd.Command {
	flags := newFlags()
	return &appcmd.Command{
		Use:   name,
		Short: "Fetch Flex Query statements and write canonical records",
		Args:  appcmd.NoArgs,
		Run: builder.NewRunFunc(
			func(ctx context.Context, container appext.Container) error {
				return run(ctx, container, flags)
			},
		),
		BindFlags: flags.Bind,
	}
}

type flags struct {
	// Dir is the flexctl directory containing flexctl.yaml.
	Dir string
	// Query is the name of a single configured query to fetch.
	// All configured queries are fetched when empty.
	Query string
}

func newFlags() *flags {
	return &flags{}
}

// Bind registers the flag definitions with the given flag set.
func (f *flags) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Dir, flexctlcmd.DirFlagName, ".", "The flexctl directory containing flexctl.yaml")
	flagSet.StringVar(&f.Query, queryFlagName, "", "Fetch only the named query instead of all configured queries")
}

func run(ctx context.Context, container appext.Container, flags *flags) error {
	dirPath, err := xos.ExpandHome(flags.Dir)
	if err != nil {
		return err
	}
	fetcher, config, err := flexctlcmd.NewFetcher(container, dirPath)
	if err != nil {
		return err
	}
	queries := config.Queries
	if flags.Query != "" {
		query, err := config.QueryByName(flags.Query)
		if err != nil {
			return appcmd.NewInvalidArgumentError(err.Error())
		}
		queries = []flexctlconfig.QueryConfig{query}
	}
	for _, query := range queries {
		statement, err := fetcher.FetchStatement(ctx, query)
		if err != nil {
			return err
		}
		if err := writeRecords(dirPath, query.Name, statement); err != nil {
			return err
		}
		if _, err = fmt.Fprintf(
			container.Stdout(),
			"%s: %d trades, %d positions, %d cash transactions, %d parse errors\n",
			query.Name,
			len(statement.Trades),
			len(statement.Positions),
			len(statement.CashTransactions),
			len(statement.ParseErrors),
		); err != nil {
			return err
		}
	}
	return nil
}

// writeRecords writes the statement's canonical records as newline-delimited
// JSON files under records/<query-name>/ in the base directory.
func writeRecords(dirPath string, queryName string, statement *flexreport.Statement) error {
	recordsDirPath := flexctlpath.RecordsQueryDirPath(dirPath, queryName)
	if err := writeJSONFile(filepath.Join(recordsDirPath, "trades.json"), statement.Trades); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(recordsDirPath, "positions.json"), statement.Positions); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(recordsDirPath, "cash_transactions.json"), statement.CashTransactions)
}

func writeJSONFile[O any](filePath string, objects []O) error {
	var buffer bytes.Buffer
	if err := cliio.WriteJSON(&buffer, objects...); err != nil {
		return err
	}
	return xos.WriteFile(filePath, buffer.Bytes())
}
