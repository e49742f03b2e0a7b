// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package parse implements the "parse" command, which parses an archived
// statement file without fetching anything.
package parse

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"buf.build/go/app/appcmd"
	"buf.build/go/app/appext"
	"github.com/wangzl-eric/flexctl/internal/pkg/cliio"
	"github.com/wangzl-eric/flexctl/internal/pkg/flexreport"
	"github.com/spf13/pflag"
)

// formatFlagName is the flag name for the output format.
const formatFlagName = "format"

// recordsFlagName is the flag name for the record kind to output.
const recordsFlagName = "records"

// NewCommand returns a new parse command that parses a statement file and
// prints its canonical records.
func NewCommand(name string, builder appext.SubCommandBuilder) *appcmd.Command {
	flags := newFlags()
	return &appcmd.Command{
		Use:   name + " <file>",
		Short: "Parse an archived statement file and print canonical records",
		Args:  appcmd.ExactArgs(1),
		Run: builder.NewRunFunc(
			func(ctx context.Context, container appext.Container) error {
				return run(ctx, container, flags)
			},
		),
		BindFlags: flags.Bind,
	}
}

type flags struct {
	// Format is the output format (table, csv, json).
	Format string
	// Records is the record kind to output (trades, positions, cash).
	Records string
}

func newFlags() *flags {
	return &flags{}
}

// Bind registers the flag definitions with the given flag set.
func (f *flags) Bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Format, formatFlagName, "table", "Output format (table, csv, json)")
	flagSet.StringVar(&f.Records, recordsFlagName, "trades", "Record kind to output (trades, positions, cash)")
}

func run(_ context.Context, container appext.Container, flags *flags) error {
	format, err := cliio.ParseFormat(flags.Format)
	if err != nil {
		return appcmd.NewInvalidArgumentError(err.Error())
	}
	data, err := os.ReadFile(container.Arg(0))
	if err != nil {
		return err
	}
	statement := flexreport.Parse(data)
	for _, parseError := range statement.ParseErrors {
		fmt.Fprintf(container.Stderr(), "parse error: %s\n", parseError)
	}
	switch flags.Records {
	case "trades":
		return writeTrades(container, format, statement.Trades)
	case "positions":
		return writePositions(container, format, statement.Positions)
	case "cash":
		return writeCashTransactions(container, format, statement.CashTransactions)
	default:
		return appcmd.NewInvalidArgumentErrorf("unknown records kind %q, must be one of: trades, positions, cash", flags.Records)
	}
}

func writeTrades(container appext.Container, format cliio.Format, trades []flexreport.Trade) error {
	if format == cliio.FormatJSON {
		return cliio.WriteJSON(container.Stdout(), trades...)
	}
	headers := []string{"DATE", "SYMBOL", "SIDE", "QUANTITY", "PRICE", "PROCEEDS", "COMMISSION", "REALIZED_PNL", "CURRENCY", "EXEC_ID"}
	rows := make([][]string, 0, len(trades))
	for _, trade := range trades {
		rows = append(rows, []string{
			trade.TradeDate.String(),
			trade.Symbol,
			string(trade.Side),
			formatFloat(trade.Quantity),
			formatFloat(trade.Price),
			formatFloat(trade.Proceeds),
			formatFloat(trade.Commission),
			formatFloat(trade.RealizedPnL),
			trade.Currency,
			trade.ExecID,
		})
	}
	return writeRows(container, format, headers, rows)
}

func writePositions(container appext.Container, format cliio.Format, positions []flexreport.Position) error {
	if format == cliio.FormatJSON {
		return cliio.WriteJSON(container.Stdout(), positions...)
	}
	headers := []string{"DATE", "SYMBOL", "QUANTITY", "PRICE", "VALUE", "UNREALIZED_PNL", "CURRENCY"}
	rows := make([][]string, 0, len(positions))
	for _, position := range positions {
		rows = append(rows, []string{
			position.ReportDate.String(),
			position.Symbol,
			formatFloat(position.Quantity),
			formatFloat(position.MarketPrice),
			formatFloat(position.MarketValue),
			formatFloat(position.UnrealizedPnL),
			position.Currency,
		})
	}
	return writeRows(container, format, headers, rows)
}

func writeCashTransactions(container appext.Container, format cliio.Format, cashTransactions []flexreport.CashTransaction) error {
	if format == cliio.FormatJSON {
		return cliio.WriteJSON(container.Stdout(), cashTransactions...)
	}
	headers := []string{"DATE", "TYPE", "AMOUNT", "CURRENCY", "SYMBOL", "DESCRIPTION"}
	rows := make([][]string, 0, len(cashTransactions))
	for _, cashTransaction := range cashTransactions {
		rows = append(rows, []string{
			cashTransaction.Date.String(),
			cashTransaction.Type,
			formatFloat(cashTransaction.Amount),
			cashTransaction.Currency,
			cashTransaction.Symbol,
			cashTransaction.Description,
		})
	}
	return writeRows(container, format, headers, rows)
}

func writeRows(container appext.Container, format cliio.Format, headers []string, rows [][]string) error {
	switch format {
	case cliio.FormatCSV:
		return cliio.WriteCSVRecords(container.Stdout(), append([][]string{headers}, rows...))
	default:
		return cliio.WriteTable(container.Stdout(), headers, rows)
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
