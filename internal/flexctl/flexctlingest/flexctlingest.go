// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexctlingest fetches Flex Query statements and normalizes them
// into canonical records.
//
// A fetch is a single sequential state machine: request a reference code,
// wait for the statement to be generated, poll for the body, archive it,
// parse it. Independent fetches for different queries share no mutable
// state and are safe to run concurrently.
package flexctlingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlarchive"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlconfig"
	"github.com/wangzl-eric/flexctl/internal/pkg/flexquery"
	"github.com/wangzl-eric/flexctl/internal/pkg/flexreport"
	"github.com/wangzl-eric/flexctl/internal/pkg/retry"
)

// Fetcher fetches Flex Query statements as canonical records.
type Fetcher interface {
	// FetchStatement runs the full request/poll/parse pipeline for one query.
	//
	// Protocol failures abort the fetch with a typed error from the flexquery
	// package. Row-level parse problems do not: they are recorded in the
	// returned Statement's ParseErrors.
	FetchStatement(ctx context.Context, query flexctlconfig.QueryConfig) (*flexreport.Statement, error)
	// FetchTrades fetches a statement and returns only its trades.
	FetchTrades(ctx context.Context, query flexctlconfig.QueryConfig) ([]flexreport.Trade, error)
	// FetchPositions fetches a statement and returns only its positions.
	FetchPositions(ctx context.Context, query flexctlconfig.QueryConfig) ([]flexreport.Position, error)
}

// FetcherOption is a functional option for configuring the Fetcher.
type FetcherOption func(*fetcher)

// FetcherWithLogger sets the logger for the Fetcher.
func FetcherWithLogger(logger *slog.Logger) FetcherOption {
	return func(f *fetcher) {
		f.logger = logger
	}
}

// FetcherWithArchiver sets the archiver for raw statement bodies.
// Archival is best-effort: failures are logged and never abort a fetch.
func FetcherWithArchiver(archiver flexctlarchive.Archiver) FetcherOption {
	return func(f *fetcher) {
		f.archiver = archiver
	}
}

// FetcherWithSleeper sets the sleeper used for the statement readiness wait.
// Used by tests to make fetches deterministic.
func FetcherWithSleeper(sleeper retry.Sleeper) FetcherOption {
	return func(f *fetcher) {
		f.sleep = sleeper
	}
}

// FetcherWithNow sets the clock used to stamp statements that carry no
// generation time of their own.
func FetcherWithNow(now func() time.Time) FetcherOption {
	return func(f *fetcher) {
		f.now = now
	}
}

// NewFetcher creates a new Fetcher using the given protocol client and token.
func NewFetcher(client flexquery.Client, token string, options ...FetcherOption) Fetcher {
	f := &fetcher{
		client: client,
		token:  token,
		logger: slog.Default(),
		sleep:  retry.DefaultSleeper(),
		now:    time.Now,
	}
	for _, option := range options {
		option(f)
	}
	return f
}

// *** PRIVATE ***

type fetcher struct {
	client   flexquery.Client
	token    string
	logger   *slog.Logger
	archiver flexctlarchive.Archiver
	sleep    retry.Sleeper
	now      func() time.Time
}

func (f *fetcher) FetchStatement(ctx context.Context, query flexctlconfig.QueryConfig) (*flexreport.Statement, error) {
	referenceCode, err := f.client.SendRequest(ctx, f.token, query.ID)
	if err != nil {
		return nil, fmt.Errorf("requesting query %s: %w", query.Name, err)
	}
	f.logger.Info("flex query accepted", "query", query.Name, "reference_code", referenceCode)
	// Wait before the first poll so an attempt is not wasted on a response
	// that is guaranteed to be transient. Mark-to-market statements are
	// prone to slow generation and get twice the wait.
	readyWait := flexquery.StatementReadyWait
	preferCSV := query.Type == flexctlconfig.QueryTypeMarkToMarket
	if preferCSV {
		readyWait *= 2
	}
	if err := f.sleep(ctx, readyWait); err != nil {
		return nil, err
	}
	body, err := f.client.GetStatement(ctx, f.token, referenceCode, preferCSV)
	if err != nil {
		return nil, fmt.Errorf("fetching statement for query %s: %w", query.Name, err)
	}
	if f.archiver != nil {
		archivePath, err := f.archiver.Save(body, query.ID, query.Name, query.Type)
		if err != nil {
			// Archival is best-effort, the fetch continues.
			f.logger.Warn("could not archive statement", "query", query.Name, "error", err)
		} else {
			f.logger.Debug("statement archived", "query", query.Name, "path", archivePath)
		}
	}
	statement := flexreport.Parse(body)
	if statement.GeneratedAt.IsZero() {
		statement.GeneratedAt = f.now()
	}
	f.logger.Info("statement parsed",
		"query", query.Name,
		"trades", len(statement.Trades),
		"positions", len(statement.Positions),
		"cash_transactions", len(statement.CashTransactions),
		"parse_errors", len(statement.ParseErrors),
	)
	for _, parseError := range statement.ParseErrors {
		f.logger.Warn("parse error", "query", query.Name, "error", parseError)
	}
	return statement, nil
}

func (f *fetcher) FetchTrades(ctx context.Context, query flexctlconfig.QueryConfig) ([]flexreport.Trade, error) {
	statement, err := f.FetchStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	return statement.Trades, nil
}

func (f *fetcher) FetchPositions(ctx context.Context, query flexctlconfig.QueryConfig) ([]flexreport.Position, error) {
	statement, err := f.FetchStatement(ctx, query)
	if err != nil {
		return nil, err
	}
	return statement.Positions, nil
}
