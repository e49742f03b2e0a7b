// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexreport parses IBKR Flex Query statements into canonical records.
//
// A Flex Query statement arrives in one of two incompatible wire formats:
// an attribute-keyed XML document, or an ad hoc CSV/TSV body containing
// several concatenated tables, each demarcated only by the reappearance of
// a header line. Both formats are normalized into the same Trade, Position,
// and CashTransaction records so that downstream storage never sees the
// difference.
//
// Parsing is resilient: malformed rows and fields are recovered locally
// (defaulted or skipped) and recorded as non-fatal entries in
// Statement.ParseErrors. Parsing never fails hard on dirty vendor exports.
package flexreport

import (
	"strings"
	"time"

	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// Side is the direction of a trade.
type Side string

const (
	// SideBuy is a purchase.
	SideBuy Side = "BUY"
	// SideSell is a sale.
	SideSell Side = "SELL"
)

// Trade represents a single trade execution.
//
// ExecID is the deduplication key for downstream storage. When the vendor
// leaves it blank, a deterministic key is synthesized from the symbol,
// timestamp, side, and quantity.
type Trade struct {
	AccountID   string
	TradeID     string
	ExecID      string
	Symbol      string
	Description string
	AssetClass  string
	Currency    string
	Exchange    string
	// TradeDate is the trade date, zero when unparseable.
	TradeDate xtime.Date
	// TradeDateTime is the full execution timestamp, zero when the source
	// carried no time component.
	TradeDateTime time.Time
	Side          Side
	// Quantity is always non-negative; direction is carried by Side.
	Quantity     float64
	Price        float64
	Proceeds     float64
	Commission   float64
	Taxes        float64
	CostBasis    float64
	RealizedPnL  float64
	MtmPnL       float64
	FXRateToBase float64
	OrderType    string
	// Derivatives fields, zero-valued for stock trades.
	Underlying string
	Strike     float64
	Expiry     string
	PutCall    string
	Multiplier float64
}

// Position represents a point-in-time position snapshot, not a running balance.
type Position struct {
	AccountID   string
	Symbol      string
	Description string
	AssetClass  string
	Currency    string
	// Quantity is signed: positive for long, negative for short.
	Quantity      float64
	CostBasis     float64
	CostPrice     float64
	MarketPrice   float64
	MarketValue   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	ReportDate    xtime.Date
}

// CashTransaction represents a dividend, fee, interest, or other cash movement.
type CashTransaction struct {
	AccountID     string
	TransactionID string
	Date          xtime.Date
	Currency      string
	Amount        float64
	Type          string
	Description   string
	// Symbol is set only for security-linked transactions like dividends.
	Symbol string
}

// Statement is the canonical result of parsing one Flex Query statement body.
//
// Statements are produced fresh per parse and never mutated afterwards.
// ParseErrors records non-fatal row/field problems; a statement with
// ParseErrors is still usable, just possibly incomplete.
type Statement struct {
	AccountID string
	FromDate  xtime.Date
	ToDate    xtime.Date
	// GeneratedAt is the statement generation time when the source carries
	// one (XML whenGenerated); callers stamp the fetch time otherwise.
	GeneratedAt      time.Time
	Trades           []Trade
	Positions        []Position
	CashTransactions []CashTransaction
	// NetLiquidation and TotalCash are set when the statement carries an
	// equity/cash summary section, nil otherwise.
	NetLiquidation *float64
	TotalCash      *float64
	RawBody        []byte
	ParseErrors    []string
}

// xmlPrefixes are the opening tags that mark a statement body as XML-framed.
var xmlPrefixes = []string{
	"<?xml",
	"<FlexQueryResponse",
	"<FlexStatementResponse",
	"<FlexStatement",
}

// IsCSV reports whether a statement body should be parsed as CSV/TSV.
//
// The predicate is deliberately conservative: only bodies that do not begin
// with an XML/statement-response opening tag are treated as CSV, because XML
// parse failures are explicit while a CSV mis-parse silently produces empty
// sections.
func IsCSV(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range xmlPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return false
		}
	}
	return true
}

// Parse parses a raw statement body in either wire format.
//
// An empty body yields an empty Statement, not an error. Parse never fails:
// unusable content is recorded in ParseErrors on the returned Statement.
func Parse(body []byte) *Statement {
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return &Statement{RawBody: body}
	}
	if IsCSV(text) {
		return parseCSV(body)
	}
	return parseXML(body)
}
