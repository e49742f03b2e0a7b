// Copyright 2026 Peter Edge
//
// All rights reserved.

package flexreport

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// sectionKind identifies a logical table inside a multi-table CSV/TSV body.
type sectionKind int

const (
	sectionUnknown sectionKind = iota
	// sectionAccountSummary carries account ID, date range, and values.
	sectionAccountSummary
	// sectionPositionMTM carries per-position daily mark-to-market P&L.
	sectionPositionMTM
	// sectionTrades carries trade executions.
	sectionTrades
	// sectionAssetSummary carries per-asset-class value aggregates. It has no
	// canonical record mapping and exists so its rows are not absorbed into
	// the preceding section.
	sectionAssetSummary
)

func (k sectionKind) String() string {
	switch k {
	case sectionAccountSummary:
		return "account_summary"
	case sectionPositionMTM:
		return "position_mtm"
	case sectionTrades:
		return "trades"
	case sectionAssetSummary:
		return "asset_summary"
	default:
		return "unknown"
	}
}

type section struct {
	kind  sectionKind
	lines []string
}

// parseCSV parses a multi-table CSV/TSV statement body.
//
// Sections are demarcated only by the reappearance of a header line; each
// header is recognized by a column-name combination unique to its table kind.
// A body with no recognizable section markers is treated as a single
// trades-like table.
func parseCSV(body []byte) *Statement {
	statement := &Statement{RawBody: body}
	c := &coercer{}
	lines := strings.Split(strings.TrimSpace(strings.ReplaceAll(string(body), "\r\n", "\n")), "\n")
	sections := splitSections(lines)
	if len(sections) == 0 {
		sections = []section{{kind: sectionTrades, lines: lines}}
	}
	for _, s := range sections {
		c.location = s.kind.String()
		t, err := parseTable(s.lines)
		if err != nil {
			c.notef("unusable section: %v", err)
			continue
		}
		switch s.kind {
		case sectionAccountSummary:
			applyAccountSummary(t, statement, c)
		case sectionPositionMTM:
			statement.Positions = append(statement.Positions, positionMTMRows(t, c)...)
		case sectionTrades:
			statement.Trades = append(statement.Trades, tradeRows(t, c)...)
		}
	}
	c.location = ""
	statement.ParseErrors = c.errors
	return statement
}

// splitSections scans lines and starts a new section at every line that
// matches a header signature, closing the previous section at that boundary.
func splitSections(lines []string) []section {
	var sections []section
	for _, line := range lines {
		kind := sectionUnknown
		switch {
		case strings.Contains(line, "StartingValue") && strings.Contains(line, "EndingValue"):
			kind = sectionAccountSummary
		case strings.Contains(line, "CloseQuantity") && strings.Contains(line, "TransactionMtmPnl"):
			kind = sectionPositionMTM
		case strings.Contains(line, "TradeID") && strings.Contains(line, "Buy/Sell") && strings.Contains(line, "TradePrice"):
			kind = sectionTrades
		case strings.Contains(line, "Prior Period Value") && strings.Contains(line, "Transactions"):
			kind = sectionAssetSummary
		}
		if kind != sectionUnknown {
			sections = append(sections, section{kind: kind})
		}
		if len(sections) > 0 {
			last := &sections[len(sections)-1]
			last.lines = append(last.lines, line)
		}
	}
	return sections
}

// table is one parsed section: a header row plus data rows addressed by
// column name. Missing columns and short rows read as empty values.
type table struct {
	columns map[string]int
	rows    [][]string
}

func parseTable(lines []string) (*table, error) {
	// Tab-separated is the primary statement layout; fall back to commas
	// when the header carries no tabs.
	separator := '\t'
	if !strings.ContainsRune(lines[0], '\t') {
		separator = ','
	}
	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.Comma = separator
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &table{columns: map[string]int{}}, nil
	}
	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.TrimSpace(name)] = i
	}
	return &table{columns: columns, rows: records[1:]}, nil
}

func (t *table) has(column string) bool {
	_, ok := t.columns[column]
	return ok
}

// get returns the named field of a row, with null values ("", nan, NaN)
// normalized to the empty string.
func (t *table) get(row []string, column string) string {
	i, ok := t.columns[column]
	if !ok || i >= len(row) {
		return ""
	}
	value := strings.TrimSpace(row[i])
	if isNull(value) {
		return ""
	}
	return value
}

// applyAccountSummary extracts the account ID, date range, and value summary
// from an account summary section.
func applyAccountSummary(t *table, statement *Statement, c *coercer) {
	if len(t.rows) == 0 {
		return
	}
	row := t.rows[0]
	if accountID := t.get(row, "ClientAccountID"); accountID != "" {
		statement.AccountID = accountID
	}
	if fromDate := t.get(row, "FromDate"); fromDate != "" {
		statement.FromDate = c.date(fromDate)
	}
	if toDate := t.get(row, "ToDate"); toDate != "" {
		statement.ToDate = c.date(toDate)
	}
	if endingValue := t.get(row, "EndingValue"); endingValue != "" {
		netLiquidation := c.float("EndingValue", endingValue)
		statement.NetLiquidation = &netLiquidation
	}
	if endingCash := t.get(row, "EndingCash"); endingCash != "" {
		totalCash := c.float("EndingCash", endingCash)
		statement.TotalCash = &totalCash
	}
}

// tradeRows converts a trades section to canonical Trade records.
//
// Only LevelOfDetail=EXECUTION rows are actual fills; other levels are
// order/aggregate summaries and are dropped. Summary artifact rows (blank
// symbol, or zero quantity and price) are dropped too.
func tradeRows(t *table, c *coercer) []Trade {
	var trades []Trade
	hasLevelOfDetail := t.has("LevelOfDetail")
	for i, row := range t.rows {
		c.location = fmt.Sprintf("%v row %d", sectionTrades, i+1)
		if hasLevelOfDetail && t.get(row, "LevelOfDetail") != "EXECUTION" {
			continue
		}
		symbol := t.get(row, "Symbol")
		if symbol == "" {
			continue
		}
		rawQuantity := c.float("Quantity", t.get(row, "Quantity"))
		price := c.float("TradePrice", t.get(row, "TradePrice"))
		if rawQuantity == 0 && price == 0 {
			continue
		}
		side := tradeSide(t.get(row, "Buy/Sell"), rawQuantity)
		tradeDateTime := c.dateTime(t.get(row, "DateTime"))
		tradeDate := c.date(t.get(row, "TradeDate"))
		if tradeDate.IsZero() && !tradeDateTime.IsZero() {
			tradeDate = xtime.TimeToDate(tradeDateTime)
		}
		quantity := rawQuantity
		if quantity < 0 {
			quantity = -quantity
		}
		execID := t.get(row, "IBExecID")
		if execID == "" {
			execID = synthExecID(symbol, tradeDateTime, tradeDate, side, quantity)
		}
		trades = append(trades, Trade{
			AccountID:     t.get(row, "ClientAccountID"),
			TradeID:       t.get(row, "TradeID"),
			ExecID:        execID,
			Symbol:        symbol,
			Description:   t.get(row, "Description"),
			AssetClass:    t.get(row, "AssetClass"),
			Currency:      t.get(row, "CurrencyPrimary"),
			Exchange:      t.get(row, "Exchange"),
			TradeDate:     tradeDate,
			TradeDateTime: tradeDateTime,
			Side:          side,
			Quantity:      quantity,
			Price:         price,
			Proceeds:      c.float("Proceeds", t.get(row, "Proceeds")),
			Commission:    c.float("IBCommission", t.get(row, "IBCommission")),
			Taxes:         c.float("Taxes", t.get(row, "Taxes")),
			CostBasis:     c.float("CostBasis", t.get(row, "CostBasis")),
			RealizedPnL:   c.float("FifoPnlRealized", t.get(row, "FifoPnlRealized")),
			MtmPnL:        c.float("MtmPnl", t.get(row, "MtmPnl")),
			FXRateToBase:  c.float("FXRateToBase", t.get(row, "FXRateToBase")),
			OrderType:     t.get(row, "OrderType"),
			Underlying:    t.get(row, "UnderlyingSymbol"),
			Strike:        c.float("Strike", t.get(row, "Strike")),
			Expiry:        t.get(row, "Expiry"),
			PutCall:       t.get(row, "Put/Call"),
			Multiplier:    c.float("Multiplier", t.get(row, "Multiplier")),
		})
	}
	return trades
}

// tradeSide derives the trade direction from the explicit Buy/Sell flag when
// present, else from the sign of the raw (signed) quantity.
func tradeSide(buySell string, rawQuantity float64) Side {
	switch strings.ToUpper(buySell) {
	case "B", "BUY":
		return SideBuy
	case "S", "SELL":
		return SideSell
	}
	if rawQuantity < 0 {
		return SideSell
	}
	return SideBuy
}

// positionMTMRows converts a per-position mark-to-market section to Position
// snapshots. Quantity keeps its sign; TransactionMtmPnl maps to the day's
// unrealized P&L.
func positionMTMRows(t *table, c *coercer) []Position {
	var positions []Position
	for i, row := range t.rows {
		c.location = fmt.Sprintf("%v row %d", sectionPositionMTM, i+1)
		symbol := t.get(row, "Symbol")
		if symbol == "" {
			continue
		}
		quantity := c.float("CloseQuantity", t.get(row, "CloseQuantity"))
		closePrice := c.float("ClosePrice", t.get(row, "ClosePrice"))
		positions = append(positions, Position{
			AccountID:     t.get(row, "ClientAccountID"),
			Symbol:        symbol,
			Description:   t.get(row, "Description"),
			AssetClass:    t.get(row, "AssetClass"),
			Currency:      t.get(row, "CurrencyPrimary"),
			Quantity:      quantity,
			MarketPrice:   closePrice,
			MarketValue:   quantity * closePrice,
			UnrealizedPnL: c.float("TransactionMtmPnl", t.get(row, "TransactionMtmPnl")),
			ReportDate:    c.date(t.get(row, "ReportDate")),
		})
	}
	return positions
}
