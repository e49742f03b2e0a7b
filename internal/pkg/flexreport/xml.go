// Copyright 2026 Peter Edge
//
// All rights reserved.

package flexreport

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// xmlTrade is a Trade element in the Flex Query XML format.
// All fields are XML attributes.
type xmlTrade struct {
	AccountID        string `xml:"accountId,attr"`
	TradeID          string `xml:"tradeID,attr"`
	IBExecID         string `xml:"ibExecID,attr"`
	Symbol           string `xml:"symbol,attr"`
	Description      string `xml:"description,attr"`
	AssetCategory    string `xml:"assetCategory,attr"`
	Currency         string `xml:"currency,attr"`
	Exchange         string `xml:"exchange,attr"`
	TradeDate        string `xml:"tradeDate,attr"`
	DateTime         string `xml:"dateTime,attr"`
	BuySell          string `xml:"buySell,attr"`
	LevelOfDetail    string `xml:"levelOfDetail,attr"`
	Quantity         string `xml:"quantity,attr"`
	TradePrice       string `xml:"tradePrice,attr"`
	Proceeds         string `xml:"proceeds,attr"`
	IBCommission     string `xml:"ibCommission,attr"`
	Taxes            string `xml:"taxes,attr"`
	CostBasis        string `xml:"cost,attr"`
	FifoPnlRealized  string `xml:"fifoPnlRealized,attr"`
	MtmPnl           string `xml:"mtmPnl,attr"`
	FXRateToBase     string `xml:"fxRateToBase,attr"`
	OrderType        string `xml:"orderType,attr"`
	UnderlyingSymbol string `xml:"underlyingSymbol,attr"`
	Strike           string `xml:"strike,attr"`
	Expiry           string `xml:"expiry,attr"`
	PutCall          string `xml:"putCall,attr"`
	Multiplier       string `xml:"multiplier,attr"`
}

// xmlPosition is an OpenPosition element in the Flex Query XML format.
type xmlPosition struct {
	AccountID         string `xml:"accountId,attr"`
	Symbol            string `xml:"symbol,attr"`
	Description       string `xml:"description,attr"`
	AssetCategory     string `xml:"assetCategory,attr"`
	Currency          string `xml:"currency,attr"`
	Position          string `xml:"position,attr"`
	CostBasisPrice    string `xml:"costBasisPrice,attr"`
	CostBasisMoney    string `xml:"costBasisMoney,attr"`
	MarkPrice         string `xml:"markPrice,attr"`
	PositionValue     string `xml:"positionValue,attr"`
	FifoPnlUnrealized string `xml:"fifoPnlUnrealized,attr"`
	ReportDate        string `xml:"reportDate,attr"`
}

// xmlCashTransaction is a CashTransaction element in the Flex Query XML format.
type xmlCashTransaction struct {
	AccountID     string `xml:"accountId,attr"`
	TransactionID string `xml:"transactionID,attr"`
	DateTime      string `xml:"dateTime,attr"`
	Currency      string `xml:"currency,attr"`
	Amount        string `xml:"amount,attr"`
	Type          string `xml:"type,attr"`
	Description   string `xml:"description,attr"`
	Symbol        string `xml:"symbol,attr"`
}

// parseXML parses an XML statement body by walking the document for record
// elements wherever they are nested, tolerating both the full
// FlexQueryResponse envelope and bare statement fragments.
func parseXML(body []byte) *Statement {
	statement := &Statement{RawBody: body}
	c := &coercer{}
	decoder := xml.NewDecoder(bytes.NewReader(body))
	for {
		token, err := decoder.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.notef("xml: %v", err)
			}
			break
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "FlexStatement":
			applyStatementAttrs(start, statement, c)
		case "Trade":
			var e xmlTrade
			if err := decoder.DecodeElement(&e, &start); err != nil {
				c.notef("xml trade: %v", err)
				continue
			}
			if trade, ok := e.toTrade(statement.AccountID, c); ok {
				statement.Trades = append(statement.Trades, trade)
			}
		case "OpenPosition":
			var e xmlPosition
			if err := decoder.DecodeElement(&e, &start); err != nil {
				c.notef("xml position: %v", err)
				continue
			}
			if position, ok := e.toPosition(statement.AccountID, c); ok {
				statement.Positions = append(statement.Positions, position)
			}
		case "CashTransaction":
			var e xmlCashTransaction
			if err := decoder.DecodeElement(&e, &start); err != nil {
				c.notef("xml cash transaction: %v", err)
				continue
			}
			statement.CashTransactions = append(statement.CashTransactions, e.toCashTransaction(statement.AccountID, c))
		case "EquitySummaryInBase", "EquitySummaryByReportDateInBase":
			applyEquitySummaryAttrs(start, statement, c)
		case "AccountInformation":
			for _, attr := range start.Attr {
				if attr.Name.Local == "accountId" && statement.AccountID == "" {
					statement.AccountID = attr.Value
				}
			}
		}
	}
	statement.ParseErrors = c.errors
	return statement
}

func applyStatementAttrs(start xml.StartElement, statement *Statement, c *coercer) {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "accountId":
			statement.AccountID = attr.Value
		case "fromDate":
			statement.FromDate = c.date(attr.Value)
		case "toDate":
			statement.ToDate = c.date(attr.Value)
		case "whenGenerated":
			statement.GeneratedAt = c.dateTime(attr.Value)
		}
	}
}

// applyEquitySummaryAttrs records net liquidation and cash from an equity
// summary element. Later elements overwrite earlier ones, so a multi-day
// summary resolves to the most recent report date.
func applyEquitySummaryAttrs(start xml.StartElement, statement *Statement, c *coercer) {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "total":
			total := c.float("equity summary total", attr.Value)
			statement.NetLiquidation = &total
		case "cash":
			cash := c.float("equity summary cash", attr.Value)
			statement.TotalCash = &cash
		}
	}
}

// keepLevelOfDetail reports whether a Trade element is an actual fill.
// Absent means the export carries no level distinction; EXECUTION and ORDER
// are kept, aggregate levels (CLOSED_LOT, SYMBOL_SUMMARY, ...) are not.
func keepLevelOfDetail(levelOfDetail string) bool {
	switch levelOfDetail {
	case "", "EXECUTION", "ORDER":
		return true
	}
	return false
}

func (e *xmlTrade) toTrade(defaultAccountID string, c *coercer) (Trade, bool) {
	if !keepLevelOfDetail(e.LevelOfDetail) {
		return Trade{}, false
	}
	symbol := strings.TrimSpace(e.Symbol)
	if isNull(symbol) {
		return Trade{}, false
	}
	rawQuantity := c.float("quantity", e.Quantity)
	price := c.float("tradePrice", e.TradePrice)
	if rawQuantity == 0 && price == 0 {
		return Trade{}, false
	}
	side := tradeSide(e.BuySell, rawQuantity)
	tradeDateTime := c.dateTime(e.DateTime)
	tradeDate := c.date(e.TradeDate)
	if tradeDate.IsZero() && !tradeDateTime.IsZero() {
		tradeDate = xtime.TimeToDate(tradeDateTime)
	}
	quantity := rawQuantity
	if quantity < 0 {
		quantity = -quantity
	}
	execID := e.IBExecID
	if execID == "" {
		execID = synthExecID(symbol, tradeDateTime, tradeDate, side, quantity)
	}
	return Trade{
		AccountID:     defaultString(e.AccountID, defaultAccountID),
		TradeID:       e.TradeID,
		ExecID:        execID,
		Symbol:        symbol,
		Description:   e.Description,
		AssetClass:    defaultString(e.AssetCategory, "STK"),
		Currency:      defaultString(e.Currency, "USD"),
		Exchange:      e.Exchange,
		TradeDate:     tradeDate,
		TradeDateTime: tradeDateTime,
		Side:          side,
		Quantity:      quantity,
		Price:         price,
		Proceeds:      c.float("proceeds", e.Proceeds),
		Commission:    c.float("ibCommission", e.IBCommission),
		Taxes:         c.float("taxes", e.Taxes),
		CostBasis:     c.float("cost", e.CostBasis),
		RealizedPnL:   c.float("fifoPnlRealized", e.FifoPnlRealized),
		MtmPnL:        c.float("mtmPnl", e.MtmPnl),
		FXRateToBase:  c.float("fxRateToBase", e.FXRateToBase),
		OrderType:     e.OrderType,
		Underlying:    e.UnderlyingSymbol,
		Strike:        c.float("strike", e.Strike),
		Expiry:        e.Expiry,
		PutCall:       e.PutCall,
		Multiplier:    c.float("multiplier", e.Multiplier),
	}, true
}

func (e *xmlPosition) toPosition(defaultAccountID string, c *coercer) (Position, bool) {
	symbol := strings.TrimSpace(e.Symbol)
	if isNull(symbol) {
		return Position{}, false
	}
	return Position{
		AccountID:     defaultString(e.AccountID, defaultAccountID),
		Symbol:        symbol,
		Description:   e.Description,
		AssetClass:    defaultString(e.AssetCategory, "STK"),
		Currency:      defaultString(e.Currency, "USD"),
		Quantity:      c.float("position", e.Position),
		CostBasis:     c.float("costBasisMoney", e.CostBasisMoney),
		CostPrice:     c.float("costBasisPrice", e.CostBasisPrice),
		MarketPrice:   c.float("markPrice", e.MarkPrice),
		MarketValue:   c.float("positionValue", e.PositionValue),
		UnrealizedPnL: c.float("fifoPnlUnrealized", e.FifoPnlUnrealized),
		ReportDate:    c.date(e.ReportDate),
	}, true
}

func (e *xmlCashTransaction) toCashTransaction(defaultAccountID string, c *coercer) CashTransaction {
	return CashTransaction{
		AccountID:     defaultString(e.AccountID, defaultAccountID),
		TransactionID: e.TransactionID,
		Date:          c.date(e.DateTime),
		Currency:      defaultString(e.Currency, "USD"),
		Amount:        c.float("amount", e.Amount),
		Type:          e.Type,
		Description:   e.Description,
		Symbol:        strings.TrimSpace(e.Symbol),
	}
}

func defaultString(value string, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
