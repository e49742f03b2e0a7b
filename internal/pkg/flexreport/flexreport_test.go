// Copyright 2026 Peter Edge
//
// All rights reserved.

package flexreport

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
	"github.com/stretchr/testify/require"
)

const csvTradesBody = `"ClientAccountID"	"Symbol"	"Description"	"TradeID"	"IBExecID"	"TradeDate"	"DateTime"	"Buy/Sell"	"Quantity"	"TradePrice"	"Proceeds"	"IBCommission"	"FifoPnlRealized"	"CurrencyPrimary"	"LevelOfDetail"
"U1234567"	"AAPL"	"APPLE INC"	"100001"	"0000e1a0.1"	"20260826"	"20260826;103601"	"B"	"100"	"50.25"	"-5025"	"-1"	"0"	"USD"	"EXECUTION"
"U1234567"	"MSFT"	"MICROSOFT CORP"	"100002"	""	"20260826"	"20260826;110000"	"S"	"-25"	"400.10"	"10002.5"	"-1"	"120.5"	"USD"	"EXECUTION"
"U1234567"	"AAPL"	"APPLE INC"	"100001"	""	"20260826"	"20260826;103601"	"B"	"100"	"50.25"	"-5025"	"-1"	"0"	"USD"	"ORDER"
"U1234567"	""	""	""	""	""	""	""	"0"	"0"	"0"	"0"	"0"	""	"EXECUTION"`

const csvMixedBody = `"ClientAccountID"	"FromDate"	"ToDate"	"StartingValue"	"EndingValue"	"EndingCash"
"U1234567"	"20260801"	"20260828"	"90000"	"100000.50"	"2500.25"
"ClientAccountID"	"Symbol"	"Description"	"CloseQuantity"	"ClosePrice"	"TransactionMtmPnl"	"CurrencyPrimary"	"ReportDate"
"U1234567"	"AAPL"	"APPLE INC"	"100"	"51.00"	"75.5"	"USD"	"20260828"
"U1234567"	"VT"	"VANGUARD TOTAL"	"-10"	"110.00"	"-12.25"	"USD"	"20260828"
"ClientAccountID"	"Symbol"	"TradeID"	"IBExecID"	"Buy/Sell"	"Quantity"	"TradePrice"	"CurrencyPrimary"	"LevelOfDetail"
"U1234567"	"AAPL"	"100001"	"0000e1a0.1"	"B"	"100"	"50.25"	"USD"	"EXECUTION"`

const xmlStatementBody = `<FlexQueryResponse queryName="activity" type="AF">
<FlexStatements count="1">
<FlexStatement accountId="U1234567" fromDate="20260801" toDate="20260828" whenGenerated="20260828;100500">
<Trades>
<Trade tradeID="100001" ibExecID="0000e1a0.1" symbol="AAPL" description="APPLE INC" assetCategory="STK" currency="USD" tradeDate="20260826" dateTime="20260826;103601" buySell="BUY" levelOfDetail="EXECUTION" quantity="100" tradePrice="50.25" proceeds="-5025" ibCommission="-1" fifoPnlRealized="0"/>
<Trade tradeID="100002" symbol="AAPL" levelOfDetail="CLOSED_LOT" quantity="100" tradePrice="50.25"/>
</Trades>
<OpenPositions>
<OpenPosition accountId="U1234567" symbol="AAPL" assetCategory="STK" currency="USD" position="100" costBasisPrice="48.10" costBasisMoney="4810" markPrice="51.00" positionValue="5100" fifoPnlUnrealized="290" reportDate="20260828"/>
</OpenPositions>
<CashTransactions>
<CashTransaction accountId="U1234567" transactionID="500001" dateTime="20260815;000000" currency="USD" amount="25.5" type="Dividends" description="AAPL DIVIDEND" symbol="AAPL"/>
</CashTransactions>
<EquitySummaryInBase>
<EquitySummaryByReportDateInBase reportDate="20260828" total="100000.50" cash="2500.25"/>
</EquitySummaryInBase>
</FlexStatement>
</FlexStatements>
</FlexQueryResponse>`

func TestIsCSV(t *testing.T) {
	t.Parallel()
	require.True(t, IsCSV(csvTradesBody))
	require.True(t, IsCSV("Symbol,Quantity\nAAPL,100"))
	require.False(t, IsCSV(xmlStatementBody))
	require.False(t, IsCSV("  <?xml version=\"1.0\"?><FlexQueryResponse/>"))
	require.False(t, IsCSV("<FlexStatementResponse><Status>Warn</Status></FlexStatementResponse>"))
}

func TestParseEmptyBody(t *testing.T) {
	t.Parallel()
	statement := Parse([]byte(""))
	require.Empty(t, statement.Trades)
	require.Empty(t, statement.Positions)
	require.Empty(t, statement.CashTransactions)
	require.Empty(t, statement.ParseErrors)
}

func TestParseCSVTrades(t *testing.T) {
	t.Parallel()
	statement := Parse([]byte(csvTradesBody))
	require.Empty(t, statement.ParseErrors)
	// The ORDER row and the blank summary row are excluded.
	require.Len(t, statement.Trades, 2)

	aapl := statement.Trades[0]
	require.Equal(t, "U1234567", aapl.AccountID)
	require.Equal(t, "AAPL", aapl.Symbol)
	require.Equal(t, SideBuy, aapl.Side)
	require.Equal(t, 100.0, aapl.Quantity)
	require.Equal(t, 50.25, aapl.Price)
	require.Equal(t, -5025.0, aapl.Proceeds)
	require.Equal(t, -1.0, aapl.Commission)
	require.Equal(t, "0000e1a0.1", aapl.ExecID)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 26}, aapl.TradeDate)
	require.Equal(t, time.Date(2026, time.August, 26, 10, 36, 1, 0, time.UTC), aapl.TradeDateTime)

	// The MSFT sell has a negative raw quantity but an explicit S flag,
	// and no exec ID, so one is synthesized.
	msft := statement.Trades[1]
	require.Equal(t, SideSell, msft.Side)
	require.Equal(t, 25.0, msft.Quantity)
	require.Equal(t, 120.5, msft.RealizedPnL)
	require.Equal(t, "MSFT_20260826110000_SELL_25", msft.ExecID)
}

func TestParseCSVSections(t *testing.T) {
	t.Parallel()
	statement := Parse([]byte(csvMixedBody))
	require.Empty(t, statement.ParseErrors)

	// Account summary section.
	require.Equal(t, "U1234567", statement.AccountID)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 1}, statement.FromDate)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 28}, statement.ToDate)
	require.NotNil(t, statement.NetLiquidation)
	require.Equal(t, 100000.50, *statement.NetLiquidation)
	require.NotNil(t, statement.TotalCash)
	require.Equal(t, 2500.25, *statement.TotalCash)

	// Mark-to-market section becomes position snapshots with signed quantity.
	require.Len(t, statement.Positions, 2)
	require.Equal(t, 100.0, statement.Positions[0].Quantity)
	require.Equal(t, 51.0, statement.Positions[0].MarketPrice)
	require.Equal(t, 5100.0, statement.Positions[0].MarketValue)
	require.Equal(t, 75.5, statement.Positions[0].UnrealizedPnL)
	require.Equal(t, -10.0, statement.Positions[1].Quantity)

	// Trades section.
	require.Len(t, statement.Trades, 1)
	require.Equal(t, "AAPL", statement.Trades[0].Symbol)
}

func TestParseXML(t *testing.T) {
	t.Parallel()
	statement := Parse([]byte(xmlStatementBody))
	require.Empty(t, statement.ParseErrors)
	require.Equal(t, "U1234567", statement.AccountID)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 1}, statement.FromDate)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 28}, statement.ToDate)
	require.Equal(t, time.Date(2026, time.August, 28, 10, 5, 0, 0, time.UTC), statement.GeneratedAt)

	// The CLOSED_LOT aggregate row is excluded.
	require.Len(t, statement.Trades, 1)
	trade := statement.Trades[0]
	require.Equal(t, SideBuy, trade.Side)
	require.Equal(t, 100.0, trade.Quantity)
	require.Equal(t, 50.25, trade.Price)

	require.Len(t, statement.Positions, 1)
	position := statement.Positions[0]
	require.Equal(t, 100.0, position.Quantity)
	require.Equal(t, 48.10, position.CostPrice)
	require.Equal(t, 290.0, position.UnrealizedPnL)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 28}, position.ReportDate)

	require.Len(t, statement.CashTransactions, 1)
	cashTransaction := statement.CashTransactions[0]
	require.Equal(t, "Dividends", cashTransaction.Type)
	require.Equal(t, 25.5, cashTransaction.Amount)
	require.Equal(t, "AAPL", cashTransaction.Symbol)
	require.Equal(t, xtime.Date{Year: 2026, Month: time.August, Day: 15}, cashTransaction.Date)

	require.NotNil(t, statement.NetLiquidation)
	require.Equal(t, 100000.50, *statement.NetLiquidation)
	require.NotNil(t, statement.TotalCash)
	require.Equal(t, 2500.25, *statement.TotalCash)
}

func TestParseXMLSideFromQuantitySign(t *testing.T) {
	t.Parallel()
	// No buySell attribute: side comes from the quantity sign.
	statement := Parse([]byte(`<FlexQueryResponse><FlexStatements><FlexStatement accountId="U1">
<Trades><Trade levelOfDetail="EXECUTION" quantity="-50" tradePrice="10.0" symbol="AAPL"/></Trades>
</FlexStatement></FlexStatements></FlexQueryResponse>`))
	require.Len(t, statement.Trades, 1)
	trade := statement.Trades[0]
	require.Equal(t, SideSell, trade.Side)
	require.Equal(t, 50.0, trade.Quantity)
	require.Equal(t, 10.0, trade.Price)
	// Documented attribute defaults.
	require.Equal(t, "USD", trade.Currency)
	require.Equal(t, "STK", trade.AssetClass)
}

// TestCrossFormatEquivalence verifies that a CSV fixture and an XML fixture
// encoding the same logical trade parse to equal canonical records.
func TestCrossFormatEquivalence(t *testing.T) {
	t.Parallel()
	csvBody := `"ClientAccountID"	"Symbol"	"Description"	"AssetClass"	"TradeID"	"IBExecID"	"TradeDate"	"DateTime"	"Buy/Sell"	"Quantity"	"TradePrice"	"Proceeds"	"IBCommission"	"FifoPnlRealized"	"CurrencyPrimary"	"LevelOfDetail"
"U1234567"	"AAPL"	"APPLE INC"	"STK"	"100001"	"0000e1a0.1"	"20260826"	"20260826;103601"	"B"	"100"	"50.25"	"-5025"	"-1"	"0"	"USD"	"EXECUTION"`
	xmlBody := `<FlexQueryResponse><FlexStatements><FlexStatement accountId="U1234567" fromDate="20260801" toDate="20260828">
<Trades><Trade tradeID="100001" ibExecID="0000e1a0.1" symbol="AAPL" description="APPLE INC" currency="USD" tradeDate="20260826" dateTime="20260826;103601" buySell="BUY" levelOfDetail="EXECUTION" quantity="100" tradePrice="50.25" proceeds="-5025" ibCommission="-1" fifoPnlRealized="0"/></Trades>
</FlexStatement></FlexStatements></FlexQueryResponse>`

	csvStatement := Parse([]byte(csvBody))
	xmlStatement := Parse([]byte(xmlBody))
	require.Len(t, csvStatement.Trades, 1)
	require.Len(t, xmlStatement.Trades, 1)

	if diff := cmp.Diff(xmlStatement.Trades[0], csvStatement.Trades[0]); diff != "" {
		t.Errorf("CSV and XML trades differ (-xml +csv):\n%s", diff)
	}
}

// TestParseDeterminism verifies that parsing the same body twice yields
// identical output: no hidden accumulation across calls.
func TestParseDeterminism(t *testing.T) {
	t.Parallel()
	for _, body := range []string{csvMixedBody, xmlStatementBody} {
		first := Parse([]byte(body))
		second := Parse([]byte(body))
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("repeated parse differs:\n%s", diff)
		}
	}
}

// TestSynthesizedExecIDDistinct verifies that two rows sharing a TradeID where
// one has a vendor exec ID and the other does not remain distinct records.
func TestSynthesizedExecIDDistinct(t *testing.T) {
	t.Parallel()
	body := `"ClientAccountID"	"Symbol"	"TradeID"	"IBExecID"	"Buy/Sell"	"Quantity"	"TradePrice"	"DateTime"	"LevelOfDetail"
"U1"	"AAPL"	"100001"	"0000e1a0.1"	"B"	"100"	"50.25"	"20260826;103601"	"EXECUTION"
"U1"	"AAPL"	"100001"	""	"B"	"100"	"50.25"	"20260826;103601"	"EXECUTION"`
	statement := Parse([]byte(body))
	require.Len(t, statement.Trades, 2)
	require.Equal(t, "0000e1a0.1", statement.Trades[0].ExecID)
	require.Equal(t, "AAPL_20260826103601_BUY_100", statement.Trades[1].ExecID)
	require.NotEqual(t, statement.Trades[0].ExecID, statement.Trades[1].ExecID)
}

// TestAssetSummarySectionExcluded verifies that a per-asset-class value
// summary table closes the preceding section instead of being absorbed into
// it as data rows. Those tables carry no canonical records.
func TestAssetSummarySectionExcluded(t *testing.T) {
	t.Parallel()
	body := `"ClientAccountID"	"Symbol"	"Description"	"CloseQuantity"	"ClosePrice"	"TransactionMtmPnl"	"CurrencyPrimary"	"ReportDate"
"U1234567"	"AAPL"	"APPLE INC"	"100"	"51.00"	"75.5"	"USD"	"20260828"
"ClientAccountID"	"AssetClass"	"Prior Period Value"	"Transactions"	"Current Value"
"U1234567"	"STK"	"4500"	"5"	"5100"`
	statement := Parse([]byte(body))
	require.Empty(t, statement.ParseErrors)
	require.Len(t, statement.Positions, 1)
	require.Equal(t, "AAPL", statement.Positions[0].Symbol)
	require.Empty(t, statement.Trades)
}

func TestMalformedNumericsRecovered(t *testing.T) {
	t.Parallel()
	body := `"ClientAccountID"	"Symbol"	"TradeID"	"Buy/Sell"	"Quantity"	"TradePrice"	"Proceeds"	"LevelOfDetail"
"U1"	"AAPL"	"100001"	"B"	"100"	"50.25"	"garbage"	"EXECUTION"
"U1"	"MSFT"	"100002"	"S"	"10"	"400.10"	"4001"	"EXECUTION"`
	statement := Parse([]byte(body))
	// The malformed field resolves to zero and is recorded, the row and all
	// later rows survive.
	require.Len(t, statement.Trades, 2)
	require.Equal(t, 0.0, statement.Trades[0].Proceeds)
	require.Equal(t, 4001.0, statement.Trades[1].Proceeds)
	require.Len(t, statement.ParseErrors, 1)
	require.Contains(t, statement.ParseErrors[0], "garbage")
	// The note names the section and row that produced the bad value.
	require.Contains(t, statement.ParseErrors[0], "trades row 1")
}

func TestNoSectionMarkersFallsBackToTrades(t *testing.T) {
	t.Parallel()
	// No recognizable section header: the whole body is treated as a single
	// trades-like table.
	body := "Symbol,Quantity,TradePrice,Buy/Sell\nAAPL,100,50.25,B"
	statement := Parse([]byte(body))
	require.Len(t, statement.Trades, 1)
	require.Equal(t, "AAPL", statement.Trades[0].Symbol)
	require.Equal(t, SideBuy, statement.Trades[0].Side)
}

func TestQuantityAlwaysNonNegative(t *testing.T) {
	t.Parallel()
	body := `"ClientAccountID"	"Symbol"	"TradeID"	"Buy/Sell"	"Quantity"	"TradePrice"	"LevelOfDetail"
"U1"	"AAPL"	"1"	""	"-100"	"50"	"EXECUTION"
"U1"	"MSFT"	"2"	""	"100"	"400"	"EXECUTION"`
	statement := Parse([]byte(body))
	require.Len(t, statement.Trades, 2)
	// Side derives from the raw quantity sign when no explicit flag exists.
	require.Equal(t, SideSell, statement.Trades[0].Side)
	require.Equal(t, SideBuy, statement.Trades[1].Side)
	for _, trade := range statement.Trades {
		require.GreaterOrEqual(t, trade.Quantity, 0.0)
	}
}
