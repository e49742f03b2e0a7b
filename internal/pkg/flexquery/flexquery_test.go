// Copyright 2026 Peter Edge
//
// All rights reserved.

package flexquery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const sendSuccessBody = `<FlexStatementResponse timestamp="28 August, 2026 10:00 AM EDT">
<Status>Success</Status>
<ReferenceCode>1234567890</ReferenceCode>
<Url>https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService/GetStatement</Url>
</FlexStatementResponse>`

const sendFailBody = `<FlexStatementResponse timestamp="28 August, 2026 10:00 AM EDT">
<Status>Fail</Status>
<ErrorCode>9999</ErrorCode>
<ErrorMessage>Token has expired.</ErrorMessage>
</FlexStatementResponse>`

const transientEnvelopeBody = `<FlexStatementResponse timestamp="28 August, 2026 10:00 AM EDT">
<Status>Warn</Status>
<ErrorCode>1019</ErrorCode>
<ErrorMessage>Statement generation in progress. Please try again shortly.</ErrorMessage>
</FlexStatementResponse>`

// transientSnippetBody is the bare form of the transient signal: no envelope,
// multiple root siblings.
const transientSnippetBody = `<Status>Warn</Status><ErrorCode>1019</ErrorCode>`

const statementFailBody = `<FlexStatementResponse timestamp="28 August, 2026 10:00 AM EDT">
<Status>Fail</Status>
<ErrorCode>1020</ErrorCode>
<ErrorMessage>Invalid request or unable to validate request.</ErrorMessage>
</FlexStatementResponse>`

const csvStatementBody = `"ClientAccountID","Symbol","TradeID","Buy/Sell","Quantity","TradePrice","LevelOfDetail"
"U1234567","AAPL","100001","B","100","50.25","EXECUTION"`

const xmlStatementBody = `<FlexQueryResponse queryName="trades" type="AF">
<FlexStatements count="1">
<FlexStatement accountId="U1234567" fromDate="20260801" toDate="20260828" whenGenerated="20260828;100500">
<Trades>
<Trade tradeID="100001" symbol="AAPL" quantity="100" tradePrice="50.25" levelOfDetail="EXECUTION"/>
</Trades>
</FlexStatement>
</FlexStatements>
</FlexQueryResponse>`

// newTestClient points a client at the test server with no rate limiting and
// a sleeper that records delays instead of sleeping.
func newTestClient(server *httptest.Server, delays *[]time.Duration) Client {
	return NewClient(
		ClientWithHTTPClient(server.Client()),
		ClientWithBaseURLs(server.URL+"/SendRequest", server.URL+"/GetStatement"),
		ClientWithLimiter(rate.NewLimiter(rate.Inf, 0)),
		ClientWithSleeper(func(_ context.Context, delay time.Duration) error {
			*delays = append(*delays, delay)
			return nil
		}),
	)
}

func TestSendRequest(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// IBKR rejects requests without the Java User-Agent.
		require.Equal(t, "Java", r.Header.Get("User-Agent"))
		require.Equal(t, "test-token", r.URL.Query().Get("t"))
		require.Equal(t, "42", r.URL.Query().Get("q"))
		require.Equal(t, "3", r.URL.Query().Get("v"))
		fmt.Fprint(w, sendSuccessBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	referenceCode, err := client.SendRequest(context.Background(), "test-token", "42")
	require.NoError(t, err)
	require.Equal(t, "1234567890", referenceCode)
}

func TestSendRequestFail(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, sendFailBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	_, err := client.SendRequest(context.Background(), "test-token", "42")
	var requestFailedErr *RequestFailedError
	require.ErrorAs(t, err, &requestFailedErr)
	require.Equal(t, "9999", requestFailedErr.Code)
	require.Equal(t, "Token has expired.", requestFailedErr.Message)
}

func TestGetStatementTransientThenCSV(t *testing.T) {
	t.Parallel()
	// Three transient responses (mixed envelope shapes), then the CSV body.
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "CSV", r.URL.Query().Get("type"))
		calls++
		switch calls {
		case 1, 2:
			fmt.Fprint(w, transientEnvelopeBody)
		case 3:
			fmt.Fprint(w, transientSnippetBody)
		default:
			fmt.Fprint(w, csvStatementBody)
		}
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	body, err := client.GetStatement(context.Background(), "test-token", "1234567890", true)
	require.NoError(t, err)
	require.Equal(t, csvStatementBody, string(body))
	require.Equal(t, 4, calls)
	// CSV was requested, so every transient sleep uses the CSV delay.
	require.Equal(t, []time.Duration{6 * time.Second, 6 * time.Second, 6 * time.Second}, delays)
}

func TestGetStatementXMLFinalDespiteCSVRequest(t *testing.T) {
	t.Parallel()
	// The vendor may ignore the CSV format hint and return XML.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, xmlStatementBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	body, err := client.GetStatement(context.Background(), "test-token", "1234567890", true)
	require.NoError(t, err)
	require.Equal(t, xmlStatementBody, string(body))
	require.Empty(t, delays)
}

func TestGetStatementTimeout(t *testing.T) {
	t.Parallel()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, transientEnvelopeBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	_, err := client.GetStatement(context.Background(), "test-token", "1234567890", false)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, maxRetries, timeoutErr.Attempts)
	// Exactly maxRetries attempts, with no sleep after the last one.
	require.Equal(t, maxRetries, calls)
	require.Len(t, delays, maxRetries-1)
	// XML was requested, so the shorter delay applies.
	require.Equal(t, 3*time.Second, delays[0])
}

func TestGetStatementFail(t *testing.T) {
	t.Parallel()
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		fmt.Fprint(w, statementFailBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	_, err := client.GetStatement(context.Background(), "test-token", "1234567890", false)
	var statementFailedErr *StatementFailedError
	require.ErrorAs(t, err, &statementFailedErr)
	require.Equal(t, "1020", statementFailedErr.Code)
	// Hard failure stops immediately, no retries.
	require.Equal(t, 1, calls)
	require.Empty(t, delays)
}

func TestGetStatementSubstantialFallback(t *testing.T) {
	t.Parallel()
	// Not XML-framed, no commas or tabs, but far larger than an error
	// snippet: accepted as-is.
	substantialBody := strings.Repeat("some report text without structure\n", 30)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, substantialBody)
	}))
	defer server.Close()
	var delays []time.Duration
	client := newTestClient(server, &delays)

	body, err := client.GetStatement(context.Background(), "test-token", "1234567890", false)
	require.NoError(t, err)
	require.Equal(t, substantialBody, string(body))
	require.Empty(t, delays)
}

func TestClassifyStatementBody(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		body string
		kind bodyKind
	}{
		{name: "csv quoted header", body: csvStatementBody, kind: bodyCSV},
		{name: "tsv quoted header", body: "\"ClientAccountID\"\t\"Symbol\"\n\"U1\"\t\"AAPL\"", kind: bodyCSV},
		{name: "xml final", body: xmlStatementBody, kind: bodyXMLFinal},
		{name: "transient envelope", body: transientEnvelopeBody, kind: bodyTransient},
		{name: "transient snippet", body: transientSnippetBody, kind: bodyTransient},
		{name: "fail", body: statementFailBody, kind: bodyFail},
		{name: "small unknown", body: "please wait", kind: bodyUnknown},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, testCase.kind, classifyStatementBody([]byte(testCase.body)).kind)
		})
	}
}
