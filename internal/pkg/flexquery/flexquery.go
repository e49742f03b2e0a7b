// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexquery provides an API client for the IBKR Flex Query Web Service.
//
// The Flex Query Web Service is a two-step REST API:
//  1. SendRequest: Submits a query and returns a reference code.
//  2. GetStatement: Polls with the reference code until the statement is ready.
//
// Both endpoints require a Flex Web Service token for authentication and
// a "Java" User-Agent header. SendRequest failures are hard errors. The
// GetStatement endpoint is ambiguous: a finished statement arrives as CSV/TSV
// text or as an XML document, while a still-generating statement arrives as
// an XML body (full envelope or bare snippet) carrying Status=Warn and
// ErrorCode=1019. The poller classifies each response and retries transient
// ones with a fixed, format-aware delay.
package flexquery

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wangzl-eric/flexctl/internal/pkg/retry"
	"golang.org/x/time/rate"
)

const (
	// defaultSendRequestURL is the IBKR Flex Web Service endpoint for initiating a query.
	defaultSendRequestURL = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService/SendRequest"
	// defaultGetStatementURL is the IBKR Flex Web Service endpoint for retrieving a statement.
	defaultGetStatementURL = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService/GetStatement"
	// userAgent is the required User-Agent header for IBKR (IBKR expects "Java").
	userAgent = "Java"
	// maxRetries is the maximum number of GetStatement polling attempts.
	maxRetries = 15
	// retryDelay is the delay between polling attempts for XML statements.
	retryDelay = 3 * time.Second
	// csvRetryDelay is the delay between polling attempts when CSV was requested.
	// CSV generation takes longer server-side.
	csvRetryDelay = 6 * time.Second
	// transientErrorCode is the IBKR error code for "statement is being generated".
	transientErrorCode = "1019"
	// minSubstantialBytes is the size above which an unclassifiable response is
	// accepted as a statement rather than retried. IBKR error snippets are small;
	// anything larger is almost certainly report data in an unexpected framing.
	minSubstantialBytes = 500
	// defaultHTTPTimeout is the per-call HTTP timeout.
	defaultHTTPTimeout = 60 * time.Second
)

// StatementReadyWait is how long callers should wait between SendRequest and
// the first GetStatement attempt, to avoid burning an attempt on a response
// that is guaranteed to be transient.
const StatementReadyWait = 5 * time.Second

// RequestFailedError is returned when the SendRequest step is rejected by IBKR.
type RequestFailedError struct {
	// Code is the IBKR error code from the response envelope.
	Code string
	// Message is the IBKR error message from the response envelope.
	Message string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("flex query request failed: %s (code: %s)", e.Message, e.Code)
}

// StatementFailedError is returned when the GetStatement step fails hard (Status=Fail).
type StatementFailedError struct {
	// Code is the IBKR error code from the response envelope.
	Code string
	// Message is the IBKR error message from the response envelope.
	Message string
}

func (e *StatementFailedError) Error() string {
	return fmt.Sprintf("flex query statement failed: %s (code: %s)", e.Message, e.Code)
}

// TimeoutError is returned when every polling attempt saw a transient response.
type TimeoutError struct {
	// Attempts is the number of GetStatement attempts performed.
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("flex query statement not ready after %d attempts", e.Attempts)
}

// Client is the interface for the two-step Flex Query protocol.
type Client interface {
	// SendRequest initiates a Flex Query and returns the reference code.
	//
	// A rejection by IBKR is returned as a *RequestFailedError. This step
	// is never retried: a failed request is a hard error to the caller.
	SendRequest(ctx context.Context, token string, queryID string) (string, error)
	// GetStatement polls the statement endpoint until a final payload arrives.
	//
	// If preferCSV is set, the type=CSV parameter is added to the request.
	// IBKR may ignore the format hint and return XML; an XML body that does
	// not carry the transient Warn/1019 signal is accepted as final.
	// Returns *StatementFailedError on Status=Fail and *TimeoutError when
	// all attempts saw the transient signal.
	GetStatement(ctx context.Context, token string, referenceCode string, preferCSV bool) ([]byte, error)
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*client)

// ClientWithHTTPClient sets the HTTP client to use for requests.
func ClientWithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// ClientWithLogger sets the logger for the client.
func ClientWithLogger(logger *slog.Logger) ClientOption {
	return func(c *client) {
		c.logger = logger
	}
}

// ClientWithBaseURLs overrides the SendRequest and GetStatement endpoint URLs.
// Used by tests to point the client at a local server.
func ClientWithBaseURLs(sendRequestURL string, getStatementURL string) ClientOption {
	return func(c *client) {
		c.sendRequestURL = sendRequestURL
		c.getStatementURL = getStatementURL
	}
}

// ClientWithSleeper sets the sleeper used between polling attempts.
// Used by tests to make the retry loop deterministic.
func ClientWithSleeper(sleeper retry.Sleeper) ClientOption {
	return func(c *client) {
		c.sleep = sleeper
	}
}

// ClientWithLimiter sets the rate limiter applied to outbound HTTP calls.
func ClientWithLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *client) {
		c.limiter = limiter
	}
}

// NewClient creates a new Flex Query API client with the given options.
func NewClient(options ...ClientOption) Client {
	c := &client{
		httpClient:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:          slog.Default(),
		sendRequestURL:  defaultSendRequestURL,
		getStatementURL: defaultGetStatementURL,
		sleep:           retry.DefaultSleeper(),
		// IBKR throttles the Flex Web Service; stay at one request per second.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// *** PRIVATE ***

type client struct {
	httpClient      *http.Client
	logger          *slog.Logger
	sendRequestURL  string
	getStatementURL string
	sleep           retry.Sleeper
	limiter         *rate.Limiter
}

// sendResponse is the XML response envelope from the SendRequest endpoint.
type sendResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	URL           string   `xml:"Url"`
	ErrorCode     string   `xml:"ErrorCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}

func (c *client) SendRequest(ctx context.Context, token string, queryID string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}
	if queryID == "" {
		return "", errors.New("query ID is required")
	}
	// Parameter order matches IBKR docs: t, q, v.
	reqURL := fmt.Sprintf("%s?t=%s&q=%s&v=3", c.sendRequestURL, token, queryID)
	c.logger.Debug("sending flex query request", "query_id", queryID)
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return "", err
	}
	var sendResp sendResponse
	if err := xml.Unmarshal(body, &sendResp); err != nil {
		return "", fmt.Errorf("parsing send response: %w", err)
	}
	if sendResp.Status != "Success" {
		return "", &RequestFailedError{Code: sendResp.ErrorCode, Message: sendResp.ErrorMessage}
	}
	if sendResp.ReferenceCode == "" {
		return "", &RequestFailedError{Message: "no reference code in response"}
	}
	return sendResp.ReferenceCode, nil
}

func (c *client) GetStatement(ctx context.Context, token string, referenceCode string, preferCSV bool) ([]byte, error) {
	// Parameter order matches IBKR docs: t, q, v, [type].
	reqURL := fmt.Sprintf("%s?t=%s&q=%s&v=3", c.getStatementURL, token, referenceCode)
	if preferCSV {
		reqURL += "&type=CSV"
	}
	body, err := retry.Do(ctx, maxRetries, c.sleep,
		func(ctx context.Context, attempt int) ([]byte, time.Duration, error) {
			if attempt > 0 {
				c.logger.Info("waiting for flex query statement", "attempt", attempt+1, "max_attempts", maxRetries)
			}
			body, err := c.get(ctx, reqURL)
			if err != nil {
				// Transport failures are not part of the retry state machine.
				return nil, 0, err
			}
			class := classifyStatementBody(body)
			switch class.kind {
			case bodyCSV:
				c.logger.Info("statement retrieved", "format", "csv", "bytes", len(body))
				return body, 0, nil
			case bodyXMLFinal:
				// IBKR may ignore the CSV format hint; a non-transient XML
				// document is the final statement.
				c.logger.Info("statement retrieved", "format", "xml", "bytes", len(body))
				return body, 0, nil
			case bodyTransient:
				delay := retryDelay
				if preferCSV {
					delay = csvRetryDelay
				}
				c.logger.Info("statement still generating", "delay", delay)
				return nil, delay, nil
			case bodyFail:
				return nil, 0, &StatementFailedError{Code: class.errorCode, Message: class.errorMessage}
			default:
				// Not XML, not obviously CSV. A substantial body is almost
				// certainly report data in an unexpected framing; accept it.
				if len(body) > minSubstantialBytes {
					c.logger.Info("statement retrieved", "format", "unknown", "bytes", len(body))
					return body, 0, nil
				}
				c.logger.Warn("unexpected response, retrying", "bytes", len(body))
				return nil, retryDelay, nil
			}
		},
	)
	if errors.Is(err, retry.ErrExhausted) {
		return nil, &TimeoutError{Attempts: maxRetries}
	}
	return body, err
}

// get performs a rate-limited HTTP GET and returns the response body.
func (c *client) get(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// bodyKind classifies a GetStatement response body.
type bodyKind int

const (
	// bodyUnknown is a body that is neither XML-framed nor obviously CSV.
	bodyUnknown bodyKind = iota
	// bodyCSV is a final CSV/TSV statement.
	bodyCSV
	// bodyXMLFinal is a final XML statement document.
	bodyXMLFinal
	// bodyTransient is the Warn/1019 "still generating" signal.
	bodyTransient
	// bodyFail is a hard Status=Fail error.
	bodyFail
)

type bodyClass struct {
	kind         bodyKind
	errorCode    string
	errorMessage string
}

// classifyStatementBody decides what a GetStatement response body is.
//
// The transient signal can arrive as a full FlexStatementResponse envelope or
// as a bare <Status>/<ErrorCode> snippet, so any XML body carrying Status=Warn
// and ErrorCode=1019 is treated as transient regardless of envelope shape.
func classifyStatementBody(body []byte) bodyClass {
	text := string(body)
	if looksLikeCSV(text) {
		return bodyClass{kind: bodyCSV}
	}
	status, code, message := scanXMLStatus(body)
	if status == "Fail" {
		return bodyClass{kind: bodyFail, errorCode: code, errorMessage: message}
	}
	if status == "Warn" && code == transientErrorCode {
		return bodyClass{kind: bodyTransient}
	}
	if strings.HasPrefix(strings.TrimSpace(text), "<") {
		return bodyClass{kind: bodyXMLFinal}
	}
	return bodyClass{kind: bodyUnknown}
}

// looksLikeCSV reports whether the body starts like a CSV/TSV statement:
// a quoted header, or comma-structured text that is not XML-framed.
func looksLikeCSV(text string) bool {
	head := text
	if len(head) > 200 {
		head = head[:200]
	}
	if strings.HasPrefix(text, `"`) && (strings.Contains(head, "\t") || strings.Contains(head, ",")) {
		return true
	}
	if len(text) > 100 && strings.Contains(head, ",") && !strings.HasPrefix(strings.TrimSpace(text), "<") {
		return true
	}
	return false
}

// scanXMLStatus extracts the first Status, ErrorCode, and ErrorMessage element
// values from an XML body. The token scan tolerates partial envelopes (multiple
// root siblings, truncated documents) and returns whatever was found before the
// first syntax error or EOF.
func scanXMLStatus(body []byte) (status string, errorCode string, errorMessage string) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	var element string
	for {
		token, err := decoder.Token()
		if err != nil {
			return status, errorCode, errorMessage
		}
		switch t := token.(type) {
		case xml.StartElement:
			element = t.Name.Local
		case xml.CharData:
			value := strings.TrimSpace(string(t))
			if value == "" {
				continue
			}
			switch element {
			case "Status":
				if status == "" {
					status = value
				}
			case "ErrorCode":
				if errorCode == "" {
					errorCode = value
				}
			case "ErrorMessage":
				if errorMessage == "" {
					errorMessage = value
				}
			}
		case xml.EndElement:
			element = ""
		}
		if status != "" && errorCode != "" && errorMessage != "" {
			return status, errorCode, errorMessage
		}
	}
}
