// Copyright 2026 Peter Edge
//
// All rights reserved.

package flexreport

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// dateFormats are the accepted date layouts, tried in order.
var dateFormats = []string{
	"20060102",
	"2006-01-02",
}

// dateTimeFormats are the accepted timestamp layouts, tried in order.
var dateTimeFormats = []string{
	"20060102;150405",
	"20060102;1504",
	"2006-01-02 15:04:05",
	"2006-01-02;15:04:05",
}

// coercer converts vendor field values with tolerant defaults, recording
// problems as non-fatal notes instead of failing. Both the CSV and XML
// parsers share one coercer per parse so that logically identical fixtures
// in either format produce identical canonical output.
type coercer struct {
	// location names the section and row currently being coerced so that
	// notes on multi-table bodies say where the bad value came from.
	location string
	errors   []string
}

func (c *coercer) notef(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	if c.location != "" {
		message = c.location + ": " + message
	}
	c.errors = append(c.errors, message)
}

// isNull reports whether a vendor field value means "no value".
func isNull(value string) bool {
	switch strings.TrimSpace(value) {
	case "", "nan", "NaN":
		return true
	}
	return false
}

// float parses a numeric field. Null and malformed values resolve to 0;
// malformed ones additionally record a note.
func (c *coercer) float(field string, value string) float64 {
	if isNull(value) {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		c.notef("%s: unparseable number %q", field, value)
		return 0
	}
	return f
}

// date parses a date field, trying each accepted layout in order.
// A timestamp value is truncated to its date part. Unparseable values
// resolve to the zero Date.
func (c *coercer) date(value string) xtime.Date {
	if isNull(value) {
		return xtime.Date{}
	}
	value = strings.TrimSpace(value)
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return xtime.TimeToDate(t)
		}
	}
	return xtime.Date{}
}

// dateTime parses a timestamp field, falling back to a bare date at
// midnight. Unparseable values resolve to the zero time.
func (c *coercer) dateTime(value string) time.Time {
	if isNull(value) {
		return time.Time{}
	}
	value = strings.TrimSpace(value)
	for _, format := range dateTimeFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t
		}
	}
	if date := c.date(value); !date.IsZero() {
		return time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, time.UTC)
	}
	return time.Time{}
}

// synthExecID builds a deterministic execution ID for trades where the
// vendor left the field blank: symbol_YYYYMMDDHHMMSS_side_quantity.
func synthExecID(symbol string, dateTime time.Time, date xtime.Date, side Side, quantity float64) string {
	timestamp := "00000000000000"
	switch {
	case !dateTime.IsZero():
		timestamp = dateTime.Format("20060102150405")
	case !date.IsZero():
		timestamp = fmt.Sprintf("%04d%02d%02d000000", date.Year, date.Month, date.Day)
	}
	return fmt.Sprintf("%s_%s_%s_%s", symbol, timestamp, side, strconv.FormatFloat(quantity, 'f', -1, 64))
}
