// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexctlarchive saves raw statement bodies for later re-parsing.
//
// Archival is best-effort by contract: callers log failures and continue,
// an archive problem must never abort an ingestion.
package flexctlarchive

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlpath"
	"github.com/wangzl-eric/flexctl/internal/standard/xos"
	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// Archiver saves raw statement bodies.
type Archiver interface {
	// Save writes the raw body under archive/<date>/<type>/ in the base
	// directory and returns the written file path. The file extension is
	// sniffed from the body content (xml, csv, or txt).
	Save(rawBody []byte, queryID string, queryName string, queryType string) (string, error)
}

// ArchiverOption is a functional option for configuring the Archiver.
type ArchiverOption func(*archiver)

// ArchiverWithNow sets the clock used for archive file timestamps.
// Used by tests to make file names deterministic.
func ArchiverWithNow(now func() time.Time) ArchiverOption {
	return func(a *archiver) {
		a.now = now
	}
}

// NewArchiver creates a new Archiver rooted at the given base directory.
func NewArchiver(dirPath string, options ...ArchiverOption) Archiver {
	a := &archiver{
		dirPath: dirPath,
		now:     time.Now,
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// *** PRIVATE ***

type archiver struct {
	dirPath string
	now     func() time.Time
}

func (a *archiver) Save(rawBody []byte, queryID string, queryName string, queryType string) (string, error) {
	now := a.now()
	dayDirPath := flexctlpath.ArchiveDayDirPath(a.dirPath, xtime.TimeToDate(now), queryType)
	name := sanitizeName(queryName)
	if name == "" {
		name = sanitizeName(queryID)
	}
	fileName := name + "_" + now.Format("150405") + "." + sniffExtension(rawBody)
	filePath := filepath.Join(dayDirPath, fileName)
	if err := xos.WriteFile(filePath, rawBody); err != nil {
		return "", err
	}
	return filePath, nil
}

// sniffExtension picks a file extension from the body content: XML framing
// wins, then anything comma/tab structured is CSV, else plain text.
func sniffExtension(rawBody []byte) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if strings.HasPrefix(trimmed, "<") {
		return "xml"
	}
	if strings.ContainsAny(trimmed, ",\t") {
		return "csv"
	}
	return "txt"
}

// sanitizeName lowercases a query name and replaces anything outside
// [a-z0-9_-] with underscores, so names are safe as file name stems.
func sanitizeName(name string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	return strings.Trim(builder.String(), "_")
}
