// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexctlpath derives directory paths from the flexctl base directory.
// All subdirectory layout is defined here so callers don't duplicate
// path construction logic.
//
// The base directory (--dir flag) contains:
//
//	flexctl.yaml                      Config file
//	archive/<date>/<type>/            Raw statement bodies as fetched
//	records/<query-name>/             Canonical record exports
package flexctlpath

import (
	"path/filepath"

	"github.com/wangzl-eric/flexctl/internal/standard/xtime"
)

// ConfigFileName is the well-known config file name within the base directory.
const ConfigFileName = "flexctl.yaml"

// ConfigFilePath returns the path to the config file within the base directory.
func ConfigFilePath(dirPath string) string {
	return filepath.Join(dirPath, ConfigFileName)
}

// ArchiveDirPath returns the directory for archived raw statement bodies.
func ArchiveDirPath(dirPath string) string {
	return filepath.Join(dirPath, "archive")
}

// ArchiveDayDirPath returns the archive directory for a given day and query type.
func ArchiveDayDirPath(dirPath string, date xtime.Date, queryType string) string {
	return filepath.Join(dirPath, "archive", date.String(), queryType)
}

// RecordsDirPath returns the directory for canonical record exports.
func RecordsDirPath(dirPath string) string {
	return filepath.Join(dirPath, "records")
}

// RecordsQueryDirPath returns the record export directory for a specific query.
func RecordsQueryDirPath(dirPath string, queryName string) string {
	return filepath.Join(dirPath, "records", queryName)
}
