// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexctlcmd provides shared wiring for flexctl commands that need
// the ingestion pipeline (reading config, getting the IBKR token, constructing clients).
package flexctlcmd

import (
	"errors"

	"buf.build/go/app/appext"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlarchive"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlconfig"
	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlingest"
	"github.com/wangzl-eric/flexctl/internal/pkg/flexquery"
)

// DirFlagName is the shared flag name for the flexctl base directory.
const DirFlagName = "dir"

// ibkrTokenEnvVar is the environment variable name for the IBKR Flex Web Service token.
const ibkrTokenEnvVar = "IBKR_TOKEN"

// NewFetcher constructs a Fetcher from the appext container and base directory
// by reading the config file, extracting the IBKR token from the environment,
// and creating the required clients. Returns the validated config alongside
// so callers can resolve query names.
func NewFetcher(container appext.Container, dirPath string) (flexctlingest.Fetcher, *flexctlconfig.Config, error) {
	// Read and validate the configuration file.
	config, err := flexctlconfig.ReadConfig(dirPath)
	if err != nil {
		return nil, nil, err
	}
	// Read the IBKR token from the environment via the app container.
	ibkrToken := container.Env(ibkrTokenEnvVar)
	if ibkrToken == "" {
		return nil, nil, errors.New("IBKR_TOKEN environment variable is required, set it to your IBKR Flex Web Service token (see \"flexctl --help\" for details)")
	}
	// Extract the logger from the appext container.
	logger := container.Logger()
	client := flexquery.NewClient(flexquery.ClientWithLogger(logger))
	fetcherOptions := []flexctlingest.FetcherOption{
		flexctlingest.FetcherWithLogger(logger),
	}
	if config.ArchiveEnabled {
		fetcherOptions = append(
			fetcherOptions,
			flexctlingest.FetcherWithArchiver(flexctlarchive.NewArchiver(dirPath)),
		)
	}
	return flexctlingest.NewFetcher(client, ibkrToken, fetcherOptions...), config, nil
}
