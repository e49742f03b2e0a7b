// Copyright 2026 Peter Edge
//
// All rights reserved.

// Package flexctlconfig provides configuration parsing and validation for flexctl.
//
// Configuration is stored at flexctl.yaml within the base directory.
// The Flex Web Service token is never stored in the file; it is read from
// the IBKR_TOKEN environment variable.
package flexctlconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wangzl-eric/flexctl/internal/flexctl/flexctlpath"
	"gopkg.in/yaml.v3"
)

// QueryTypeTrades marks a query whose statement carries trade executions.
const QueryTypeTrades = "trades"

// QueryTypeActivity marks a query whose statement carries the full activity
// set (trades, positions, cash transactions).
const QueryTypeActivity = "activity"

// QueryTypeMarkToMarket marks a query whose statement carries per-position
// daily mark-to-market P&L. These statements are requested in CSV and take
// longer to generate server-side.
const QueryTypeMarkToMarket = "mark-to-market"

// configTemplate is the default configuration file template with comments.
// yaml.v3 does not preserve comments, so we hardcode the template string.
const configTemplate = `# The configuration file version.
#
# Required. The only current valid version is v1.
version: v1
# IBKR Flex Query configuration.
#
# Required. Create Flex Queries at https://www.interactivebrokers.com
# under Performance & Reports > Flex Queries.
#
# The Flex Web Service token must be set via the IBKR_TOKEN environment variable.
ibkr:
  # The Flex Queries to fetch, by name.
  #
  # Required. At least one query must be configured.
  # The type controls parsing hints and must be one of:
  # trades, activity, mark-to-market.
  queries:
    - name: ""
      id: ""
      type: trades
# Raw statement archival configuration.
#
# Optional. When enabled, every fetched statement body is saved under
# archive/<date>/<type>/ in the base directory before parsing.
archive:
  enabled: true
`

// ExternalConfig is the YAML-serializable configuration file structure.
type ExternalConfig struct {
	// Version is the configuration file version (must be "v1").
	Version string `yaml:"version"`
	// IBKR holds the Interactive Brokers Flex Query configuration.
	IBKR ExternalIBKRConfig `yaml:"ibkr"`
	// Archive holds the raw statement archival configuration.
	Archive ExternalArchiveConfig `yaml:"archive"`
}

// ExternalIBKRConfig holds IBKR-specific configuration.
type ExternalIBKRConfig struct {
	// Queries is the list of configured Flex Queries.
	Queries []ExternalQueryConfig `yaml:"queries"`
}

// ExternalQueryConfig holds one configured Flex Query.
type ExternalQueryConfig struct {
	// Name is the human-readable query name used in output paths.
	Name string `yaml:"name"`
	// ID is the Flex Query ID from the IBKR portal.
	ID string `yaml:"id"`
	// Type is the query type: trades, activity, or mark-to-market.
	Type string `yaml:"type"`
}

// ExternalArchiveConfig holds the raw statement archival configuration.
type ExternalArchiveConfig struct {
	// Enabled controls whether fetched statement bodies are archived.
	Enabled bool `yaml:"enabled"`
}

// QueryConfig is one validated Flex Query configuration.
type QueryConfig struct {
	// Name is the human-readable query name.
	Name string
	// ID is the Flex Query ID.
	ID string
	// Type is the query type: trades, activity, or mark-to-market.
	Type string
}

// Config is the validated runtime configuration derived from the config file.
type Config struct {
	// Queries lists the configured Flex Queries in file order.
	Queries []QueryConfig
	// ArchiveEnabled controls whether fetched statement bodies are archived.
	ArchiveEnabled bool
}

// QueryByName returns the configured query with the given name.
func (c *Config) QueryByName(name string) (QueryConfig, error) {
	for _, query := range c.Queries {
		if query.Name == name {
			return query, nil
		}
	}
	return QueryConfig{}, fmt.Errorf("no query named %q in configuration", name)
}

// NewConfig validates an ExternalConfig and returns a runtime Config.
func NewConfig(externalConfig ExternalConfig) (*Config, error) {
	if externalConfig.Version != "v1" {
		return nil, fmt.Errorf("unsupported config version %q, must be v1", externalConfig.Version)
	}
	if len(externalConfig.IBKR.Queries) == 0 {
		return nil, errors.New("ibkr.queries is required")
	}
	queries := make([]QueryConfig, 0, len(externalConfig.IBKR.Queries))
	names := make(map[string]struct{}, len(externalConfig.IBKR.Queries))
	for _, query := range externalConfig.IBKR.Queries {
		if query.Name == "" {
			return nil, errors.New("query name is required")
		}
		if query.ID == "" {
			return nil, fmt.Errorf("query %q: id is required", query.Name)
		}
		switch query.Type {
		case QueryTypeTrades, QueryTypeActivity, QueryTypeMarkToMarket:
		case "":
			return nil, fmt.Errorf("query %q: type is required", query.Name)
		default:
			return nil, fmt.Errorf("query %q: unknown type %q, must be one of: %s, %s, %s",
				query.Name, query.Type, QueryTypeTrades, QueryTypeActivity, QueryTypeMarkToMarket)
		}
		if _, ok := names[query.Name]; ok {
			return nil, fmt.Errorf("duplicate query name %q", query.Name)
		}
		names[query.Name] = struct{}{}
		queries = append(queries, QueryConfig{
			Name: query.Name,
			ID:   query.ID,
			Type: query.Type,
		})
	}
	return &Config{
		Queries:        queries,
		ArchiveEnabled: externalConfig.Archive.Enabled,
	}, nil
}

// ReadConfig reads and validates the configuration file from the given base directory.
// Returns a clear error message directing users to run "flexctl config init" if the file is missing.
func ReadConfig(dirPath string) (*Config, error) {
	filePath := flexctlpath.ConfigFilePath(dirPath)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found at %s, run \"flexctl config init\" to create one", filePath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var externalConfig ExternalConfig
	if err := unmarshalYAMLStrict(data, &externalConfig); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
	}
	return NewConfig(externalConfig)
}

// InitConfig creates a new configuration file with a documented template.
// Creates the base directory if it does not exist.
// Returns the path to the created file, or an error if the file already exists.
func InitConfig(dirPath string) (string, error) {
	filePath := flexctlpath.ConfigFilePath(dirPath)
	if _, err := os.Stat(filePath); err == nil {
		return "", fmt.Errorf("configuration file already exists: %s", filePath)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("creating base directory: %w", err)
	}
	if err := os.WriteFile(filePath, []byte(configTemplate), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// ValidateConfig reads and validates the configuration file from the given base directory.
func ValidateConfig(dirPath string) error {
	_, err := ReadConfig(dirPath)
	return err
}

// unmarshalYAMLStrict unmarshals the data as YAML with strict field checking.
// If the data length is 0, this is a no-op.
func unmarshalYAMLStrict(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	yamlDecoder := yaml.NewDecoder(bytes.NewReader(data))
	// Reject unknown fields.
	yamlDecoder.KnownFields(true)
	if err := yamlDecoder.Decode(v); err != nil {
		return fmt.Errorf("could not unmarshal as YAML: %w", err)
	}
	return nil
}
