package cmd

import (
	"fmt"

	"github.com/spf13/viper"
)

type DBConfig struct {
	Name   string `mapstructure:"name"`
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Active bool   `mapstructure:"active"`
}

// GetActiveDBConfig returns the currently active database configuration.
// The active database is the source of every copy.
func GetActiveDBConfig() (*DBConfig, error) {
	configs, err := databases()
	if err != nil {
		return nil, err
	}

	var activeConfig *DBConfig
	count := 0

	for i := range configs {
		if configs[i].Active {
			activeConfig = &configs[i]
			count++
		}
	}

	if count == 0 {
		return nil, fmt.Errorf("no active database found in config (set active: true)")
	}
	if count > 1 {
		return nil, fmt.Errorf("multiple active databases found (only one can be active)")
	}

	return activeConfig, nil
}

// GetExportTarget returns the database named by export_target, the destination
// of export runs.
func GetExportTarget() (*DBConfig, error) {
	name := viper.GetString("export_target")
	if name == "" {
		return nil, fmt.Errorf("export mode needs export_target in config")
	}
	configs, err := databases()
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if configs[i].Name == name {
			if configs[i].Active {
				return nil, fmt.Errorf("export target %s is the active source database", name)
			}
			return &configs[i], nil
		}
	}
	return nil, fmt.Errorf("export target %s not found in databases", name)
}

func databases() ([]DBConfig, error) {
	var configs []DBConfig
	if err := viper.UnmarshalKey("databases", &configs); err != nil {
		return nil, fmt.Errorf("failed to parse databases config: %w", err)
	}
	return configs, nil
}
