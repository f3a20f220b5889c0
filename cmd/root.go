package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	dsn        string
	driver     string
	cfgFile    string
	verbose    bool
	DB         *sql.DB
	SchemaName string // Passed to schema introspection
	DriverName string // "mysql", "postgres", "pgx", "sqlserver", "oracle" or "sqlite3"
	Log        *zap.Logger
)

var RootCmd = &cobra.Command{
	Use:   "db-clone",
	Short: "Copies a structure of related rows within or between databases",
	Long: `
  ____  ____         ____ _     ___  _   _ _____
 |  _ \| __ )       / ___| |   / _ \| \ | | ____|
 | | | |  _ \ _____| |   | |  | | | |  \| |  _|
 | |_| | |_) |_____| |___| |__| |_| | |\  | |___
 |____/|____/       \____|_____\___/|_| \_|_____|

DB CLONE - copies a tree of rows with fresh ids, keeping every reference intact
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if Log, err = newLogger(verbose); err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		config, err := sourceConfig()
		if err != nil {
			return err
		}
		DriverName = config.Driver
		if DB, err = openDB(config); err != nil {
			return err
		}
		Log.Debug("connected", zap.String("database", config.Name), zap.String("driver", config.Driver))

		// Current database/schema name for introspection
		SchemaName = viper.GetString("copy.schema")
		if SchemaName == "" {
			switch DriverName {
			case "mysql":
				if err := DB.QueryRow("SELECT DATABASE()").Scan(&SchemaName); err != nil {
					return fmt.Errorf("failed to get database name: %w", err)
				}
				if SchemaName == "" {
					return fmt.Errorf("no database selected in DSN")
				}
			case "sqlserver", "mssql":
				SchemaName = "dbo"
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if Log != nil {
			_ = Log.Sync()
		}
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Define flags
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./db-clone.yaml)")
	RootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database Source Name (DSN), used when no database is active in the config")
	RootCmd.PersistentFlags().StringVar(&driver, "driver", "", "database/sql driver name for --dsn")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every fetched and written object")

	viper.BindPFlag("database.dsn", RootCmd.PersistentFlags().Lookup("dsn"))
	viper.BindPFlag("database.driver", RootCmd.PersistentFlags().Lookup("driver"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// 1. Executable Directory (Priority 1)
		ex, err := os.Executable()
		if err == nil {
			viper.AddConfigPath(filepath.Dir(ex))
		}

		// 2. Current Directory (Priority 2)
		viper.AddConfigPath(".")

		viper.SetConfigName("db-clone")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DBCLONE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// sourceConfig returns the active database of the config, or the one given by --dsn.
func sourceConfig() (*DBConfig, error) {
	config, err := GetActiveDBConfig()
	if err == nil {
		return config, nil
	}
	connStr := viper.GetString("database.dsn")
	if connStr == "" {
		return nil, fmt.Errorf("%w (or pass --dsn)", err)
	}
	return &DBConfig{
		Name:   "CLI",
		Driver: detectDriver(connStr, viper.GetString("database.driver")),
		DSN:    connStr,
		Active: true,
	}, nil
}

// detectDriver guesses the driver from a DSN unless one is given.
func detectDriver(connStr, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch {
	case strings.HasPrefix(connStr, "sqlserver://"):
		return "sqlserver"
	case strings.HasPrefix(connStr, "oracle://"):
		return "oracle"
	case strings.HasPrefix(connStr, "file:") || strings.HasSuffix(connStr, ".db"):
		return "sqlite3"
	case strings.Contains(connStr, "postgres") || strings.Contains(connStr, "sslmode"):
		return "pgx"
	default:
		return "mysql"
	}
}

func openDB(config *DBConfig) (*sql.DB, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open db %s: %w", config.Name, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to db %s: %w", config.Name, err)
	}
	return db, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
