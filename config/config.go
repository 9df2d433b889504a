/*
Package config holds the run configuration of the caseledger batch.

SOURCES (later wins):
  1. Defaults in the struct tags
  2. .env.local in the working directory, if present
  3. CASELEDGER_* environment variables
  4. Command-line flags

ENVIRONMENT:
  CASELEDGER_INPUT_DIR     feed directory (default: input)
  CASELEDGER_OUTPUT_DIR    document directory (default: output)
  CASELEDGER_FLOOR         earliest accepted date (default: 2020-01-01)
  CASELEDGER_GOSPEL        gospel date (default: 2020-04-26)
  CASELEDGER_CEILING       latest accepted date (default: today in IST)
  CASELEDGER_DB            sqlite path, empty disables persistence
  CASELEDGER_METRICS_FILE  prometheus textfile, empty disables
  CASELEDGER_LOG_LEVEL     debug, info, warn or error (default: info)
  CASELEDGER_LOADERS       concurrent feed loaders (default: 4)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/warp/caseledger/ledger"
)

// DotEnvFile is loaded before the environment is parsed.
const DotEnvFile = ".env.local"

type Config struct {
	InputDir    string      `env:"CASELEDGER_INPUT_DIR" envDefault:"input"`
	OutputDir   string      `env:"CASELEDGER_OUTPUT_DIR" envDefault:"output"`
	Floor       ledger.Date `env:"CASELEDGER_FLOOR" envDefault:"2020-01-01"`
	Gospel      ledger.Date `env:"CASELEDGER_GOSPEL" envDefault:"2020-04-26"`
	Ceiling     ledger.Date `env:"CASELEDGER_CEILING"`
	DBPath      string      `env:"CASELEDGER_DB"`
	MetricsFile string      `env:"CASELEDGER_METRICS_FILE"`
	LogLevel    slog.Level  `env:"CASELEDGER_LOG_LEVEL" envDefault:"info"`
	Loaders     int         `env:"CASELEDGER_LOADERS" envDefault:"4"`
}

// Engine returns the ledger bounds of the run.
func (c Config) Engine() ledger.Config {
	return ledger.Config{Floor: c.Floor, Ceiling: c.Ceiling, Gospel: c.Gospel}
}

// Validate checks the combination of values.
func (c Config) Validate() error {
	if c.Gospel.IsZero() {
		return errors.New("gospel date is required")
	}
	if !c.Floor.IsZero() && c.Gospel.Before(c.Floor) {
		return fmt.Errorf("gospel date %s before floor %s", c.Gospel, c.Floor)
	}
	if !c.Ceiling.IsZero() && c.Ceiling.Before(c.Floor) {
		return fmt.Errorf("ceiling %s before floor %s", c.Ceiling, c.Floor)
	}
	if c.Loaders < 1 {
		return fmt.Errorf("loaders must be positive, got %d", c.Loaders)
	}
	return nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDotEnv loads path into the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseConfig reads the environment and then applies flags from args.
// An unset ceiling becomes today in IST.
func ParseConfig(flags *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	flags.StringVar(&cfg.InputDir, "input", cfg.InputDir, "feed directory (default: CASELEDGER_INPUT_DIR or input)")
	flags.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "document directory (default: CASELEDGER_OUTPUT_DIR or output)")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path, empty disables (default: CASELEDGER_DB)")
	flags.StringVar(&cfg.MetricsFile, "metrics", cfg.MetricsFile, "prometheus textfile path, empty disables (default: CASELEDGER_METRICS_FILE)")
	flags.TextVar(&cfg.Ceiling, "ceiling", cfg.Ceiling, "latest accepted date (default: CASELEDGER_CEILING or today in IST)")
	flags.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (default: CASELEDGER_LOG_LEVEL or info)")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Ceiling.IsZero() {
		cfg.Ceiling = ledger.TodayIST()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
