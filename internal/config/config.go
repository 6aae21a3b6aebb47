// Package config provides unified configuration loading for pfstudy.
// It supports loading from YAML files, a .env file and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/pfstudy/internal/constants"
)

// Config contains all pfstudy configuration settings.
type Config struct {
	// Engine selects and configures the simulation engine.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Project identifies the project and study case to activate.
	Project ProjectConfig `json:"project" yaml:"project"`

	// MonteCarlo contains the probabilistic load flow settings.
	MonteCarlo MonteCarloConfig `json:"montecarlo" yaml:"montecarlo"`

	// Analysis contains result post-processing settings.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Dynamic contains the EMT and RMS simulation settings.
	Dynamic DynamicConfig `json:"dynamic" yaml:"dynamic"`

	// Logging contains settings for operational and attempt logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig selects the engine backend.
type EngineConfig struct {
	// Kind is "memory" (built-in network model) or "bridge" (remote
	// simulator session).
	Kind string `json:"kind" yaml:"kind"`

	// Network is a YAML network file for the memory engine. Empty uses the
	// built-in example network.
	Network string `json:"network,omitempty" yaml:"network,omitempty"`

	// URL is the bridge endpoint. Supports ${VAR} syntax for env vars.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Token authenticates against the bridge. Supports ${VAR} syntax.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// Timeout bounds each bridge call.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// RedactedToken returns the token with most characters masked.
// Shows first 4 and last 4 characters; "(set)" for short tokens.
func (c EngineConfig) RedactedToken() string {
	if c.Token == "" {
		return ""
	}
	if len(c.Token) < 12 {
		return "(set)"
	}
	return c.Token[:4] + "..." + c.Token[len(c.Token)-4:]
}

// String implements fmt.Stringer to prevent accidental token logging.
func (c EngineConfig) String() string {
	return fmt.Sprintf("EngineConfig{Kind:%s, URL:%s, Token:%s, Timeout:%v}",
		c.Kind, c.URL, c.RedactedToken(), c.Timeout)
}

// ProjectConfig names the project to activate.
type ProjectConfig struct {
	Folder    string `json:"folder" yaml:"folder"`
	Name      string `json:"name" yaml:"name"`
	StudyCase string `json:"study_case" yaml:"study_case"`
}

// MonteCarloConfig configures probabilistic load flow runs.
type MonteCarloConfig struct {
	Samples     int     `json:"samples" yaml:"samples"`
	StdDev      float64 `json:"std_dev" yaml:"std_dev"`
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`

	// Policy handles samples that never converge: "nan", "skip" or "abort".
	Policy string `json:"policy" yaml:"policy"`

	// LoadFlow is "balanced", "unbalanced" or "dc".
	LoadFlow string `json:"load_flow" yaml:"load_flow"`

	// Seed makes runs reproducible. 0 draws a random seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// AnalysisConfig configures result statistics and clustering.
type AnalysisConfig struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Clusters  int     `json:"clusters" yaml:"clusters"`
	Bins      int     `json:"bins" yaml:"bins"`
}

// DynamicConfig configures time-domain studies.
type DynamicConfig struct {
	EMTBus  string  `json:"emt_bus" yaml:"emt_bus"`
	EMTStep float64 `json:"emt_step" yaml:"emt_step"`
	EMTEnd  float64 `json:"emt_end" yaml:"emt_end"`

	FaultTime     float64 `json:"fault_time" yaml:"fault_time"`
	FaultDuration float64 `json:"fault_duration" yaml:"fault_duration"`
	RMSStep       float64 `json:"rms_step" yaml:"rms_step"`
	RMSEnd        float64 `json:"rms_end" yaml:"rms_end"`

	Machine  string `json:"machine" yaml:"machine"`
	Variable string `json:"variable" yaml:"variable"`
}

// LoggingConfig configures pfstudy's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "warn", "info" (default), "debug" or
	// "trace".
	// "debug" and "trace" also record every solve attempt to
	// .pfstudy/attempts.jsonl.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Kind:    "memory",
			URL:     constants.DefaultBridgeURL,
			Timeout: 30 * time.Second,
		},
		Project: ProjectConfig{
			Name:      constants.DefaultProject,
			StudyCase: constants.DefaultStudyCase,
		},
		MonteCarlo: MonteCarloConfig{
			Samples:     constants.DefaultSamples,
			StdDev:      constants.DefaultStdDev,
			MaxAttempts: constants.DefaultMaxAttempts,
			Policy:      constants.DefaultPolicy,
			LoadFlow:    constants.DefaultLoadFlow,
		},
		Analysis: AnalysisConfig{
			Threshold: constants.DefaultVoltageThreshold,
			Clusters:  constants.DefaultClusters,
			Bins:      constants.DefaultHistogramBins,
		},
		Dynamic: DynamicConfig{
			EMTBus:        constants.DefaultEMTBus,
			EMTStep:       constants.DefaultEMTStep,
			EMTEnd:        constants.DefaultEMTEnd,
			FaultTime:     constants.DefaultFaultTime,
			FaultDuration: constants.DefaultFaultDuration,
			RMSStep:       constants.DefaultRMSStep,
			RMSEnd:        constants.DefaultRMSEnd,
			Machine:       constants.DefaultMachine,
			Variable:      constants.DefaultMachineVariable,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the path of the user config file, ~/.pfstudy/config.yaml.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pfstudy", "config.yaml"), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.pfstudy/config.yaml -> ./.env -> environment variables.
// Variables set in the process environment win over those in .env.
func Load() (*Config, error) {
	config := Default()

	if configPath, err := Path(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Engine.URL = expandEnvVars(config.Engine.URL)
	config.Engine.Token = expandEnvVars(config.Engine.Token)
	return config, nil
}

// Save writes the configuration to ~/.pfstudy/config.yaml.
func Save(cfg *Config) error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create .pfstudy directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	validKinds := map[string]bool{"memory": true, "bridge": true}
	if !validKinds[c.Engine.Kind] {
		return fmt.Errorf("invalid engine kind: %s (valid: memory, bridge)", c.Engine.Kind)
	}
	if c.Engine.Kind == "bridge" && c.Engine.URL == "" {
		return fmt.Errorf("engine.url is required for the bridge engine")
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Engine.Timeout)
	}

	mc := c.MonteCarlo
	if mc.Samples < 0 {
		return fmt.Errorf("samples must be non-negative, got %d", mc.Samples)
	}
	if mc.StdDev < 0 {
		return fmt.Errorf("std_dev must be non-negative, got %f", mc.StdDev)
	}
	if mc.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", mc.MaxAttempts)
	}
	validPolicies := map[string]bool{"nan": true, "skip": true, "abort": true}
	if !validPolicies[mc.Policy] {
		return fmt.Errorf("invalid policy: %s (valid: nan, skip, abort)", mc.Policy)
	}
	validModes := map[string]bool{"balanced": true, "unbalanced": true, "dc": true}
	if !validModes[mc.LoadFlow] {
		return fmt.Errorf("invalid load_flow: %s (valid: balanced, unbalanced, dc)", mc.LoadFlow)
	}

	if c.Analysis.Clusters < 1 {
		return fmt.Errorf("clusters must be at least 1, got %d", c.Analysis.Clusters)
	}
	if c.Analysis.Bins < 1 {
		return fmt.Errorf("bins must be at least 1, got %d", c.Analysis.Bins)
	}

	d := c.Dynamic
	if d.EMTStep <= 0 || d.RMSStep <= 0 {
		return fmt.Errorf("simulation steps must be positive")
	}
	if d.FaultDuration <= 0 {
		return fmt.Errorf("fault_duration must be positive, got %f", d.FaultDuration)
	}

	validLevels := map[string]bool{"warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}
	return nil
}

// applyEnvOverrides applies PFSTUDY_* environment variable overrides. A
// malformed numeric value is an error naming the variable.
func applyEnvOverrides(config *Config) error {
	if v := os.Getenv("PFSTUDY_ENGINE"); v != "" {
		config.Engine.Kind = v
	}
	if v := os.Getenv("PFSTUDY_NETWORK"); v != "" {
		config.Engine.Network = v
	}
	if v := os.Getenv("PFSTUDY_BRIDGE_URL"); v != "" {
		config.Engine.URL = v
	}
	if v := os.Getenv("PFSTUDY_BRIDGE_TOKEN"); v != "" {
		config.Engine.Token = v
	}

	if v := os.Getenv("PFSTUDY_PROJECT"); v != "" {
		config.Project.Name = v
	}
	if v := os.Getenv("PFSTUDY_STUDY_CASE"); v != "" {
		config.Project.StudyCase = v
	}
	if v := os.Getenv("PFSTUDY_POLICY"); v != "" {
		config.MonteCarlo.Policy = v
	}
	if v := os.Getenv("PFSTUDY_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	var errs []error
	parse := func(name string, set func(string) error) {
		if v := os.Getenv(name); v != "" {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", name, v, err))
			}
		}
	}
	parse("PFSTUDY_BRIDGE_TIMEOUT", func(v string) (err error) {
		config.Engine.Timeout, err = parseKeep(v, config.Engine.Timeout, time.ParseDuration)
		return err
	})
	parse("PFSTUDY_SAMPLES", func(v string) (err error) {
		config.MonteCarlo.Samples, err = parseKeep(v, config.MonteCarlo.Samples, strconv.Atoi)
		return err
	})
	parse("PFSTUDY_STD_DEV", func(v string) (err error) {
		config.MonteCarlo.StdDev, err = parseKeep(v, config.MonteCarlo.StdDev, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
		return err
	})
	parse("PFSTUDY_MAX_ATTEMPTS", func(v string) (err error) {
		config.MonteCarlo.MaxAttempts, err = parseKeep(v, config.MonteCarlo.MaxAttempts, strconv.Atoi)
		return err
	})
	parse("PFSTUDY_SEED", func(v string) (err error) {
		config.MonteCarlo.Seed, err = parseKeep(v, config.MonteCarlo.Seed, func(s string) (uint64, error) {
			return strconv.ParseUint(s, 10, 64)
		})
		return err
	})
	return errors.Join(errs...)
}

// parseKeep parses v, returning cur unchanged when parsing fails.
func parseKeep[T any](v string, cur T, parse func(string) (T, error)) (T, error) {
	n, err := parse(v)
	if err != nil {
		return cur, err
	}
	return n, nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
