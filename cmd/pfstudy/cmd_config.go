package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pfstudy/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pfstudy configuration",
		Long: `View and modify pfstudy configuration settings.

Configuration is stored in ~/.pfstudy/config.yaml. A .env file in the working
directory and PFSTUDY_* environment variables override it.

Examples:
  pfstudy config list                            # Show all settings
  pfstudy config get montecarlo.samples          # Get a specific setting
  pfstudy config set montecarlo.std_dev 0.05     # Set a setting
  pfstudy config set engine.kind bridge
  pfstudy config set engine.token '${PF_BRIDGE_TOKEN}'`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

// configKeys lists the settable keys in display order.
var configKeys = []string{
	"engine.kind", "engine.network", "engine.url", "engine.token", "engine.timeout",
	"project.folder", "project.name", "project.study_case",
	"montecarlo.samples", "montecarlo.std_dev", "montecarlo.max_attempts",
	"montecarlo.policy", "montecarlo.load_flow", "montecarlo.seed",
	"analysis.threshold", "analysis.clusters", "analysis.bins",
	"dynamic.emt_bus", "dynamic.emt_step", "dynamic.emt_end",
	"dynamic.fault_time", "dynamic.fault_duration", "dynamic.rms_step", "dynamic.rms_end",
	"dynamic.machine", "dynamic.variable",
	"logging.level",
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				// Redact the bridge token before serialization
				redacted := *cfg
				redacted.Engine.Token = cfg.Engine.RedactedToken()
				return writeJSON(cmd.OutOrStdout(), redacted)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Configuration (~/.pfstudy/config.yaml):")
			section := ""
			for _, key := range configKeys {
				if s, _, _ := strings.Cut(key, "."); s != section {
					section = s
					fmt.Fprintln(w)
				}
				value, _ := getConfigValue(cfg, key)
				fmt.Fprintf(w, "  %-26s %v\n", key+":", displayValue(value))
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"error": "key not found",
						"key":   key,
					})
				}
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			// Only the file is edited; environment overrides must not leak
			// into it.
			path, err := config.Path()
			if err != nil {
				return err
			}
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if key == "engine.token" {
				value = cfg.Engine.RedactedToken()
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"status": "updated",
					"key":    key,
					"value":  value,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (any, bool) {
	e, p, mc, a, d := cfg.Engine, cfg.Project, cfg.MonteCarlo, cfg.Analysis, cfg.Dynamic
	switch key {
	case "engine.kind":
		return e.Kind, true
	case "engine.network":
		return e.Network, true
	case "engine.url":
		return e.URL, true
	case "engine.token":
		return e.RedactedToken(), true
	case "engine.timeout":
		return e.Timeout.String(), true
	case "project.folder":
		return p.Folder, true
	case "project.name":
		return p.Name, true
	case "project.study_case":
		return p.StudyCase, true
	case "montecarlo.samples":
		return mc.Samples, true
	case "montecarlo.std_dev":
		return mc.StdDev, true
	case "montecarlo.max_attempts":
		return mc.MaxAttempts, true
	case "montecarlo.policy":
		return mc.Policy, true
	case "montecarlo.load_flow":
		return mc.LoadFlow, true
	case "montecarlo.seed":
		return mc.Seed, true
	case "analysis.threshold":
		return a.Threshold, true
	case "analysis.clusters":
		return a.Clusters, true
	case "analysis.bins":
		return a.Bins, true
	case "dynamic.emt_bus":
		return d.EMTBus, true
	case "dynamic.emt_step":
		return d.EMTStep, true
	case "dynamic.emt_end":
		return d.EMTEnd, true
	case "dynamic.fault_time":
		return d.FaultTime, true
	case "dynamic.fault_duration":
		return d.FaultDuration, true
	case "dynamic.rms_step":
		return d.RMSStep, true
	case "dynamic.rms_end":
		return d.RMSEnd, true
	case "dynamic.machine":
		return d.Machine, true
	case "dynamic.variable":
		return d.Variable, true
	case "logging.level":
		return cfg.Logging.Level, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key. Range
// checks are left to Config.Validate.
func setConfigValue(cfg *config.Config, key, value string) error {
	var err error
	switch key {
	case "engine.kind":
		cfg.Engine.Kind = value
	case "engine.network":
		cfg.Engine.Network = value
	case "engine.url":
		cfg.Engine.URL = value
	case "engine.token":
		cfg.Engine.Token = value
	case "engine.timeout":
		cfg.Engine.Timeout, err = time.ParseDuration(value)
	case "project.folder":
		cfg.Project.Folder = value
	case "project.name":
		cfg.Project.Name = value
	case "project.study_case":
		cfg.Project.StudyCase = value
	case "montecarlo.samples":
		cfg.MonteCarlo.Samples, err = strconv.Atoi(value)
	case "montecarlo.std_dev":
		cfg.MonteCarlo.StdDev, err = strconv.ParseFloat(value, 64)
	case "montecarlo.max_attempts":
		cfg.MonteCarlo.MaxAttempts, err = strconv.Atoi(value)
	case "montecarlo.policy":
		cfg.MonteCarlo.Policy = value
	case "montecarlo.load_flow":
		cfg.MonteCarlo.LoadFlow = value
	case "montecarlo.seed":
		cfg.MonteCarlo.Seed, err = strconv.ParseUint(value, 10, 64)
	case "analysis.threshold":
		cfg.Analysis.Threshold, err = strconv.ParseFloat(value, 64)
	case "analysis.clusters":
		cfg.Analysis.Clusters, err = strconv.Atoi(value)
	case "analysis.bins":
		cfg.Analysis.Bins, err = strconv.Atoi(value)
	case "dynamic.emt_bus":
		cfg.Dynamic.EMTBus = value
	case "dynamic.emt_step":
		cfg.Dynamic.EMTStep, err = strconv.ParseFloat(value, 64)
	case "dynamic.emt_end":
		cfg.Dynamic.EMTEnd, err = strconv.ParseFloat(value, 64)
	case "dynamic.fault_time":
		cfg.Dynamic.FaultTime, err = strconv.ParseFloat(value, 64)
	case "dynamic.fault_duration":
		cfg.Dynamic.FaultDuration, err = strconv.ParseFloat(value, 64)
	case "dynamic.rms_step":
		cfg.Dynamic.RMSStep, err = strconv.ParseFloat(value, 64)
	case "dynamic.rms_end":
		cfg.Dynamic.RMSEnd, err = strconv.ParseFloat(value, 64)
	case "dynamic.machine":
		cfg.Dynamic.Machine = value
	case "dynamic.variable":
		cfg.Dynamic.Variable = value
	case "logging.level":
		cfg.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q", key, value)
	}
	return nil
}

// displayValue shows empty strings as "(not set)".
func displayValue(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return "(not set)"
	}
	return v
}
