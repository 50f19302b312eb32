package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect the effective mirrorgen configuration: the config file (or the
defaults when none is found) with command-line overrides applied.`,
		Example: `  mirrorgen config show
  mirrorgen config validate --config /etc/mirrorgen/mirrorgen.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. The output can be saved
as a starting point for a config file.`,
		Example: `  mirrorgen config show > mirrorgen.yaml`,
		RunE:    configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if cfgPath != "" {
		fmt.Printf("# loaded from %s\n", cfgPath)
	}
	fmt.Print(string(data))

	return nil
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "validate",
		Short:   "Check the configuration for errors",
		Example: `  mirrorgen config validate`,
		RunE:    configValidateRun,
	}
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := globalCfg.Validate(); err != nil {
		return err
	}

	source := cfgPath
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("Configuration OK (%s)\n", source)
	return nil
}
