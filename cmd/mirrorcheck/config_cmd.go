package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect mirrorcheck configuration. Settings come from the config file,
then MIRRORCHECK_* environment variables.`,
		Example: `  mirrorcheck config show
  mirrorcheck config show --config /etc/mirrorcheck/mirrorcheck.yaml`,
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format, with environment
overrides applied. The tier-0 password is masked.`,
		Example: `  mirrorcheck config show`,
		RunE:    configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	shown := *globalCfg
	if shown.Tier0.Password != "" {
		shown.Tier0.Password = "xxxxx"
	}
	if shown.Tier0.URL != "" {
		shown.Tier0.URL = safety.RedactURL(shown.Tier0.URL)
	}

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	source := cfgPath
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Printf("Current Configuration (%s):\n", source)
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}
