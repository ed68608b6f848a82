package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"formpilot/internal/config"
	"formpilot/internal/formdef"
)

var (
	configForce   bool
	configFormDir string
)

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file and form definition",
	Long: `Writes the default configuration to the --config path and the built-in
form template and validation rules into --forms, ready to be edited.
Existing form files are left alone.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing config file")
	configInitCmd.Flags().StringVar(&configFormDir, "forms", "forms", "Directory for the form template and rules")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	written, err := formdef.WriteDefaults(configFormDir)
	if err != nil {
		return fmt.Errorf("failed to write form definition: %w", err)
	}
	for _, path := range written {
		fmt.Fprintf(out, "Wrote %s\n", path)
	}

	// Start from the defaults so environment secrets never reach the file.
	c := config.DefaultConfig()
	c.Form.TemplatePath = filepath.Join(configFormDir, "form.json")
	c.Form.RulesPath = filepath.Join(configFormDir, "form_val.json")
	if err := c.Save(configPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	masked := *cfg
	masked.LLM.APIKey = mask(masked.LLM.APIKey)
	masked.Embedding.APIKey = mask(masked.Embedding.APIKey)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
