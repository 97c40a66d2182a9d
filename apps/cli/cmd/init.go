package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abdul-hamid-achik/hitscript/packages/core/config"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new hitscript project",
	Long: `Initialize a new hitscript project in the current directory.

This creates:
  - hitscript.yaml  - Configuration file with environments
  - example.yaml    - Example script

Examples:
  hitscript init
  hitscript init --force`,
	RunE: initCommand,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite existing files")
}

const exampleScript = `name: example
init:
  servers:
    - name: api
      url: "{{env.baseUrl}}"
  vars:
    resourceName: Test Resource

steps:
  - name: health
    get: /health
    response:
      status: 200

  - name: create resource
    post: /resources
    body:
      name: "{{resourceName}}"
      description: Created by hitscript
    response:
      status: 201
      validate:
        - name: created
          check:
            - "notUndefined body.id"
            - "eq body.name resourceName"
      vars:
        resourceId: id

  - name: fetch resource
    get: "/resources/{{resourceId}}"
    response:
      validate:
        - name: same resource
          check: ["eq body.id resourceId"]
`

func initCommand(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	configFile := filepath.Join(cwd, "hitscript.yaml")
	exampleFile := filepath.Join(cwd, "example.yaml")

	if !forceInit {
		for _, f := range []string{configFile, exampleFile} {
			if _, err := os.Stat(f); err == nil {
				return fmt.Errorf("file already exists: %s (use --force to overwrite)", f)
			}
		}
	}

	cfg := config.DefaultConfig()
	cfg.DefaultEnvironment = "dev"
	cfg.Headers = map[string]string{"User-Agent": "hitscript/" + version}
	cfg.Environments = map[string]map[string]any{
		"dev":     {"baseUrl": "http://localhost:3000"},
		"staging": {"baseUrl": "https://staging.api.example.com"},
		"prod":    {"baseUrl": "https://api.example.com"},
	}
	if err := cfg.SaveConfig(configFile); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", configFile)

	if err := os.WriteFile(exampleFile, []byte(exampleScript), 0o644); err != nil {
		return fmt.Errorf("failed to create example file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created: %s\n", exampleFile)

	fmt.Fprintf(cmd.OutOrStdout(), "\nhitscript project initialized!\n")
	fmt.Fprintf(cmd.OutOrStdout(), "Run 'hitscript run example.yaml' to execute the example script.\n")

	return nil
}
