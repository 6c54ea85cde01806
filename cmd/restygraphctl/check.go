package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	registry "github.com/hanpama/restygraph/internal/registry"
	"github.com/spf13/cobra"
	"github.com/vektah/gqlparser/v2/formatter"
	"gopkg.in/yaml.v3"
)

var checkCmd = &cobra.Command{
	Use:   "check <schema-config>...",
	Short: "Compile schema configurations and print their SDL",
	Long: `Compile each schema configuration exactly as CreateSchema would:
the SDL is validated, every resolver must name a known type, field and
datasource, datasources must be of a supported kind and jq filters must
compile. On success the normalized SDL is printed.

Examples:
  restygraphctl check library.yaml
  restygraphctl check a.json b.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	reg := registry.New()
	out := cmd.OutOrStdout()
	var failed int
	for _, path := range args {
		cfg, err := readSchemaConfig(path)
		if err == nil {
			var id int64
			id, err = reg.Create(cfg)
			if err == nil {
				rec, _ := reg.Remove(id)
				fmt.Fprintf(out, "# %s\n", path)
				formatter.NewFormatter(out).FormatSchema(rec.Source())
				err = rec.Close(cmd.Context())
			}
		}
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d schema configurations failed", failed, len(args))
	}
	return nil
}

// readSchemaConfig loads a registry configuration from a JSON or YAML file.
func readSchemaConfig(path string) (registry.Config, error) {
	var cfg registry.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse schema config: %w", err)
	}
	return cfg, nil
}
