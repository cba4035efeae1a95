package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/extractor"
)

func newPolicyCommand(ctx *commandContext) *cobra.Command {
	var sourcesPath string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and print the effective resolution policy",
		Long: `Load the resolution policy over the built-in defaults, validate it and print the result with its
fingerprint. With --sources the source mapping file is validated too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			policy, err := config.LoadPolicy(cfg.PolicyPath)
			if err != nil {
				return err
			}

			if sourcesPath == "" {
				sourcesPath = cfg.SourcesPath
			}
			if sourcesPath != "" {
				sources, err := extractor.LoadSources(sourcesPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %d source mappings valid\n", len(sources))
			}

			raw, err := yaml.Marshal(policy)
			if err != nil {
				return fmt.Errorf("encode policy: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# fingerprint: %s\n%s", policy.Fingerprint(), raw)
			return nil
		},
	}
	cmd.Flags().StringVarP(&sourcesPath, "sources", "s", "", "Source mapping file to validate (overrides SOURCES_PATH)")
	return cmd
}
