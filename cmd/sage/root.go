package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var datasetFlag string
	var policyFlag string

	ctx := newCommandContext(&datasetFlag, &policyFlag)

	rootCmd := &cobra.Command{
		Use:           "sage",
		Short:         "Donor entity resolution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&datasetFlag, "dataset", "d", "", "Dataset key (overrides DATASET_KEY)")
	rootCmd.PersistentFlags().StringVarP(&policyFlag, "policy", "p", "", "Resolution policy file (overrides POLICY_PATH)")

	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newEntityCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPolicyCommand(ctx))

	return rootCmd
}
