package cmd

import (
	"github.com/spf13/cobra"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the jobs and teleported chunks for a manifest",
		Long: `Adds every chunk of the manifest to a sorted pool, finishes it and prints the resulting jobs
and teleported chunks.`,
		Args: cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, err := cmd.Flags().GetString("manifest")
			if err != nil {
				return err
			}
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Plan(manifestPath)
		},
	}
	cmd.Flags().String("manifest", "", "Path to the YAML manifest of tables and chunks")
	if err := cmd.MarkFlagRequired("manifest"); err != nil {
		panic(err)
	}
	return cmd
}
