package cmd

import (
	"github.com/spf13/cobra"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the state of a pool built from a manifest",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, err := cmd.Flags().GetString("manifest")
			if err != nil {
				return err
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Snapshot(manifestPath, out)
		},
	}
	cmd.Flags().String("manifest", "", "Path to the YAML manifest of tables and chunks")
	cmd.Flags().String("out", "pool.snapshot", "File the snapshot is written to")
	if err := cmd.MarkFlagRequired("manifest"); err != nil {
		panic(err)
	}
	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Restore a pool snapshot and print its jobs",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := cmd.Flags().GetString("in")
			if err != nil {
				return err
			}
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			return app.Inspect(in)
		},
	}
	cmd.Flags().String("in", "pool.snapshot", "Snapshot to restore")
	return cmd
}
