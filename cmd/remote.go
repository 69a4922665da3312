package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Queue a download on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := remoteService(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = deriveAssetName(args[0])
		}
		st, err := service.Add(args[0], name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.Name, st.State)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List assets known to the running server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := remoteService(cmd)
		if err != nil {
			return err
		}
		statuses, err := service.List()
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printStatuses(cmd.OutOrStdout(), statuses, asJSON)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <name>",
	Short: "Cancel a running download and discard its partial data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := remoteService(cmd)
		if err != nil {
			return err
		}
		if err := service.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <name>",
	Aliases: []string{"delete"},
	Short:   "Delete a downloaded asset",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := remoteService(cmd)
		if err != nil {
			return err
		}
		if err := service.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show the state of one asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := remoteService(cmd)
		if err != nil {
			return err
		}
		st, err := service.Status(args[0])
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		return printStatus(cmd.OutOrStdout(), st, asJSON)
	},
}

func init() {
	addCmd.Flags().StringP("name", "n", "", "Asset name (default: derived from the URL)")
	lsCmd.Flags().Bool("json", false, "Print JSON")
	statusCmd.Flags().Bool("json", false, "Print JSON")

	for _, c := range []*cobra.Command{addCmd, lsCmd, cancelCmd, rmCmd, statusCmd} {
		addRemoteFlags(c)
		c.SilenceUsage = true
		c.SetErr(os.Stderr)
		rootCmd.AddCommand(c)
	}
}
