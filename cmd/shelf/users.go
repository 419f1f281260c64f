package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the borrowers",
	Args:  cobra.NoArgs,
	RunE:  runUsers,
}

func init() {
	usersCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(usersCmd)
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, log, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer client.Close()

	roster, err := client.GetUsers(context.Background())
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), roster.Users)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, u := range roster.Users {
		fmt.Fprintf(tw, "%s\t%s\n", u.ID, u.Name)
	}
	return tw.Flush()
}
