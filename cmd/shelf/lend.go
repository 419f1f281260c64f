package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/shelf"
)

var checkoutCmd = &cobra.Command{
	Use:   "checkout BOOK_ID USER_ID",
	Short: "Lend a copy of a book",
	Long: `Lend one copy of a book to a borrower. The new count and an
access-log entry are written to Airtable.

Examples:
  shelf checkout recDune usrAda`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLend(cmd, args, shelf.CheckOut)
	},
}

var returnCmd = &cobra.Command{
	Use:   "return BOOK_ID USER_ID",
	Short: "Return a copy of a book",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLend(cmd, args, shelf.Return)
	},
}

func init() {
	rootCmd.AddCommand(checkoutCmd, returnCmd)
}

func runLend(cmd *cobra.Command, args []string, dir shelf.Direction) error {
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

	apply := client.Checkout
	if dir == shelf.Return {
		apply = client.Return
	}

	b, err := apply(context.Background(), args[0], args[1])
	var conflict *shelf.ConflictError
	switch {
	case errors.As(err, &conflict):
		return fmt.Errorf("%q has %d of %d copies on the shelf", conflict.BookID, conflict.Available, conflict.InStock)
	case errors.Is(err, shelf.ErrNotFound):
		return fmt.Errorf("unknown book or borrower: %w", err)
	case err != nil:
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %q: %d of %d copies on the shelf\n", dir, b.Title, b.Available, b.InStock)
	return nil
}
