package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/discochess/shelf"
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List the books in the inventory",
	Long: `List every book with its available and in-stock counts.

Examples:
  # Everything
  shelf books

  # Only books with a copy on the shelf, as JSON
  shelf books --available --json`,
	Args: cobra.NoArgs,
	RunE: runBooks,
}

var (
	onlyAvailable  bool
	onlyCheckedOut bool
	outputJSON     bool
)

func init() {
	booksCmd.Flags().BoolVar(&onlyAvailable, "available", false, "only books with a copy on the shelf")
	booksCmd.Flags().BoolVar(&onlyCheckedOut, "checked-out", false, "only books with a copy lent out")
	booksCmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	booksCmd.MarkFlagsMutuallyExclusive("available", "checked-out")
	rootCmd.AddCommand(booksCmd)
}

func runBooks(cmd *cobra.Command, args []string) error {
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

	list := client.GetAllBooks
	switch {
	case onlyAvailable:
		list = client.GetAvailableBooks
	case onlyCheckedOut:
		list = client.GetCheckedOutBooks
	}

	snap, err := list(context.Background())
	if err != nil {
		return fmt.Errorf("listing books: %w", err)
	}
	if snap.Stale {
		fmt.Fprintf(os.Stderr, "warning: remote unreachable, showing inventory from %s\n", snap.RefreshedAt.Format("2006-01-02 15:04"))
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), snap.Books)
	}
	printBooks(cmd.OutOrStdout(), snap.Books)
	return nil
}

func printBooks(out io.Writer, books []shelf.Book) {
	if len(books) == 0 {
		fmt.Fprintln(out, "No books.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHORS\tAVAILABLE")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\n", b.ID, b.Title, b.Authors, b.Available, b.InStock)
	}
	tw.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
