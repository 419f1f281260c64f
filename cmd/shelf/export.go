package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discochess/shelf/internal/codec"
	"github.com/discochess/shelf/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the inventory as compressed JSON Lines",
	Long: `Export every book and borrower to a local directory or a bucket.

Examples:
  # Local directory, zstd
  shelf export --dest ./exports

  # Google Cloud Storage, gzip, keeping the last 30
  shelf export --dest gs://library-backups/inventory --codec gzip --keep 30

  # S3
  shelf export --dest s3://library-backups/inventory`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	exportDest  string
	exportCodec string
	exportKeep  int
)

func init() {
	exportCmd.Flags().StringVar(&exportDest, "dest", "", "directory, gs://bucket/prefix or s3://bucket/prefix (overrides the config)")
	exportCmd.Flags().StringVar(&exportCodec, "codec", "", fmt.Sprintf("compression, one of %v (overrides the config)", codec.Names()))
	exportCmd.Flags().IntVar(&exportKeep, "keep", -1, "keep only the newest N exports, 0 keeps all (overrides the config)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if exportDest != "" {
		cfg.Export.Dest = exportDest
	}
	if exportCodec != "" {
		cfg.Export.Codec = exportCodec
	}
	if exportKeep >= 0 {
		cfg.Export.Keep = exportKeep
	}

	c, err := codec.ByName(cfg.Export.Codec)
	if err != nil {
		return err
	}

	client, log, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer client.Close()

	ctx := context.Background()
	s, err := export.Open(ctx, cfg.Export.Dest)
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	defer s.Close()

	exp := export.New(s,
		export.WithCodec(c),
		export.WithKeep(cfg.Export.Keep),
		export.WithLogger(log.Named("export")),
	)
	res, err := exp.Export(ctx, client)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exported:  %s\n", res.Location)
	fmt.Fprintf(out, "Books:     %d\n", res.Books)
	fmt.Fprintf(out, "Borrowers: %d\n", res.Users)
	fmt.Fprintf(out, "Size:      %s\n", formatBytes(res.Bytes))
	if res.Stale {
		fmt.Fprintln(out, "Warning:   remote unreachable, inventory may be out of date")
	}
	if len(res.Pruned) > 0 {
		fmt.Fprintf(out, "Pruned:    %d older exports\n", len(res.Pruned))
	}
	return nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
