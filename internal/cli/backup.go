package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/store"
)

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	Out  string
	Zstd bool
}

// BackupResult describes a written backup.
type BackupResult struct {
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	Compressed bool   `json:"compressed"`
}

func (r BackupResult) String() string {
	s := fmt.Sprintf("%s (%s", r.Path, humanize.Bytes(uint64(r.Bytes)))
	if r.Compressed {
		s += ", zstd"
	}
	return s + ")"
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database",
		Long: `Write a snapshot of the configured database to --out. The copy is
consistent while the server keeps accepting submissions.

Example:
  intake backup --out ./server.db.bak
  intake backup --out ./server.db.zst --zstd`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "destination file (required)")
	cmd.Flags().BoolVar(&opts.Zstd, "zstd", false, "compress the copy with zstd")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runBackup(cmd *cobra.Command, opts *BackupOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Database.Path, append(storeOptions(cfg), store.WithMode(query.Read))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	start := time.Now()
	snapshot, err := db.Snapshot(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to snapshot database", err)
	}
	defer snapshot.Close()

	// Written next to the destination and renamed into place once complete.
	tmp, err := os.CreateTemp(filepath.Dir(opts.Out), filepath.Base(opts.Out)+".*")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create backup file", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	n, err := copySnapshot(tmp, snapshot, opts.Zstd)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to write backup", err)
	}
	if err := tmp.Sync(); err != nil {
		return WrapExitError(ExitFailure, "failed to write backup", err)
	}
	if err := tmp.Close(); err != nil {
		return WrapExitError(ExitFailure, "failed to write backup", err)
	}
	if err := os.Rename(tmp.Name(), opts.Out); err != nil {
		return WrapExitError(ExitFailure, "failed to write backup", err)
	}

	slog.Info("backup written", "path", opts.Out, "size", humanize.Bytes(uint64(n)), "elapsed", time.Since(start))
	return opts.formatter(cmd).Success(BackupResult{Path: opts.Out, Bytes: n, Compressed: opts.Zstd})
}

// copySnapshot copies src to dst and returns the number of bytes read
// from src.
func copySnapshot(dst io.Writer, src io.Reader, compress bool) (int64, error) {
	if !compress {
		return io.Copy(dst, src)
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(enc, src)
	if err != nil {
		enc.Close()
		return n, err
	}
	return n, enc.Close()
}
