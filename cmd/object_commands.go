package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ebogdum/accessfs/backends"
	"github.com/ebogdum/accessfs/core"
)

// objectCommands returns the stat, cat, put, rm, mkdir and ls commands
func objectCommands(configFilePath *string) []*cobra.Command {
	statCmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show metadata of a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				md, err := op.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Path: %s\n", md.Path)
				fmt.Fprintf(out, "Mode: %s\n", md.Mode)
				if md.IsFile() {
					fmt.Fprintf(out, "Size: %d\n", md.ContentLength)
				}
				if md.LastModified != nil {
					fmt.Fprintf(out, "Modified: %s\n", md.LastModified.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	var offset, length int64
	catCmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Write the content of a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				var opts backends.ReadOptions
				if offset != 0 || length >= 0 {
					opts.Range = &backends.Range{Offset: offset, Length: length}
				}
				r, err := op.Read(ctx, args[0], opts)
				if err != nil {
					return err
				}
				defer r.Close()
				_, err = io.Copy(cmd.OutOrStdout(), r)
				return err
			})
		},
	}
	catCmd.Flags().Int64Var(&offset, "offset", 0, "Byte offset to start reading at")
	catCmd.Flags().Int64Var(&length, "length", -1, "Number of bytes to read (-1 reads to the end)")

	var contentType string
	putCmd := &cobra.Command{
		Use:   "put <path> [source]",
		Short: "Upload a local file, or stdin when source is omitted or -",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, size, closeSrc, err := openSource(cmd, args)
			if err != nil {
				return err
			}
			defer closeSrc()

			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				w, err := op.Write(ctx, args[0], backends.WriteOptions{ContentLength: size, ContentType: contentType})
				if err != nil {
					return err
				}
				n, err := io.Copy(w, src)
				if err != nil {
					_ = w.Abort()
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, args[0])
				return nil
			})
		},
	}
	putCmd.Flags().StringVar(&contentType, "content-type", "", "Content type stored with the object, where supported")

	rmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or an empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				return op.Delete(ctx, args[0])
			})
		},
	}

	mkdirCmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory and any missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				return op.CreateDir(ctx, args[0])
			})
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the direct children of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			return withOperator(cmd, *configFilePath, func(ctx context.Context, op *core.Operator) error {
				l, err := op.List(ctx, path)
				if err != nil {
					return err
				}
				defer l.Close()

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for {
					entry, err := l.Next(ctx)
					if err == io.EOF {
						break
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\n", entry.Mode, entry.Path)
				}
				return tw.Flush()
			})
		},
	}

	return []*cobra.Command{statCmd, catCmd, putCmd, rmCmd, mkdirCmd, lsCmd}
}

// openSource opens the put source. The size is unknown for stdin.
func openSource(cmd *cobra.Command, args []string) (io.Reader, int64, func(), error) {
	if len(args) < 2 || args[1] == "-" {
		return cmd.InOrStdin(), backends.UnknownLength, func() {}, nil
	}

	f, err := os.Open(args[1])
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to open source: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, nil, fmt.Errorf("failed to stat source: %w", err)
	}
	return f, info.Size(), func() { _ = f.Close() }, nil
}
