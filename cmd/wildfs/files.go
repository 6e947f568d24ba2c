package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wildfs/wildfs/internal/adapter"
	"github.com/wildfs/wildfs/pkg/errors"
	"github.com/wildfs/wildfs/pkg/types"
	"github.com/wildfs/wildfs/pkg/utils"
)

var dirColor = color.New(color.FgBlue, color.Bold)

func (c *cli) lsCommand() *cobra.Command {
	var long bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := utils.Separator
			if len(args) == 1 {
				path = args[0]
			}
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				entries, err := a.DFS().ReadDir(ctx, path)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, entry := range entries {
					st, err := a.DFS().Getattr(ctx, entry)
					if err != nil || st == nil {
						// The entry vanished or its replicas stopped answering.
						fmt.Fprintln(writer, entry)
						continue
					}
					name := entry
					if st.NodeType == types.NodeTypeDir {
						name = dirColor.Sprint(entry)
					}
					if long {
						fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
							st.NodeType, mode(st.Permissions), humanize.IBytes(st.Size), modified(st), name)
					} else {
						fmt.Fprintln(writer, name)
					}
				}
				return writer.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show type, permissions, size and modification time")
	return cmd
}

func (c *cli) statCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the attributes of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				st, err := a.DFS().Getattr(ctx, path)
				if err != nil {
					return err
				}
				if st == nil {
					return errors.NoSuchPath(path)
				}

				name := path
				if st.NodeType == types.NodeTypeDir {
					name = dirColor.Sprint(path)
				}
				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(writer, "Path:\t%s\n", name)
				fmt.Fprintf(writer, "Type:\t%s\n", st.NodeType)
				fmt.Fprintf(writer, "Size:\t%d (%s)\n", st.Size, humanize.IBytes(st.Size))
				fmt.Fprintf(writer, "Access:\t%s\n", mode(st.Permissions))
				fmt.Fprintf(writer, "Accessed:\t%s\n", timestamp(st.AccessTime))
				fmt.Fprintf(writer, "Modified:\t%s\n", timestamp(st.ModificationTime))
				fmt.Fprintf(writer, "Changed:\t%s\n", timestamp(st.ChangeTime))
				return writer.Flush()
			})
		},
	}
}

func (c *cli) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				data, err := a.DFS().ReadFile(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}

func (c *cli) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-file|-> <path>",
		Short: "Write a local file, or standard input, to a path",
		Long: `Write a local file, or standard input when the source is "-", to a path.
The target is created when absent and truncated otherwise.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, target := args[0], args[1]

			var in io.Reader = cmd.InOrStdin()
			if source != "-" {
				f, err := os.Open(source)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", source, err)
				}
				defer f.Close()
				in = f
			}

			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				created, n, err := a.DFS().WriteFile(ctx, target, in)
				if err != nil {
					return err
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", verb, target, humanize.IBytes(uint64(n)))
				return nil
			})
		},
	}
}

// eachPath runs op on every argument, stopping at the first failure.
func (c *cli) eachPath(cmd *cobra.Command, paths []string, op func(ctx context.Context, a *adapter.Adapter, path string) error) error {
	return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
		for _, path := range paths {
			if err := op(ctx, a, path); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *cli) mkdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>...",
		Short: "Create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.eachPath(cmd, args, func(ctx context.Context, a *adapter.Adapter, path string) error {
				return a.DFS().CreateDir(ctx, path)
			})
		},
	}
}

func (c *cli) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.eachPath(cmd, args, func(ctx context.Context, a *adapter.Adapter, path string) error {
				return a.DFS().RemoveFile(ctx, path)
			})
		},
	}
}

func (c *cli) rmdirCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <path>...",
		Short: "Remove empty directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.eachPath(cmd, args, func(ctx context.Context, a *adapter.Adapter, path string) error {
				return a.DFS().RemoveDir(ctx, path)
			})
		},
	}
}

func (c *cli) mvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <from> <to>",
		Short: "Rename a file or directory within its container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				return a.DFS().Rename(ctx, args[0], args[1])
			})
		},
	}
}

func (c *cli) chmodCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "chmod <ro|rw> <path>...",
		Short:     "Make paths read-only or writable",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"ro", "rw"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var perms types.Permissions
			switch args[0] {
			case "ro":
				perms = types.ReadonlyPermissions()
			case "rw":
			default:
				return fmt.Errorf("invalid mode %q: use ro or rw", args[0])
			}
			return c.eachPath(cmd, args[1:], func(ctx context.Context, a *adapter.Adapter, path string) error {
				return a.DFS().SetPermissions(ctx, path, perms)
			})
		},
	}
}

func (c *cli) dfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "df <path>",
		Short: "Show filesystem statistics for the storage of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				st, err := a.DFS().StatFS(ctx, args[0])
				if err != nil {
					return err
				}

				writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "SIZE\tUSED\tAVAIL\tINODES\tIFREE")
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\n",
					humanize.IBytes(st.Blocks*st.BlockSize),
					humanize.IBytes((st.Blocks-st.FreeBlocks)*st.BlockSize),
					humanize.IBytes(st.AvailableBlocks*st.BlockSize),
					st.Nodes, st.FreeNodes)
				return writer.Flush()
			})
		},
	}
}

func mode(p types.Permissions) string {
	if p.Readonly {
		return "ro"
	}
	return "rw"
}

func modified(st *types.Stat) string {
	if st.ModificationTime == nil {
		return "-"
	}
	return humanize.Time(st.ModificationTime.Time())
}

func timestamp(ts *types.UnixTimestamp) string {
	if ts == nil {
		return "-"
	}
	return ts.Time().Format(time.RFC3339)
}
