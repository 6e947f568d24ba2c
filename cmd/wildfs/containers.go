package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wildfs/wildfs/internal/adapter"
	"github.com/wildfs/wildfs/pkg/types"
)

func (c *cli) containersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "containers",
		Aliases: []string{"container"},
		Short:   "Manage the containers of the catalog",
	}
	cmd.AddCommand(
		c.containersListCommand(),
		c.containersAddCommand(),
		c.containersRemoveCommand(),
	)
	return cmd
}

// containerEntry is one row of containers list.
type containerEntry struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Paths    []string        `json:"paths"`
	Mounted  bool            `json:"mounted"`
	Storages []types.Storage `json:"storages"`
}

func (c *cli) containersListCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				containers := a.Containers()
				entries := make([]containerEntry, 0, len(containers))
				for _, ct := range containers {
					entries = append(entries, containerEntry{
						ID:       ct.ID,
						Name:     ct.Name,
						Paths:    ct.Paths,
						Mounted:  a.Mounted(ct.ID),
						Storages: ct.Storages,
					})
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					return encoder.Encode(entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), "No containers.")
					return nil
				}

				writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(writer, "ID\tNAME\tPATHS\tSTORAGES\tMOUNTED")
				for _, e := range entries {
					backends := make([]string, 0, len(e.Storages))
					for _, st := range e.Storages {
						backends = append(backends, st.BackendType)
					}
					fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\n",
						e.ID, e.Name, strings.Join(e.Paths, ","), strings.Join(backends, ","), e.Mounted)
				}
				return writer.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	return cmd
}

func (c *cli) containersAddCommand() *cobra.Command {
	var (
		id       string
		paths    []string
		storages []string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a container and mount it",
		Long: `Add a container to the catalog and mount it.

The first --path is the primary claim. Each --storage is a replica, given as a URI:

  s3://bucket/prefix?region=us-west-2&endpoint=http://minio:9000&path_style=true
  mem://volume/base/dir
  file:///srv/wildfs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container := types.Container{ID: uuid.New(), Name: args[0], Paths: paths}
			if id != "" {
				parsed, err := uuid.Parse(id)
				if err != nil {
					return fmt.Errorf("invalid container id %q: %w", id, err)
				}
				container.ID = parsed
			}
			for _, uri := range storages {
				st, err := adapter.ParseStorageURI(uri)
				if err != nil {
					return fmt.Errorf("storage %q: %w", uri, err)
				}
				container.Storages = append(container.Storages, st)
			}

			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				if err := a.AddContainer(ctx, container); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s) at %s\n",
					container.Name, container.ID, strings.Join(container.Paths, ","))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Container id (default: random)")
	cmd.Flags().StringArrayVarP(&paths, "path", "p", nil, "Claimed path; the first one is primary (repeatable)")
	cmd.Flags().StringArrayVarP(&storages, "storage", "s", nil, "Storage URI (repeatable)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func (c *cli) containersRemoveCommand() *cobra.Command {
	var (
		path      string
		recursive bool
	)

	cmd := &cobra.Command{
		Use:   "remove [id]",
		Short: "Unmount containers and remove them from the catalog",
		Long: `Remove one container by id, or every container claiming --path.
With --recursive, containers claiming paths below --path are removed too.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (path != "") {
				return fmt.Errorf("give either a container id or --path")
			}
			if recursive && path == "" {
				return fmt.Errorf("--recursive requires --path")
			}

			return c.withAdapter(cmd, func(ctx context.Context, a *adapter.Adapter) error {
				out := cmd.OutOrStdout()
				if path != "" {
					removed, err := a.RemoveContainersByPath(ctx, path, recursive)
					if err != nil {
						return err
					}
					for _, id := range removed {
						fmt.Fprintf(out, "removed %s\n", id)
					}
					if len(removed) == 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "No container claims %s.\n", path)
					}
					return nil
				}

				id, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid container id %q: %w", args[0], err)
				}
				if err := a.RemoveContainer(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(out, "removed %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "Remove the containers claiming this path")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Also remove containers claiming paths below --path")
	return cmd
}
