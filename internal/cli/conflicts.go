// Package cli implements the carelogctl commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/carelog/backend/internal/config"
	"github.com/kimhsiao/carelog/backend/internal/db"
	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
	"github.com/kimhsiao/carelog/backend/internal/sync/conflict"
)

// AddGlobalFlags registers the flags shared by every command.
func AddGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("data-dir", defaultDataDir(), "directory holding the local cache")
	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.PersistentFlags().Bool("json", false, "emit JSON instead of human-readable output")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".carelog"
	}
	return home + "/.carelog"
}

// loadConfig merges the config file (if given) with the flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openStore opens the migrated local database and builds a conflict store
// over it. The returned closer must be called when done.
func openStore(cmd *cobra.Command) (*conflict.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logging.Init(os.Stderr, logging.ParseLevel(cfg.Logging.Level))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	if err := db.NewMigrator(database.DB).Migrate(); err != nil {
		database.Close()
		return nil, nil, err
	}

	policy := conflict.PolicyFromConfig(cfg.Policy)
	store := conflict.NewStore(database.DB, conflict.NewEngine(policy), nil)
	return store, func() { database.Close() }, nil
}

// NewConflictsCommand returns the "conflicts" command tree.
func NewConflictsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
	}

	cmd.AddCommand(
		newListCommand(),
		newShowCommand(),
		newResolveCommand(),
		newRemoveCommand(),
		newClearResolvedCommand(),
		newStatsCommand(),
	)
	return cmd
}

func newListCommand() *cobra.Command {
	var unresolvedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sync conflicts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			var entries []*models.ConflictEntry
			if unresolvedOnly {
				entries, err = store.GetUnresolved(cmd.Context())
			} else {
				entries, err = store.GetAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd, entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conflicts.")
				return nil
			}
			for _, e := range entries {
				status := "unresolved"
				if e.Resolved {
					status = fmt.Sprintf("resolved (%s)", e.Resolution)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s %-16s %s  %s\n",
					e.ID, e.RecordType, e.ConflictType, status,
					e.CreatedAtTime().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&unresolvedOnly, "unresolved", false, "only show unresolved conflicts")
	return cmd
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one conflict in full, including both snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			entry, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, entry)
		},
	}
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> <keep_local|keep_server|merge>",
		Short: "Resolve a conflict with the chosen resolution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Resolve(cmd.Context(), args[0], models.Resolution(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conflict %s resolved as %s.\n", args[0], args[1])
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a conflict entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Conflict %s removed.\n", args[0])
			return nil
		},
	}
}

func newClearResolvedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-resolved",
		Short: "Delete all resolved conflict entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.ClearResolved(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d resolved conflicts.\n", n)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conflict counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closer, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closer()

			total, unresolved, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd, map[string]int{"total": total, "unresolved": unresolved})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\nunresolved: %d\n", total, unresolved)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
