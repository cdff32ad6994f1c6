package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cirrusfs/cirrus/internal/cli/output"
	"github.com/cirrusfs/cirrus/internal/cli/prompt"
	"github.com/cirrusfs/cirrus/pkg/config"
	"github.com/cirrusfs/cirrus/pkg/storage"
)

var (
	trashUser   string
	trashOutput string
	trashYes    bool
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and manage trashed items",
	Long: `List, restore, purge or empty a user's trash.

These commands open the storage root directly, so they cannot run while a
cirrus instance holds it.

Examples:
  # List a user's trash
  cirrus trash list --user alice

  # Restore one item
  cirrus trash restore --user alice 3f9c...

  # Purge one item permanently
  cirrus trash purge --user alice 3f9c...

  # Empty the whole trash
  cirrus trash empty --user alice`,
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trashed items",
	RunE:  runTrashList,
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore <trash-id>",
	Short: "Restore a trashed item to its original path",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrashRestore,
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge <trash-id>",
	Short: "Permanently delete a trashed item",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrashPurge,
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently delete all of a user's trashed items",
	RunE:  runTrashEmpty,
}

func init() {
	trashCmd.PersistentFlags().StringVar(&trashUser, "user", "", "Principal whose trash to operate on (required)")
	trashCmd.MarkPersistentFlagRequired("user")
	trashListCmd.Flags().StringVarP(&trashOutput, "output", "o", "table", "Output format (table|json|yaml)")
	trashPurgeCmd.Flags().BoolVarP(&trashYes, "yes", "y", false, "Skip the confirmation prompt")
	trashEmptyCmd.Flags().BoolVarP(&trashYes, "yes", "y", false, "Skip the confirmation prompt")

	trashCmd.AddCommand(trashListCmd)
	trashCmd.AddCommand(trashRestoreCmd)
	trashCmd.AddCommand(trashPurgeCmd)
	trashCmd.AddCommand(trashEmptyCmd)
	rootCmd.AddCommand(trashCmd)
}

// withCore opens the storage core for a one-shot CLI operation.
func withCore(fn func(ctx context.Context, core *storage.Core) error) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	core, err := storage.Open(cfg, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer core.Close(ctx)

	return fn(ctx, core)
}

func runTrashList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(trashOutput)
	if err != nil {
		return err
	}

	return withCore(func(ctx context.Context, core *storage.Core) error {
		items, err := core.Trash.List(ctx, trashUser)
		if err != nil {
			return err
		}
		if len(items) == 0 && format == output.FormatTable {
			fmt.Println("Trash is empty")
			return nil
		}

		return output.Print(os.Stdout, format, items, func(w io.Writer) {
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.TrashID,
					string(item.Kind),
					item.Name,
					item.OriginalPath,
					item.DeletionDue.Format(time.RFC3339),
				})
			}
			output.PrintTable(w, []string{"id", "kind", "name", "original path", "expires"}, rows)
		})
	})
}

func runTrashRestore(cmd *cobra.Command, args []string) error {
	return withCore(func(ctx context.Context, core *storage.Core) error {
		if err := core.Trash.Restore(ctx, args[0], trashUser); err != nil {
			return err
		}
		fmt.Println("Restored", args[0])
		return nil
	})
}

func runTrashPurge(cmd *cobra.Command, args []string) error {
	if !trashYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Permanently delete item %s", args[0]), false)
		if err != nil || !ok {
			return err
		}
	}
	return withCore(func(ctx context.Context, core *storage.Core) error {
		if err := core.Trash.Purge(ctx, args[0], trashUser); err != nil {
			return err
		}
		fmt.Println("Purged", args[0])
		return nil
	})
}

func runTrashEmpty(cmd *cobra.Command, args []string) error {
	if !trashYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Permanently delete ALL trashed items of %s", trashUser), false)
		if err != nil || !ok {
			return err
		}
	}
	return withCore(func(ctx context.Context, core *storage.Core) error {
		if err := core.Trash.Empty(ctx, trashUser); err != nil {
			return err
		}
		fmt.Println("Trash emptied for", trashUser)
		return nil
	})
}
