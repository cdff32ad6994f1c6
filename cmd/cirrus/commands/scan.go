package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cirrusfs/cirrus/pkg/config"
	"github.com/cirrusfs/cirrus/pkg/storage"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the id maps with the filesystem",
	Long: `Walk the storage root, adopt files and folders that have no id
mapping, and drop mappings whose physical entries are gone. The same scan
runs automatically at service start; use this command after moving data
into the storage root by hand.`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
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

	report, err := core.Scan(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Scan finished in %s\n", report.Elapsed.Round(time.Millisecond))
	fmt.Printf("  adopted folders: %d\n", report.AdoptedFolders)
	fmt.Printf("  adopted files:   %d\n", report.AdoptedFiles)
	fmt.Printf("  dropped folders: %d\n", report.DroppedFolders)
	fmt.Printf("  dropped files:   %d\n", report.DroppedFiles)
	return nil
}
