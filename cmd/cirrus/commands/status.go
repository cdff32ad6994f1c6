package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/cirrusfs/cirrus/pkg/config"
	"github.com/cirrusfs/cirrus/pkg/storage/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage status",
	Long: `Display the state of the configured storage root: whether a running
instance holds it, how many ids each map carries and how many items sit in
the trash.`,
	RunE: runStatus,
}

// mapDocument mirrors the persisted id-map layout, read here without
// taking ownership of the file.
type mapDocument struct {
	PathToID map[string]string `json:"path_to_id"`
	Version  uint32            `json:"version"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	root := cfg.Storage.Root

	fmt.Printf("Storage root: %s\n", root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		fmt.Println("Status: not initialized (root does not exist)")
		return nil
	}

	lock := flock.New(filepath.Join(root, ".cirrus.lock"))
	free, err := lock.TryLock()
	if err == nil && free {
		lock.Unlock()
		fmt.Println("Status: idle (no running instance)")
	} else {
		fmt.Println("Status: in use by a running instance")
	}

	for _, mapFile := range []string{"folder_ids.json", "file_ids.json"} {
		doc, err := readMapDocument(filepath.Join(root, mapFile))
		if err != nil {
			fmt.Printf("%-17s unreadable: %v\n", mapFile+":", err)
			continue
		}
		fmt.Printf("%-17s %d entries (version %d)\n", mapFile+":", len(doc.PathToID), doc.Version)
	}

	trashIndex := filepath.Join(root, ".trash", "trash_index.json")
	items, err := readTrashIndex(trashIndex)
	if err != nil {
		fmt.Printf("trash:            unreadable: %v\n", err)
		return nil
	}
	fmt.Printf("trash:            %d items\n", len(items))
	return nil
}

func readMapDocument(path string) (mapDocument, error) {
	var doc mapDocument
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	err = json.Unmarshal(data, &doc)
	return doc, err
}

func readTrashIndex(path string) ([]domain.TrashedItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var items []domain.TrashedItem
	err = json.Unmarshal(data, &items)
	return items, err
}
