package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/illarion/securestore/internal/storage"
)

// Compact compacts the store files to reclaim unused space
func Compact(g *Globals) {
	env := OpenOrExit(g)
	defer env.Close()

	sizeBefore := storeSize(env.Config.Storage.Dir)
	if err := env.Store.Compact(); err != nil {
		HandleError(err)
	}
	sizeAfter := storeSize(env.Config.Storage.Dir)

	fmt.Printf("Compacted: %s -> %s\n", formatSize(sizeBefore), formatSize(sizeAfter))
}

func storeSize(dir string) int64 {
	var total int64
	for _, name := range []string{storage.DataFile, storage.AuditFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			HandleError(err)
		}
		total += info.Size()
	}
	return total
}
