package cmd

import (
	"fmt"
)

// Remove deletes keys from both stores
func Remove(g *Globals, keys []string) {
	env := OpenOrExit(g)
	defer env.Close()

	for _, key := range keys {
		if err := env.Store.Delete(key); err != nil {
			HandleError(err)
		}
		fmt.Printf("removed %s\n", key)
	}
}
