package cmd

import (
	"fmt"

	"github.com/illarion/securestore/internal/crypto"
)

// Put stores a value under key. The value is read from stdin or the
// terminal when not given.
func Put(g *Globals, key string, value []byte) {
	if value == nil {
		var err error
		if value, err = readValue(); err != nil {
			HandleError(err)
		}
	}
	defer crypto.ClearBytes(value)

	env := OpenOrExit(g)
	defer env.Close()

	if err := env.Store.Put(key, value); err != nil {
		HandleError(err)
	}
	fmt.Printf("stored %s (%d bytes, %s mode)\n", key, len(value), env.Store.Mode())
}
