package cmd

import (
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/securestore/internal/crypto"
)

// Get writes the value stored under key to stdout
func Get(g *Globals, key string) {
	env := OpenOrExit(g)
	defer env.Close()

	value, err := env.Store.Get(key)
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(value)

	os.Stdout.Write(value)
	if term.IsTerminal(int(syscall.Stdout)) {
		os.Stdout.Write([]byte("\n"))
	}
}
