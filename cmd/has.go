package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/illarion/securestore/internal/core"
)

// Has prints whether key holds a value and exits 1 if it does not. A key
// found in only one store exits 2 after printing the store diff.
func Has(g *Globals, key string) {
	env := OpenOrExit(g)
	ok, err := checkHas(env.Store, key)
	env.Close()

	snap := oneSided(err)
	switch {
	case snap != nil:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprint(os.Stderr, snap.LabelDiff())
		os.Exit(2)
	case err != nil:
		HandleError(err)
	case !ok:
		fmt.Println("no")
		os.Exit(1)
	default:
		fmt.Println("yes")
	}
}

// checkHas turns the inconsistency panic from Store.Has back into an error
// so the CLI can report it
func checkHas(s *core.Store, key string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, isErr := r.(*core.Error)
			if !isErr {
				panic(r)
			}
			err = e
		}
	}()
	return s.Has(key)
}

// oneSided returns the snapshot of a store disagreement, or nil if err is
// anything else
func oneSided(err error) *core.DebugSnapshot {
	var e *core.Error
	if !errors.As(err, &e) || e.Snapshot == nil {
		return nil
	}
	switch e.Kind {
	case core.KindKeyStoreCorrupted, core.KindPreferencesCorrupted:
		return e.Snapshot
	}
	return nil
}
