package cmd

import (
	"fmt"
	"strings"
)

// Wipe removes every key, value and audit line after confirmation
func Wipe(g *Globals, force bool) {
	env := OpenOrExit(g)
	defer env.Close()

	if !force {
		snap := env.Store.DebugSnapshot()
		fmt.Printf("Wipe %d value(s) and %d platform key(s) in %s? [y/N]: ",
			len(snap.Labels), len(snap.KeystoreLabels), env.Config.Storage.Dir)

		var response string
		fmt.Scanln(&response)
		response = strings.ToLower(strings.TrimSpace(response))

		// Default is No: nothing wiped can be recovered
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled")
			return
		}
	}

	if err := env.Store.Wipe(); err != nil {
		HandleError(err)
	}
	fmt.Println("store wiped")
}
