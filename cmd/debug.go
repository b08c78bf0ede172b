package cmd

import (
	"encoding/json"
	"fmt"
	"os"
)

// Debug prints the store's debug snapshot. Only labels are shown, never
// values.
func Debug(g *Globals, asJSON, diff bool) {
	env := OpenOrExit(g)
	defer env.Close()

	snap := env.Store.DebugSnapshot()

	if asJSON {
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			HandleError(err)
		}
		fmt.Println(string(out))
		return
	}

	if diff {
		d := snap.LabelDiff()
		if d == "" {
			fmt.Println("stores agree")
			return
		}
		fmt.Print(d)
		return
	}

	fmt.Printf("Storage:    %s\n", env.Config.Storage.Dir)
	fmt.Printf("Backend:    %s\n", env.Config.Keystore.Backend)
	fmt.Printf("Mode:       %s (running %s)\n", snap.Mode, env.Store.Mode())
	fmt.Printf("Compatible: %t\n", snap.IsCompatible)
	printLabels("Values", snap.Labels)
	printLabels("IVs", snap.IVLabels)
	if snap.KeystoreError != "" {
		fmt.Fprintf(os.Stderr, "Platform keys: unavailable: %s\n", snap.KeystoreError)
	} else {
		printLabels("Platform keys", snap.KeystoreLabels)
	}
	printLabels("Audit trail", snap.AuditTrail)
}

func printLabels(title string, labels []string) {
	fmt.Printf("%s (%d):\n", title, len(labels))
	if len(labels) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, label := range labels {
		fmt.Printf("  %s\n", label)
	}
}

// List prints the stored keys, one per line
func List(g *Globals) {
	env := OpenOrExit(g)
	defer env.Close()

	for _, label := range env.Store.DebugSnapshot().Labels {
		fmt.Println(label)
	}
}
