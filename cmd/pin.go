package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/securestore/internal/pinlock"
)

// Pin inspects and updates the incorrect PIN attempt counter
func Pin(g *Globals, action string) {
	env := OpenOrExit(g)
	defer env.Close()
	counter := pinlock.New(env.Store, env.Logger)

	switch action {
	case "status":
		remaining, err := counter.Remaining()
		if err != nil {
			HandleError(err)
		}
		fmt.Printf("%d of %d attempts remaining\n", remaining, pinlock.MaxAttempts)
	case "fail":
		remaining, err := counter.RecordFailure()
		if err != nil {
			HandleError(err)
		}
		if remaining == 0 {
			fmt.Println("no attempts remaining")
			return
		}
		fmt.Printf("%d attempt(s) remaining\n", remaining)
	case "reset":
		if err := counter.Reset(); err != nil {
			HandleError(err)
		}
		fmt.Println("attempts reset")
	default:
		fmt.Fprintf(os.Stderr, "Unknown pin action: %s\nUsage: securestore pin <status|fail|reset>\n", action)
		env.Close()
		os.Exit(1)
	}
}
