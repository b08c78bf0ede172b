package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/illarion/securestore/internal/crypto"
	"github.com/illarion/securestore/internal/session"
)

// Token manages the server session token
func Token(g *Globals, action string, args []string) {
	env := OpenOrExit(g)
	defer env.Close()
	tokens := session.New(env.Store)

	switch action {
	case "save":
		var value []byte
		if len(args) > 0 {
			value = []byte(args[0])
		} else {
			var err error
			if value, err = readValue(); err != nil {
				HandleError(err)
			}
		}
		defer crypto.ClearBytes(value)
		if err := tokens.Save(strings.TrimSpace(string(value))); err != nil {
			HandleError(err)
		}
		fmt.Println("session token saved")
	case "load":
		token, err := tokens.Load()
		if errors.Is(err, session.ErrNoToken) {
			fmt.Fprintln(os.Stderr, "No session token stored")
			env.Close()
			os.Exit(1)
		}
		if err != nil {
			HandleError(err)
		}
		fmt.Println(token)
	case "clear":
		if err := tokens.Clear(); err != nil {
			HandleError(err)
		}
		fmt.Println("session token cleared")
	default:
		fmt.Fprintf(os.Stderr, "Unknown token action: %s\nUsage: securestore token <save|load|clear>\n", action)
		env.Close()
		os.Exit(1)
	}
}
