package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/illarion/securestore/cmd"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "put":
		runPut(os.Args[2:])
	case "get":
		runGet(os.Args[2:])
	case "has":
		runHas(os.Args[2:])
	case "rm":
		runRm(os.Args[2:])
	case "ls":
		runLs(os.Args[2:])
	case "wipe":
		runWipe(os.Args[2:])
	case "debug":
		runDebug(os.Args[2:])
	case "compact":
		runCompact(os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	case "pin":
		runPin(os.Args[2:])
	case "completion":
		runCompletion(os.Args[2:])
	case "help", "-h", "--help":
		if len(os.Args) <= 2 {
			printUsage()
			return
		}
		printCommandHelp(os.Args[2])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// parse parses args into fs with the global flags registered
func parse(fs *flag.FlagSet, args []string) *cmd.Globals {
	g := cmd.AddGlobals(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return g
}

func runPut(args []string) {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	g := parse(fs, args)

	switch fs.NArg() {
	case 1:
		cmd.Put(g, fs.Arg(0), nil)
	case 2:
		cmd.Put(g, fs.Arg(0), []byte(fs.Arg(1)))
	default:
		fmt.Fprintln(os.Stderr, "Usage: securestore put [flags] <key> [value]")
		os.Exit(1)
	}
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	g := parse(fs, args)
	cmd.Get(g, requireOne(fs, "securestore get [flags] <key>"))
}

func runHas(args []string) {
	fs := flag.NewFlagSet("has", flag.ExitOnError)
	g := parse(fs, args)
	cmd.Has(g, requireOne(fs, "securestore has [flags] <key>"))
}

func runRm(args []string) {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	g := parse(fs, args)
	if fs.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: rm requires at least one key argument\n")
		fmt.Fprintf(os.Stderr, "Usage: securestore rm [flags] <key> [key...]\n")
		os.Exit(1)
	}
	cmd.Remove(g, fs.Args())
}

func runLs(args []string) {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	g := parse(fs, args)
	cmd.List(g)
}

func runWipe(args []string) {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	force := fs.Bool("force", false, "Wipe without confirmation")
	g := parse(fs, args)
	cmd.Wipe(g, *force)
}

func runDebug(args []string) {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print the snapshot as JSON")
	diff := fs.Bool("diff", false, "Show keys present in only one store")
	g := parse(fs, args)
	cmd.Debug(g, *asJSON, *diff)
}

func runCompact(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	g := parse(fs, args)
	cmd.Compact(g)
}

func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	g := parse(fs, args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: securestore token [flags] <save [token]|load|clear>")
		os.Exit(1)
	}
	cmd.Token(g, fs.Arg(0), fs.Args()[1:])
}

func runPin(args []string) {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	g := parse(fs, args)
	cmd.Pin(g, requireOne(fs, "securestore pin [flags] <status|fail|reset>"))
}

func runCompletion(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: securestore completion <bash|zsh|fish>")
		os.Exit(1)
	}
	cmd.Completion(args[0])
}

func requireOne(fs *flag.FlagSet, usage string) string {
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
		os.Exit(1)
	}
	return fs.Arg(0)
}

func printUsage() {
	fmt.Println("securestore - Envelope-encrypted secret storage backed by the OS keyring")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  securestore <command> [flags] [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  put         Encrypt and store a value under a key")
	fmt.Println("  get         Decrypt and print the value of a key")
	fmt.Println("  has         Check whether a key holds a value")
	fmt.Println("  rm          Remove keys from the store")
	fmt.Println("  ls          List stored keys")
	fmt.Println("  wipe        Remove every key, value and audit line")
	fmt.Println("  debug       Show the store state by label, never by value")
	fmt.Println("  compact     Compact store files to reclaim disk space")
	fmt.Println("  token       Manage the server session token")
	fmt.Println("  pin         Manage the incorrect PIN attempt counter")
	fmt.Println("  completion  Generate shell completions")
	fmt.Println("  help        Show help for a command")
	fmt.Println()
	fmt.Println("Global flags (before arguments):")
	fmt.Println("  --config <path>      Config file (default ~/.config/securestore/config.toml)")
	fmt.Println("  --dir <path>         Storage directory")
	fmt.Println("  --backend <name>     Platform key backend: keyring or file")
	fmt.Println("  --level <n>          Platform capability level (below 23 uses RSA)")
	fmt.Println("  --log-level <level>  debug, info, warn or error")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  securestore put server_jwt eyJhbGciOi...   # Store a value")
	fmt.Println("  printf secret | securestore put api_key     # Store a value from stdin")
	fmt.Println("  securestore get server_jwt                  # Print a value")
	fmt.Println("  securestore debug --diff                    # Compare both stores")
	fmt.Println()
	fmt.Println("Use 'securestore help <command>' for more information about a command.")
}

func printCommandHelp(command string) {
	switch command {
	case "put":
		fmt.Println("securestore put [flags] <key> [value]")
		fmt.Println()
		fmt.Println("Encrypts a value and stores it under key.")
		fmt.Println("The key's platform key is created on first use and reused afterwards.")
		fmt.Println("Without a value argument, reads it from the terminal or from stdin.")
		fmt.Println("Values are limited to 512 bytes.")
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  securestore put server_jwt eyJhbGciOi...")
		fmt.Println("  securestore put api_key                # Prompt for the value")
		fmt.Printf("  printf %%s \"$KEY\" | securestore put api_key\n")
	case "get":
		fmt.Println("securestore get [flags] <key>")
		fmt.Println()
		fmt.Println("Decrypts and prints the value stored under key.")
		fmt.Println("Fails if the key is missing, if only one store knows it,")
		fmt.Println("or if the store was written in another storage mode.")
	case "has":
		fmt.Println("securestore has [flags] <key>")
		fmt.Println()
		fmt.Println("Prints yes and exits 0 if key holds a value, prints no and exits 1 otherwise.")
		fmt.Println("Exits 2 if only one of the two stores knows the key.")
	case "rm":
		fmt.Println("securestore rm [flags] <key> [key...]")
		fmt.Println()
		fmt.Println("Removes keys from both the value store and the platform key store.")
		fmt.Println("Removing a key that does not exist is not an error.")
	case "ls":
		fmt.Println("securestore ls [flags]")
		fmt.Println()
		fmt.Println("Lists stored keys, one per line. Does not decrypt anything.")
	case "wipe":
		fmt.Println("securestore wipe [--force] [flags]")
		fmt.Println()
		fmt.Println("Removes every value, platform key and audit line.")
		fmt.Println("Asks for confirmation unless --force is given.")
	case "debug":
		fmt.Println("securestore debug [--json|--diff] [flags]")
		fmt.Println()
		fmt.Println("Shows the storage mode, the keys known to each store and the audit trail.")
		fmt.Println("Never shows values.")
		fmt.Println()
		fmt.Println("Flags:")
		fmt.Println("  --json   Print the snapshot as JSON")
		fmt.Println("  --diff   Show only keys present in one store (- value only, + key only)")
	case "compact":
		fmt.Println("securestore compact [flags]")
		fmt.Println()
		fmt.Println("Compacts the store files to reclaim unused disk space.")
	case "token":
		fmt.Println("securestore token [flags] <save [token]|load|clear>")
		fmt.Println()
		fmt.Println("Saves, prints or clears the server session token (key server_jwt).")
	case "pin":
		fmt.Println("securestore pin [flags] <status|fail|reset>")
		fmt.Println()
		fmt.Println("Shows, decrements or resets the remaining PIN attempts (3 at most).")
	case "completion":
		fmt.Println("securestore completion <bash|zsh|fish>")
		fmt.Println()
		fmt.Println("Outputs shell completion script for the specified shell.")
		fmt.Println()
		fmt.Println("Setup:")
		fmt.Println("  # Bash - add to ~/.bashrc")
		fmt.Println("  eval \"$(securestore completion bash)\"")
		fmt.Println()
		fmt.Println("  # Zsh - add to ~/.zshrc")
		fmt.Println("  eval \"$(securestore completion zsh)\"")
		fmt.Println()
		fmt.Println("  # Fish - add to ~/.config/fish/config.fish")
		fmt.Println("  securestore completion fish | source")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
	}
}
