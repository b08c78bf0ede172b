package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/securestore/internal/config"
	"github.com/illarion/securestore/internal/core"
	"github.com/illarion/securestore/internal/crypto"
	"github.com/illarion/securestore/internal/keystore"
	"github.com/illarion/securestore/internal/log"
	"github.com/illarion/securestore/internal/platform"
	"github.com/illarion/securestore/internal/storage"
)

// PassphraseEnv supplies the file backend passphrase without a prompt
const PassphraseEnv = "SECURESTORE_PASSPHRASE"

// Globals are the flags every command accepts
type Globals struct {
	ConfigPath string
	dir        string
	backend    string
	level      int
	logLevel   string
	fs         *flag.FlagSet
}

// AddGlobals registers the global flags on fs
func AddGlobals(fs *flag.FlagSet) *Globals {
	g := &Globals{fs: fs}
	fs.StringVar(&g.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&g.dir, "dir", "", "Storage directory")
	fs.StringVar(&g.backend, "backend", "", "Platform key backend (keyring|file)")
	fs.IntVar(&g.level, "level", 0, "Platform capability level")
	fs.StringVar(&g.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	return g
}

// overrides returns only the flags the user set
func (g *Globals) overrides() config.FlagOverrides {
	var o config.FlagOverrides
	g.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			o.Dir = &g.dir
		case "backend":
			o.Backend = &g.backend
		case "level":
			o.Level = &g.level
		case "log-level":
			o.LogLevel = &g.logLevel
		}
	})
	return o
}

// Env is an opened store and the settings it was opened with
type Env struct {
	Config config.Config
	Store  *core.Store
	Logger *slog.Logger
}

// Open resolves configuration and opens the store it describes
func Open(g *Globals) (*Env, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: g.ConfigPath, Flags: g.overrides()})
	if err != nil {
		return nil, err
	}

	logger, err := log.New(log.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
	if err != nil {
		return nil, err
	}

	profile := platform.Profile{Level: cfg.Platform.Level}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	keys := keystore.New(backend, profile,
		keystore.WithLogger(logger),
		keystore.WithRetryDelay(cfg.Retry.Delay),
		keystore.WithRSABits(cfg.Keystore.RSABits),
	)
	blobs, err := storage.Open(cfg.Storage.Dir, keys.Mode().String, storage.WithLogger(logger))
	if err != nil {
		keys.Close()
		return nil, err
	}

	logger.Debug("store opened", "dir", cfg.Storage.Dir, "backend", cfg.Keystore.Backend, "platform", profile.String())
	return &Env{Config: cfg, Store: core.New(keys, blobs, core.WithLogger(logger)), Logger: logger}, nil
}

// OpenOrExit is like Open but exits on error
func OpenOrExit(g *Globals) *Env {
	env, err := Open(g)
	if err != nil {
		HandleError(err)
	}
	return env
}

func (e *Env) Close() {
	if err := e.Store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s\n", err)
	}
}

func openBackend(cfg config.Config) (keystore.Backend, error) {
	if cfg.Keystore.Backend == config.BackendKeyring {
		return keystore.NewKeyringBackend(cfg.Keystore.Service), nil
	}

	path := cfg.KeyFilePath()
	if err := os.MkdirAll(filepath.Dir(path), storage.DirPerm); err != nil {
		return nil, fmt.Errorf("failed to create key file directory: %w", err)
	}
	passphrase, err := GetPassphrase("Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(passphrase)
	return keystore.OpenFileBackend(path, passphrase)
}

// GetPassphrase retrieves the passphrase from the environment or prompts.
// The caller is responsible for calling crypto.ClearBytes on the result.
func GetPassphrase(prompt string) ([]byte, error) {
	if passphrase := os.Getenv(PassphraseEnv); passphrase != "" {
		return []byte(passphrase), nil
	}
	return ReadPassword(prompt)
}

// ReadPassword reads a secret from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	return secret, nil
}

// readValue reads a value from the terminal, or all of stdin when it is
// not a terminal
func readValue() ([]byte, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		return ReadPassword("Enter value: ")
	}
	data, err := io.ReadAll(io.LimitReader(os.Stdin, keystore.MaxPlaintextSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read value from stdin: %w", err)
	}
	return data, nil
}

// HandleError handles common errors consistently
func HandleError(err error) {
	var e *core.Error
	switch {
	case errors.As(err, &e) && e.Kind == core.KindNotFound:
		fmt.Fprintf(os.Stderr, "Error: no value stored under %s\n", e.Key)
	case errors.As(err, &e) && e.Kind == core.KindInconsistentMode:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Use 'securestore debug' to inspect the store or 'securestore wipe' to start over\n")
	case errors.As(err, &e) && (e.Kind == core.KindKeyStoreCorrupted || e.Kind == core.KindPreferencesCorrupted):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Use 'securestore debug --diff' to compare the stores and 'securestore rm %s' to drop the key\n", e.Key)
	case errors.As(err, &e) && e.Kind == core.KindInvalidKey:
		fmt.Fprintf(os.Stderr, "Error: invalid key %q: %s\n", e.Key, e.Err)
	case keystore.IsWrongPassphrase(err):
		fmt.Fprintf(os.Stderr, "Error: wrong passphrase\n")
	case errors.Is(err, config.ErrInvalidConfig):
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Check the config file and SECURESTORE_* environment variables\n")
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	os.Exit(1)
}

// formatSize formats a file size in human-readable form
func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.1f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.1f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.1f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
