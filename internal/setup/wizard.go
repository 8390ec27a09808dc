package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/njoerd114/watchsync/internal/auth"
	"github.com/njoerd114/watchsync/internal/config"
)

// PingFunc checks that a database URL is reachable before it is saved.
type PingFunc func(ctx context.Context, databaseURL string) error

// Result is what the wizard produced.
type Result struct {
	Config *config.Config
	Path   string
	// Token is an identity token issued for the user ID entered at the end,
	// or empty when none was requested.
	Token string
}

// Wizard guides the user through writing the config file.
type Wizard struct {
	prompt    *Prompter
	logger    *slog.Logger
	w         io.Writer
	path      string
	ping      PingFunc
	newSecret func() string
}

// NewWizard creates a Wizard that writes to path. ping may be nil, in which
// case database URLs are saved unchecked.
func NewWizard(r io.Reader, w io.Writer, path string, ping PingFunc, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt:    NewPrompter(r, w),
		logger:    logger,
		w:         w,
		path:      path,
		ping:      ping,
		newSecret: generateSecret,
	}
}

// Run executes the interactive setup wizard.
func (wiz *Wizard) Run(ctx context.Context) (*Result, error) {
	fmt.Fprintf(wiz.w, "\nWelcome to watchsync setup!\n")
	fmt.Fprintf(wiz.w, "This wizard writes %s.\n\n", wiz.path)

	if _, statErr := os.Stat(wiz.path); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.path)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			cfg, err := config.Load(wiz.path)
			if err != nil {
				return nil, err
			}
			return &Result{Config: cfg, Path: wiz.path}, nil
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	cfg := &config.Config{}

	fmt.Fprintf(wiz.w, "Step 1/4: Storage\n")
	idx, err := wiz.prompt.Select("Where should collections sync to?", []string{
		"Nowhere, keep everything on this device",
		"A shared PostgreSQL database",
	})
	if err != nil {
		return nil, err
	}
	if idx == 1 {
		url, err := wiz.askDatabaseURL(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Remote.DatabaseURL = url
	}
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 2/4: Identity\n")
	if cfg.HasRemote() {
		cfg.Auth.TokenSecret = wiz.askSecret()
	} else {
		fmt.Fprintf(wiz.w, "  Skipped, no shared database.\n")
	}
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 3/4: Local Storage\n")
	defLocal, err := config.DefaultLocalPath()
	if err != nil {
		return nil, err
	}
	cfg.Local.Path = wiz.prompt.String("Local database path", defLocal)
	cfg.Local.QuotaBytes = wiz.prompt.Bytes("Local storage quota", 5<<20)
	if cfg.Local.QuotaBytes < 64<<10 {
		fmt.Fprintf(wiz.w, "  (raised to the 64KiB minimum)\n")
		cfg.Local.QuotaBytes = 64 << 10
	}
	cfg.Log.File = wiz.prompt.Optional("Log file")
	fmt.Fprintf(wiz.w, "\n")

	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")
	if err := cfg.Write(wiz.path); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n", wiz.path)
	wiz.logger.Debug("config written", "path", wiz.path, "remote", cfg.HasRemote())

	res := &Result{Config: cfg, Path: wiz.path}
	if !cfg.HasRemote() {
		return res, nil
	}

	userID := wiz.prompt.Optional("User ID to issue a sign-in token for")
	if userID == "" {
		return res, nil
	}
	token, err := auth.IssueToken(userID, []byte(cfg.Auth.TokenSecret), 0)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}
	res.Token = token
	fmt.Fprintf(wiz.w, "\n  Sign in on any device sharing this config with:\n    watchsync login %s\n", token)
	return res, nil
}

func (wiz *Wizard) askDatabaseURL(ctx context.Context) (string, error) {
	for {
		url := wiz.prompt.String("Database URL", "")
		if wiz.ping == nil {
			return url, nil
		}

		fmt.Fprintf(wiz.w, "  Connecting...")
		err := wiz.ping(ctx, url)
		if err == nil {
			fmt.Fprintf(wiz.w, " ✓\n")
			return url, nil
		}
		fmt.Fprintf(wiz.w, " ✗\n  %v\n", err)
		if !wiz.prompt.Confirm("Try a different URL?", true) {
			return "", fmt.Errorf("cannot reach database: %w", err)
		}
	}
}

func (wiz *Wizard) askSecret() string {
	if wiz.prompt.Confirm("Generate a new token secret?", true) {
		fmt.Fprintf(wiz.w, "  Copy the auth.token_secret from the saved file to your other devices.\n")
		return wiz.newSecret()
	}
	for {
		s := wiz.prompt.String("Token secret", "")
		if len(s) >= 16 {
			return s
		}
		fmt.Fprintf(wiz.w, "  (at least 16 characters)\n")
	}
}

func generateSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
