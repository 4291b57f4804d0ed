// Package roleassumer ties the STS call to its two destinations: a profile in
// a shared credentials file, or credential_process output on stdout backed by
// an optional cache.
package roleassumer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"assumerole/pkg/credfile"
	"assumerole/pkg/processcache"
	"assumerole/pkg/rolecreds"
)

// Mode selects where obtained credentials go.
type Mode int

const (
	FileMode Mode = iota
	ProcessMode
)

func (m Mode) String() string {
	switch m {
	case FileMode:
		return "file"
	case ProcessMode:
		return "process"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Assumer obtains credentials for a role.
type Assumer interface {
	AssumeRole(ctx context.Context, req rolecreds.Request) (rolecreds.Credentials, error)
}

// Config is one invocation.
type Config struct {
	Mode        Mode
	Request     rolecreds.Request
	DestFile    string // file mode only
	DestProfile string // file mode only
}

// Result describes what Run handed out.
type Result struct {
	Credentials rolecreds.Credentials
	SessionName string // empty when served from cache
	FromCache   bool
}

// RoleAssumer runs a single assume-role pass.
type RoleAssumer struct {
	assumer Assumer
	store   *credfile.Store
	cache   *processcache.Cache
	now     func() time.Time
	stdout  io.Writer
	logger  *slog.Logger
}

// Option configures a RoleAssumer.
type Option func(*RoleAssumer)

// WithCache enables the process-mode cache.
func WithCache(c *processcache.Cache) Option {
	return func(r *RoleAssumer) { r.cache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *RoleAssumer) { r.now = now }
}

// WithStdout replaces os.Stdout for process output.
func WithStdout(w io.Writer) Option {
	return func(r *RoleAssumer) { r.stdout = w }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *RoleAssumer) { r.logger = l }
}

// New returns a RoleAssumer calling assumer and saving through store.
func New(assumer Assumer, store *credfile.Store, opts ...Option) *RoleAssumer {
	r := &RoleAssumer{
		assumer: assumer,
		store:   store,
		now:     time.Now,
		stdout:  os.Stdout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes cfg. Files are only written after credentials were obtained.
func (r *RoleAssumer) Run(ctx context.Context, cfg Config) (*Result, error) {
	switch cfg.Mode {
	case FileMode:
		if cfg.DestFile == "" || cfg.DestProfile == "" {
			return nil, fmt.Errorf("file mode needs a destination file and profile")
		}
	case ProcessMode:
	default:
		return nil, fmt.Errorf("unknown mode %v", cfg.Mode)
	}

	if cfg.Mode == ProcessMode && r.cache != nil {
		if res, ok := r.fromCache(cfg.Request.RoleARN); ok {
			return res, nil
		}
	}

	req := cfg.Request
	if req.SessionName == "" {
		req.SessionName = rolecreds.DefaultSessionName(r.now())
		r.logger.Debug("Generated session name", "session_name", req.SessionName)
	}

	creds, err := r.assumer.AssumeRole(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get role credentials: %w", err)
	}
	res := &Result{Credentials: creds, SessionName: req.SessionName}

	if cfg.Mode == FileMode {
		if err := r.saveProfile(cfg.DestFile, cfg.DestProfile, creds); err != nil {
			return nil, err
		}
		return res, nil
	}

	if r.cache != nil {
		if err := r.cache.Write(processcache.NewEntry(req.RoleARN, creds, r.now())); err != nil {
			r.logger.Warn("Could not update credential cache", "path", r.cache.Path(), "error", err)
		}
	}
	if err := r.emit(creds); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *RoleAssumer) fromCache(roleARN string) (*Result, bool) {
	entry, ok := r.cache.Read()
	if !ok {
		return nil, false
	}
	if entry.RoleARN != roleARN {
		r.logger.Debug("Cached credentials belong to another role", "cached", entry.RoleARN, "requested", roleARN)
		return nil, false
	}
	if !r.cache.IsFresh(entry, r.now()) {
		r.logger.Debug("Cached credentials are stale", "expiration", entry.Credentials.Expiration)
		return nil, false
	}

	r.logger.Debug("Using cached credentials", "path", r.cache.Path(), "expiration", entry.Credentials.Expiration)
	if err := r.emit(entry.Credentials); err != nil {
		r.logger.Debug("Could not emit cached credentials", "error", err)
		return nil, false
	}
	return &Result{Credentials: entry.Credentials, FromCache: true}, true
}

func (r *RoleAssumer) saveProfile(path, profile string, creds rolecreds.Credentials) error {
	f, err := r.store.LoadOrNew(path)
	if err != nil {
		return fmt.Errorf("failed to load credentials file: %w", err)
	}

	r.logger.Debug("Updating profile", "path", path, "profile", profile)
	f.UpsertProfile(profile, credfile.CredentialEntries(creds))

	return r.store.Save(f, path)
}

func (r *RoleAssumer) emit(creds rolecreds.Credentials) error {
	out, err := processcache.FormatProcessOutput(creds)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(r.stdout, out); err != nil {
		return fmt.Errorf("failed to write credentials to stdout: %w", err)
	}
	return nil
}
