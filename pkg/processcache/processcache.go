// Package processcache keeps the last credentials handed out in
// credential_process mode so repeated invocations can skip the STS call.
// The cache is strictly best effort: read problems are reported as a miss.
package processcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"assumerole/pkg/fsutil"
	"assumerole/pkg/rolecreds"
)

const (
	// DefaultMargin is how long before expiration cached credentials stop being handed out.
	DefaultMargin = 60 * time.Second

	// ProcessOutputVersion is the credential_process payload version.
	ProcessOutputVersion = 1

	entryVersion = 1
)

// Entry is the record stored in the cache file.
type Entry struct {
	Version     int                   `yaml:"version"`
	RoleARN     string                `yaml:"role_arn"`
	Credentials rolecreds.Credentials `yaml:"credentials"`
	CachedAt    time.Time             `yaml:"cached_at"`
}

// NewEntry builds a cache record for freshly obtained credentials.
func NewEntry(roleARN string, creds rolecreds.Credentials, cachedAt time.Time) Entry {
	creds.Expiration = creds.Expiration.UTC()
	return Entry{
		Version:     entryVersion,
		RoleARN:     roleARN,
		Credentials: creds,
		CachedAt:    cachedAt.UTC(),
	}
}

// Config describes where and how the cache is kept.
type Config struct {
	Fs     afero.Fs
	Path   string
	Margin time.Duration
	Logger *slog.Logger
}

// Cache reads and writes a single cache file.
type Cache struct {
	fs     afero.Fs
	path   string
	margin time.Duration
	logger *slog.Logger
}

// New returns a Cache for cfg. A zero Margin means DefaultMargin.
func New(cfg Config) *Cache {
	c := &Cache{fs: cfg.Fs, path: cfg.Path, margin: cfg.Margin, logger: cfg.Logger}
	if c.margin <= 0 {
		c.margin = DefaultMargin
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Read returns the cached entry, or false when there is nothing usable.
func (c *Cache) Read() (*Entry, bool) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		c.logger.Debug("No usable cache file", "path", c.path, "error", err)
		return nil, false
	}

	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		c.logger.Debug("Ignoring unparsable cache file", "path", c.path, "error", err)
		return nil, false
	}
	if entry.Version != entryVersion {
		c.logger.Debug("Ignoring cache file with unknown version", "path", c.path, "version", entry.Version)
		return nil, false
	}
	if !entry.Credentials.Valid() || entry.Credentials.Expiration.IsZero() {
		c.logger.Debug("Ignoring incomplete cache entry", "path", c.path)
		return nil, false
	}

	return &entry, true
}

// IsFresh reports whether the entry can still be handed out at now.
func (c *Cache) IsFresh(entry *Entry, now time.Time) bool {
	return IsFresh(entry, now, c.margin)
}

// IsFresh reports whether entry expires more than margin after now.
func IsFresh(entry *Entry, now time.Time, margin time.Duration) bool {
	if entry == nil {
		return false
	}
	return now.Add(margin).Before(entry.Credentials.Expiration)
}

// Write atomically replaces the cache file with entry.
func (c *Cache) Write(entry Entry) error {
	data, err := yaml.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.logger.Debug("Writing cache file", "path", c.path, "expiration", entry.Credentials.Expiration)
	if err := fsutil.WriteFileAtomic(c.fs, c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

type processOutput struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration"`
}

// FormatProcessOutput renders creds in the credential_process JSON format.
func FormatProcessOutput(creds rolecreds.Credentials) (string, error) {
	data, err := json.Marshal(processOutput{
		Version:         ProcessOutputVersion,
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Expiration:      creds.Expiration.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return string(data), nil
}
