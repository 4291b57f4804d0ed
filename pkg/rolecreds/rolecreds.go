// Package rolecreds holds the value types shared by the credential file store,
// the process cache and the role assumer.
package rolecreds

import (
	"fmt"
	"time"
)

// SessionNamePrefix is prepended to the unix timestamp when no session name is supplied.
const SessionNamePrefix = "assume-role-"

// Credentials are the temporary credentials returned for an assumed role.
type Credentials struct {
	AccessKeyID     string    `yaml:"access_key_id"`
	SecretAccessKey string    `yaml:"secret_access_key"`
	SessionToken    string    `yaml:"session_token"`
	Expiration      time.Time `yaml:"expiration"`
}

// Valid reports whether all three key fields are populated.
func (c Credentials) Valid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.SessionToken != ""
}

// Request describes a single AssumeRole call.
type Request struct {
	RoleARN         string
	SessionName     string
	ExternalID      string
	DurationSeconds int32
	MFASerial       string
	MFACode         string
	PolicyARNs      []string
	PolicyJSON      string
}

// DefaultSessionName returns the session name used when the caller supplied none.
func DefaultSessionName(now time.Time) string {
	return fmt.Sprintf("%s%d", SessionNamePrefix, now.Unix())
}
