package processcache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assumerole/pkg/rolecreds"
)

const (
	cachePath = "/home/user/.cache/assume-role/dev.yaml"
	roleARN   = "arn:aws:iam::123456789012:role/dev"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func testCreds(exp time.Time) rolecreds.Credentials {
	return rolecreds.Credentials{
		AccessKeyID:     "ASIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiration:      exp,
	}
}

func TestIsFresh(t *testing.T) {
	tests := []struct {
		name string
		exp  time.Time
		want bool
	}{
		{"Five minutes left", now.Add(5 * time.Minute), true},
		{"Thirty seconds left", now.Add(30 * time.Second), false},
		{"Exactly the margin", now.Add(DefaultMargin), false},
		{"Already expired", now.Add(-time.Minute), false},
	}

	c := New(Config{Fs: afero.NewMemMapFs(), Path: cachePath})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := NewEntry(roleARN, testCreds(tt.exp), now)
			assert.Equal(t, tt.want, c.IsFresh(&entry, now))
		})
	}

	assert.False(t, c.IsFresh(nil, now))
}

func TestIsFreshCustomMargin(t *testing.T) {
	entry := NewEntry(roleARN, testCreds(now.Add(5*time.Minute)), now)
	assert.False(t, IsFresh(&entry, now, 10*time.Minute))
	assert.True(t, IsFresh(&entry, now, time.Second))
}

func TestWriteThenRead(t *testing.T) {
	fsys := afero.NewMemMapFs()
	c := New(Config{Fs: fsys, Path: cachePath})

	exp := time.Date(2026, 10, 16, 13, 0, 0, 123456789, time.FixedZone("CEST", 2*60*60))
	entry := NewEntry(roleARN, testCreds(exp), now)
	require.NoError(t, c.Write(entry))

	got, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, roleARN, got.RoleARN)
	assert.Equal(t, entry.Credentials.AccessKeyID, got.Credentials.AccessKeyID)
	assert.Equal(t, entry.Credentials.SecretAccessKey, got.Credentials.SecretAccessKey)
	assert.Equal(t, entry.Credentials.SessionToken, got.Credentials.SessionToken)
	assert.True(t, exp.Equal(got.Credentials.Expiration))
	assert.True(t, now.Equal(got.CachedAt))

	info, err := fsys.Stat(cachePath)
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())
}

func TestReadMisses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"Garbage", "{{{ not yaml"},
		{"Wrong version", "version: 7\nrole_arn: x\n"},
		{"Missing credentials", "version: 1\nrole_arn: x\ncached_at: 2026-10-16T12:00:00Z\n"},
		{"Missing expiration", "version: 1\ncredentials:\n  access_key_id: a\n  secret_access_key: s\n  session_token: t\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fsys, cachePath, []byte(tt.content), 0o600))

			entry, ok := New(Config{Fs: fsys, Path: cachePath}).Read()
			assert.False(t, ok)
			assert.Nil(t, entry)
		})
	}

	t.Run("Absent", func(t *testing.T) {
		_, ok := New(Config{Fs: afero.NewMemMapFs(), Path: cachePath}).Read()
		assert.False(t, ok)
	})
}

func TestWriteFailure(t *testing.T) {
	c := New(Config{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), Path: cachePath})
	err := c.Write(NewEntry(roleARN, testCreds(now.Add(time.Hour)), now))
	assert.Error(t, err)
}

func TestFormatProcessOutput(t *testing.T) {
	exp := time.Date(2026, 10, 16, 14, 30, 0, 0, time.FixedZone("EST", -5*60*60))

	out, err := FormatProcessOutput(testCreds(exp))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Version": 1,
		"AccessKeyId": "ASIAEXAMPLE",
		"SecretAccessKey": "secret",
		"SessionToken": "token",
		"Expiration": "2026-10-16T19:30:00Z"
	}`, out)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Len(t, decoded, 5)
}
