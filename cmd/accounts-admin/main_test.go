package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMemoryEnv(t *testing.T) {
	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("MEDIA_ROOT", t.TempDir())
	t.Setenv("SMTP_HOST", "")
}

func stubPasswords(t *testing.T, passwords ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		if len(passwords) == 0 {
			return nil, errors.New("no more input")
		}
		pw := passwords[0]
		passwords = passwords[1:]
		return []byte(pw), nil
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(strings.NewReader(stdin), &out, slog.New(slog.DiscardHandler))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_HelpAndUnknownCommand(t *testing.T) {
	setMemoryEnv(t)

	out, err := execute(t, "")
	require.NoError(t, err)
	assert.Contains(t, out, "createsuperuser")
	assert.Contains(t, out, "purge-tokens")

	_, err = execute(t, "", "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestCreateSuperuser_PromptsForEmail(t *testing.T) {
	setMemoryEnv(t)
	stubPasswords(t, "root-password", "root-password")

	out, err := execute(t, "Root@Example.com\n", "createsuperuser")
	require.NoError(t, err)
	assert.Contains(t, out, "Email: ")
	assert.Contains(t, out, "Superuser root@example.com created")
}

func TestCreateSuperuser_Mismatch(t *testing.T) {
	setMemoryEnv(t)
	stubPasswords(t, "root-password", "other-password")

	_, err := execute(t, "", "createsuperuser", "--email", "root@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passwords do not match")
}

func TestCreateSuperuser_Invalid(t *testing.T) {
	setMemoryEnv(t)
	stubPasswords(t, "short", "short")

	_, err := execute(t, "", "createsuperuser", "--email", "root@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestPurgeTokens(t *testing.T) {
	setMemoryEnv(t)

	out, err := execute(t, "", "purge-tokens")
	require.NoError(t, err)
	assert.Contains(t, out, "auth: 0 expired tokens removed")
	assert.Contains(t, out, "password_reset: 0 expired tokens removed")
	assert.NotContains(t, out, "confirmation")
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	setMemoryEnv(t)

	_, err := execute(t, "", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a database")
}

func TestBadConfiguration(t *testing.T) {
	setMemoryEnv(t)
	t.Setenv("TOKEN_STORE", "sqlite")

	_, err := execute(t, "", "purge-tokens")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
