package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/accountctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountSetThenList(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home,
		"account", "set",
		"--account", "alice",
		"--password", "hunter2",
		"--totp-seed", "jbsw y3dp ehpk 3pxp",
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved account alice")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alice\tAccount alice\tpassword=yes\t2fa=yes\tproxy=-")
}

func TestAccountSetAutoAssignsNextNumericAccountID(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "account", "set", "--password", "secret-1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved account 1")

	stdout, _, err = executeCLI(t, home, "account", "set", "--password", "secret-2", "--name", "Second")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved account 2")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1\tAccount 1\tpassword=yes\t2fa=no")
	assert.Contains(t, stdout, "2\tSecond\tpassword=yes\t2fa=no")
}

func TestAccountSetRejectsInvalidSeed(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "account", "set", "--account", "alice", "--totp-seed", "not-base32!")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidSecondFactorSeed)
}

func TestAccountListEmpty(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No accounts configured.")
}

func TestAccountRemoveReleasesProxy(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeConfigFixture(home))

	_, _, err := executeCLI(t, home, "account", "set", "--account", "alice", "--password", "hunter2")
	require.NoError(t, err)
	_, _, err = executeCLI(t, home, "proxy", "assign", "alice")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "account", "remove", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed account alice")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No accounts configured.")

	stdout, _, err = executeCLI(t, home, "proxy", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "assigned: 0")
}

func TestAccountRemoveCredentialsOnlyKeepsAccount(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "account", "set", "--account", "alice", "--password", "hunter2")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, home, "account", "remove", "alice", "--credentials-only")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed credentials of account alice")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alice\tAccount alice\tpassword=no\t2fa=no")
}

func TestAccountRemoveUnknownAccount(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "account", "remove", "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestProxyLifecycle(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeConfigFixture(home))

	for _, id := range []string{"alice", "bob"} {
		_, _, err := executeCLI(t, home, "account", "set", "--account", id, "--password", "pw")
		require.NoError(t, err)
	}

	stdout, _, err := executeCLI(t, home, "proxy", "assign", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Assigned 10.0.0.1:8080 to alice")

	_, _, err = executeCLI(t, home, "proxy", "assign", "bob", "--index", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProxyBoundElsewhere)

	stdout, _, err = executeCLI(t, home, "proxy", "assign", "bob")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Assigned 10.0.0.2:8080 to bob")

	stdout, _, err = executeCLI(t, home, "proxy", "show", "bob")
	require.NoError(t, err)
	assert.Contains(t, stdout, "bob: 10.0.0.2:8080 (auth: yes)")

	stdout, _, err = executeCLI(t, home, "proxy", "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "total: 2")
	assert.Contains(t, stdout, "assigned: 2")
	assert.Contains(t, stdout, "available: 0")

	stdout, _, err = executeCLI(t, home, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alice\tAccount alice\tpassword=yes\t2fa=no\tproxy=10.0.0.1:8080")

	stdout, _, err = executeCLI(t, home, "proxy", "release", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Released proxy of alice")

	stdout, _, err = executeCLI(t, home, "proxy", "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alice: no proxy")

	stdout, _, err = executeCLI(t, home, "proxy", "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "checked: 1")
	assert.Contains(t, stdout, "bindings: ok")
}

func TestProxyValidateReportsAndRepairsSharedProxy(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeConfigFixture(home))
	require.NoError(t, writeDataFile(home, "proxy_assignments.toml", `version = 1

[assignments]
alice = "10.0.0.1:8080"
bob = "10.0.0.1:8080"
`))

	stdout, _, err := executeCLI(t, home, "proxy", "validate")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBindingViolations)
	assert.Contains(t, stdout, "checked: 2")
	assert.Contains(t, stdout, "bob\tduplicate\t10.0.0.1:8080\tkept by alice")

	stdout, _, err = executeCLI(t, home, "proxy", "validate", "--repair")
	require.NoError(t, err)
	assert.Contains(t, stdout, "repaired: dropped 1 bindings")

	stdout, _, err = executeCLI(t, home, "proxy", "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "bindings: ok")
}

func TestSessionCommandsWithoutSessions(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "session", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No cached sessions.")

	stdout, _, err = executeCLI(t, home, "session", "check", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "alice: invalid")

	stdout, _, err = executeCLI(t, home, "session", "delete", "alice")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Deleted session of alice")

	stdout, _, err = executeCLI(t, home, "session", "purge")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Purged 0 sessions")
}

func TestJobRunRejectsUnknownKind(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "job", "run", "--kind", "scrape")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownJobKind)
}

func TestJobRunRequiresKind(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "job", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s) \"kind\" not set")
}

func TestJobRunWithoutAccounts(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "job", "run", "--kind", "warmup")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
	assert.Contains(t, err.Error(), "no accounts configured")
}

func TestJobRunValidatesWorkloadBeforeStarting(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "job", "run", "--kind", "warmup", "--accounts", "alice", "--recurring")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidWorkload)

	_, _, err = executeCLI(t, home, "job", "run", "--kind", "message", "--accounts", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidWorkload)
}

func TestInvalidConfigFailsEveryCommand(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, writeDataFile(home, "config.toml", `[proxies]
list = ["not a proxy"]
`))

	_, _, err := executeCLI(t, home, "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestVersionCommand(t *testing.T) {
	home := t.TempDir()

	stdout, _, err := executeCLI(t, home, "version")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)
}

func TestUsageCommandIsRemoved(t *testing.T) {
	home := t.TempDir()

	_, _, err := executeCLI(t, home, "usage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command \"usage\"")
}

func executeCLI(t *testing.T, home string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("ACCOUNTCTL_DATA_DIR", "")
	t.Setenv("ACCOUNTCTL_SECRETS_BACKEND", "file")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFixture(home string) error {
	return writeDataFile(home, "config.toml", `[proxies]
list = ["10.0.0.1:8080", "10.0.0.2:8080:user:pass"]
`)
}

func writeDataFile(home, name, content string) error {
	dataDir := filepath.Join(home, ".accountctl")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0o600)
}
