package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-tester/pkg/crypto"
)

const (
	testAppKey  = "2b7e151628aed2a6abf7158809cf4f3c"
	testAppSKey = "c1076c63b971710a708e3471a7c803d7"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := "session:\n  backend: file\n  dir: " + filepath.Join(dir, "sessions") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// resetFlags puts every flag back to its default; flag variables are
// package globals and survive between executions
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"-c", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	version = "1.2.3"
	out, err := run(t, testConfig(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestCipherCommand(t *testing.T) {
	out, err := run(t, testConfig(t), "cipher", "b7bdb6a97da328f44fe5ece3d7",
		"--key", testAppSKey, "--dev-addr", "260b4ede", "--fcnt", "8")
	require.NoError(t, err)
	assert.Equal(t, "48656c6c6f20576f726c64ce09\n", out)
}

func TestDeriveCommand(t *testing.T) {
	out, err := run(t, testConfig(t), "derive",
		"--app-key", testAppKey, "--app-nonce", "010203", "--net-id", "000013", "--dev-nonce", "1237")
	require.NoError(t, err)
	assert.Contains(t, out, "43398084a3b09723a3846f54bb47b795")
	assert.Contains(t, out, "aeedc14262e2f93d65c43c43d47fcf08")
	assert.Contains(t, out, "98d64d7fea89f449c832e60714cfaaea")
}

func TestMICCommand(t *testing.T) {
	out, err := run(t, testConfig(t), "mic", "00000000000000000033333333333333333712af7e4681", "--key", testAppKey)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = run(t, testConfig(t), "mic", "00000000000000000033333333333333333712af7e4682", "--key", testAppKey)
	require.NoError(t, err)
	assert.Contains(t, out, "MISMATCH")
}

func TestSessionWorkflow(t *testing.T) {
	cfgPath := testConfig(t)

	out, err := run(t, cfgPath, "session", "new", "lab")
	require.NoError(t, err)
	assert.Contains(t, out, "lab created")

	_, err = run(t, cfgPath, "session", "set", "AppKey", testAppKey)
	require.NoError(t, err)

	out, err = run(t, cfgPath, "forge", "join-request")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "00000000000000000033333333333333333712af7e4681", lines[0])
	assert.Contains(t, out, "placeholder JoinRequest_DevNonce = 1237")

	for _, kv := range [][2]string{
		{"JoinRequest_DevNonce", "1237"},
		{"JoinAccept_AppNonce", "010203"},
		{"JoinAccept_NetID", "000013"},
	} {
		_, err = run(t, cfgPath, "session", "set", kv[0], kv[1])
		require.NoError(t, err)
	}

	_, err = run(t, cfgPath, "derive", "--from-session", "--save")
	require.NoError(t, err)

	out, err = run(t, cfgPath, "session", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "43398084a3b09723a3846f54bb47b795")

	out, err = run(t, cfgPath, "session", "list")
	require.NoError(t, err)
	assert.Equal(t, "* lab\n", out)

	_, err = run(t, cfgPath, "session", "unset", "all")
	require.NoError(t, err)
	out, err = run(t, cfgPath, "session", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, testAppKey)
}

func TestDeriveFromSessionMissingInput(t *testing.T) {
	cfgPath := testConfig(t)
	_, err := run(t, cfgPath, "session", "new", "lab")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "session", "set", "AppKey", testAppKey)
	require.NoError(t, err)

	_, err = run(t, cfgPath, "derive", "--from-session")
	assert.ErrorContains(t, err, "JoinRequest_DevNonce")
}

func TestForgeRandomDevNonce(t *testing.T) {
	cfgPath := testConfig(t)
	_, err := run(t, cfgPath, "session", "new", "lab")
	require.NoError(t, err)
	_, err = run(t, cfgPath, "session", "set", "AppKey", testAppKey)
	require.NoError(t, err)

	out, err := run(t, cfgPath, "forge", "join-request", "--random-devnonce")
	require.NoError(t, err)
	assert.Contains(t, out, "generated JoinRequest_DevNonce = ")
	assert.NotContains(t, out, "placeholder JoinRequest_DevNonce")
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, testConfig(t), "hash-password", "s3cret")
	require.NoError(t, err)
	assert.True(t, crypto.VerifyPassword("s3cret", strings.TrimSpace(out)))
}
