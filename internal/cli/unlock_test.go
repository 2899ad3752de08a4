package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groundwork-io/groundctl/pkg/state"
	"github.com/groundwork-io/groundctl/pkg/state/backend/local"
)

func lockedManager(t *testing.T, dir string) state.Manager {
	t.Helper()
	b, err := local.NewBackend(map[string]string{"path": dir})
	require.NoError(t, err)
	manager := state.NewManager(b)
	_, err = manager.Lock(context.Background(), state.LockScope{Key: "prod", Who: "gone@host", Operation: "apply"})
	require.NoError(t, err)
	return manager
}

func runUnlock(t *testing.T, dir, input string, extra ...string) (string, error) {
	t.Helper()
	cmd := newUnlockCmd()
	cmd.SetArgs(append([]string{
		"-k", "prod",
		"--backend", "local",
		"--backend-config", "path=" + dir,
	}, extra...))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(input))
	err := cmd.Execute()
	return out.String(), err
}

func TestUnlockRequiresTypedKey(t *testing.T) {
	dir := t.TempDir()
	manager := lockedManager(t, dir)

	out, err := runUnlock(t, dir, "nope\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Unlock cancelled.")

	// Wrong confirmation leaves the lock in place.
	info, err := manager.ReadLock(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, "gone@host", info.Who)
}

func TestUnlockReleasesOnConfirmation(t *testing.T) {
	dir := t.TempDir()
	manager := lockedManager(t, dir)

	out, err := runUnlock(t, dir, "prod\n")
	require.NoError(t, err)
	assert.Contains(t, out, `State "prod" unlocked.`)

	_, err = manager.ReadLock(context.Background(), "prod")
	require.Error(t, err)
}

func TestUnlockForceSkipsPrompt(t *testing.T) {
	dir := t.TempDir()
	manager := lockedManager(t, dir)

	out, err := runUnlock(t, dir, "", "--force")
	require.NoError(t, err)
	assert.NotContains(t, out, "to confirm")
	assert.Contains(t, out, `State "prod" unlocked.`)

	_, err = manager.ReadLock(context.Background(), "prod")
	require.Error(t, err)
}
