package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"tasks": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxParallelWorkers, cfg.MaxParallelWorkers)
	assert.Equal(t, DefaultDiffThreshold, cfg.DiffThreshold)
	assert.Equal(t, DefaultRateLimitMS, cfg.RateLimitMS)
	assert.Equal(t, path, cfg.Path())
}

func TestLoadKeepsExplicitTuning(t *testing.T) {
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"max_parallel_workers": 8,
		"diff_threshold": 30,
		"rate_limit_ms": 50,
		"tasks": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxParallelWorkers)
	assert.Equal(t, 30, cfg.DiffThreshold)
	assert.Equal(t, 50, cfg.RateLimitMS)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestValidateCredentials(t *testing.T) {
	path := writeConfig(t, `{"feishu_app_secret": "secret", "tasks": []}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feishu_app_id")

	path = writeConfig(t, `{"feishu_app_id": "cli_app", "tasks": []}`)

	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feishu_app_secret")
}

func TestValidateEnabledTaskFields(t *testing.T) {
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"tasks": [{"local": "/vault/notes", "enabled": true}]
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cloud folder token")
}

func TestValidateSkipsDisabledTasks(t *testing.T) {
	// A disabled task may be incomplete; it is simply not run.
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"tasks": [{"local": "", "cloud": "", "enabled": false}]
	}`)

	_, err := Load(path)
	assert.NoError(t, err)
}

func TestEnabledTasks(t *testing.T) {
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"tasks": [
			{"note": "first", "local": "/a", "cloud": "fold1", "enabled": true},
			{"note": "off", "local": "/b", "cloud": "fold2", "enabled": false},
			{"note": "second", "local": "/c", "cloud": "fold3", "enabled": true, "force": true}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	tasks := cfg.EnabledTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].Note)
	assert.Equal(t, "second", tasks[1].Note)
	assert.True(t, tasks[1].Force)
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeConfig(t, `{
		"feishu_app_id": "cli_app",
		"feishu_app_secret": "secret",
		"tasks": []
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Token refresh writes new credentials back into the same file.
	cfg.UserAccessToken = "u-new-access"
	cfg.UserRefreshToken = "ur-new-refresh"
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "u-new-access", reloaded.UserAccessToken)
	assert.Equal(t, "ur-new-refresh", reloaded.UserRefreshToken)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveWithoutPath(t *testing.T) {
	var cfg Config

	assert.Error(t, cfg.Save())
}
