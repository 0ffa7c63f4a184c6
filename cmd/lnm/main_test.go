package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lnm/internal/archive"
	"lnm/internal/battle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	strongTroop = "0000000/0000000/0000000/0000000/0000000/0000000/0001000/0000000"
	weakTroop   = "0000001/0000000/0000000/0000000/0000000/0000000/0000000/0000000"
)

// fastConfig keeps password hashing cheap.
const fastConfig = `platform:
  argon2_memory_kib: 64
  argon2_iterations: 1
  argon2_parallelism: 1
  connect_retries: 1
`

// resetFlags restores every package-level flag between runs.
func resetFlags() {
	verbose, workspace, configPath = false, "", ""
	archiveAddr, archiveDB, importDir, importWatch, importWorker = "", "", "", false, 0
	platformAddr, platformDSN = "", ""
	fixtureCount, fixtureSeed, fixtureAdminPassword = 30, 1, "admin"
	newUsername, newEmail, newPassword = "", "", ""
	newAdmin, newGM, newDisabled = false, false, false
	gatewayAddr, battleSeed, battleRaw = "", 0, false
	configForce = false
}

func newWorkspace(t *testing.T) (ws, cfgFile string) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "LNM_ARCHIVE_DB", "LNM_DUMP_DIR", "LNM_LOG_LEVEL", "LNM_DEBUG"} {
		t.Setenv(key, "")
	}
	ws = t.TempDir()
	cfgFile = filepath.Join(ws, "lnm.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(fastConfig), 0o644))
	return ws, cfgFile
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	ws, _ := newWorkspace(t)

	out, err := execute(t, "-w", ws, "config", "init")
	require.NoError(t, err, out)
	assert.FileExists(t, filepath.Join(ws, ".lnm", "config.yaml"))

	_, err = execute(t, "-w", ws, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "-w", ws, "config", "init", "--force")
	require.NoError(t, err)

	out, err = execute(t, "-w", ws, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "database_path: data/lnm_archive.db")
	assert.Contains(t, out, "cookie_name: session_token")
}

func TestConfigShowAppliesDotEnv(t *testing.T) {
	ws, cfgFile := newWorkspace(t)
	require.NoError(t, os.Unsetenv("LNM_ARCHIVE_DB"))
	t.Cleanup(func() { os.Unsetenv("LNM_ARCHIVE_DB") })
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"), []byte("LNM_ARCHIVE_DB=/srv/archive.db\n"), 0o644))

	out, err := execute(t, "-w", ws, "-c", cfgFile, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "database_path: /srv/archive.db")
}

func TestConfigShowMasksDatabasePassword(t *testing.T) {
	ws, cfgFile := newWorkspace(t)
	t.Setenv("DATABASE_URL", "postgres://lnm:secret@db:5432/lnm?sslmode=disable")

	out, err := execute(t, "-w", ws, "-c", cfgFile, "config", "show")
	require.NoError(t, err, out)
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "postgres://lnm:xxxxx@db:5432/lnm?sslmode=disable")
}

func TestRedactDSN(t *testing.T) {
	tests := map[string]string{
		"data/platform.db":                        "data/platform.db",
		"postgres://lnm@db/lnm":                   "postgres://lnm@db/lnm",
		"postgres://lnm:pw@db/lnm":                "postgres://lnm:xxxxx@db/lnm",
		"host=db user=lnm password=pw dbname=lnm": "host=db user=lnm password=xxxxx dbname=lnm",
		"": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, redactDSN(in), in)
	}
}

func TestBattleSolve(t *testing.T) {
	ws, cfgFile := newWorkspace(t)

	out, err := execute(t, "-w", ws, "-c", cfgFile, "battle", "solve", "--seed", "5", strongTroop, weakTroop)
	require.NoError(t, err, out)
	assert.Contains(t, out, "attacker wins")
	assert.Contains(t, out, "phase 1")
	assert.Contains(t, out, "seed 5")
}

func TestBattleSolveRaw(t *testing.T) {
	ws, cfgFile := newWorkspace(t)

	out, err := execute(t, "-w", ws, "-c", cfgFile, "battle", "solve", "--seed", "5", "--raw", weakTroop+" "+strongTroop+" 0 0")
	require.NoError(t, err, out)

	log, err := battle.ParseLog(strings.TrimSpace(out))
	require.NoError(t, err)
	last, _ := log.Last()
	assert.True(t, last.Finished)
	assert.False(t, last.AttackerWon)
}

func TestBattleSolveRejectsNotation(t *testing.T) {
	ws, cfgFile := newWorkspace(t)

	_, err := execute(t, "-w", ws, "-c", cfgFile, "battle", "solve", "1/2/3", weakTroop)
	assert.ErrorIs(t, err, battle.ErrInvalidNotation)
}

func TestArchiveImport(t *testing.T) {
	ws, cfgFile := newWorkspace(t)
	dumps := filepath.Join(ws, "dumps")
	require.NoError(t, os.MkdirAll(dumps, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dumps, "forum.json"), []byte(`{
		"topic": {"1": {"_id": 12, "title": "En Vrac"}},
		"post": {
			"1": {"_id": 100, "_topic_id": 12, "author": "Alice", "content": "Bonjour", "date": 1},
			"2": {"_id": 101, "_topic_id": 12, "author": "Bob", "content": "Salut", "date": 2}
		}
	}`), 0o644))
	db := filepath.Join(ws, "archive.db")

	out, err := execute(t, "-w", ws, "-c", cfgFile, "archive", "import", "--dir", dumps, "--db", db, "--workers", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Import complete")
	assert.Contains(t, out, "2 inserted")

	// a second run only ignores rows
	out, err = execute(t, "-w", ws, "-c", cfgFile, "archive", "import", "--dir", dumps, "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 inserted, 2 ignored")

	store, err := archive.Open(db)
	require.NoError(t, err)
	defer store.Close()
	n, err := store.CountPosts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestArchiveImportMissingDir(t *testing.T) {
	ws, cfgFile := newWorkspace(t)

	_, err := execute(t, "-w", ws, "-c", cfgFile, "archive", "import", "--dir", filepath.Join(ws, "nope"), "--db", filepath.Join(ws, "a.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import failed")
}

func TestPlatformUserCreate(t *testing.T) {
	ws, cfgFile := newWorkspace(t)
	db := filepath.Join(ws, "platform.db")
	args := []string{"-w", ws, "-c", cfgFile, "platform", "user", "create", "--database", db,
		"--username", "Inès", "--email", "ines@example.com", "--password", "secret", "--admin"}

	out, err := execute(t, args...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "ines@example.com")

	out, err = execute(t, args...)
	require.Error(t, err)
	assert.Contains(t, out, "violation.email.not_unique")
	assert.Contains(t, out, "violation.username.not_unique")
}

func TestPlatformFixtures(t *testing.T) {
	ws, cfgFile := newWorkspace(t)
	db := filepath.Join(ws, "platform.db")

	out, err := execute(t, "-w", ws, "-c", cfgFile, "platform", "fixtures", "--database", db, "--count", "3")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Loaded 4 users")
	assert.Contains(t, out, "admin@example.com")
}

func TestPlatformMigrate(t *testing.T) {
	ws, cfgFile := newWorkspace(t)

	out, err := execute(t, "-w", ws, "-c", cfgFile, "platform", "migrate", "--database", "data/platform.db")
	require.NoError(t, err, out)
	assert.Contains(t, out, "schema up to date")
	assert.FileExists(t, filepath.Join(ws, "data", "platform.db"))
}

func TestStateNotation(t *testing.T) {
	assert.Equal(t, "a b 0 0", stateNotation([]string{"a", "b"}))
	assert.Equal(t, "a b 1 0", stateNotation([]string{"a b 1 0"}))
	assert.Equal(t, "a b 1 1", stateNotation([]string{"a", "b", "1", "1"}))
}
