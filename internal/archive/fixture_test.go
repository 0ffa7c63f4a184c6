package archive

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureSchema = `
CREATE TABLE topics (id TEXT PRIMARY KEY, title TEXT);
CREATE TABLE posts (
	id TEXT PRIMARY KEY,
	topic_id INTEGER,
	place TEXT,
	position INTEGER,
	author TEXT,
	content BLOB,
	created_at INTEGER
);
INSERT INTO topics VALUES ('1', 'Vie en Dragostina'), ('2', 'En Vrac'), ('3', 'Sans réponse');
INSERT INTO posts VALUES
	('a', 1, NULL, 1, 'Alice', 'Bonjour' || char(10) || 'monde', 100),
	('b', 1, NULL, 2, 'Bob', 'Salut', 300),
	('c', 2, NULL, 1, 'Alice', '<script>alert(1)</script><b>gras</b>', 200),
	('d', NULL, 'En Vrac', 3, NULL, 'imprimé', NULL);
`

// newFixtureStore writes a small archive database and opens it read-only.
func newFixtureStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
