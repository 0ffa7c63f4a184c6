package ingest

// Schema is the archive layout. Topic and post IDs are text because dumps
// mix numeric and string identifiers.
const Schema = `
CREATE TABLE IF NOT EXISTS topics (
	id TEXT PRIMARY KEY,
	title TEXT
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	topic_id INTEGER,
	place TEXT,
	position INTEGER,
	author TEXT,
	content BLOB,
	created_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic_id);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author);
`
