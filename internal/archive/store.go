// Package archive serves the read-only forum archive: a SQLite database built
// by the importer, exposed as a streamed JSON API and a handful of HTML pages.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"lnm/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrTopicNotFound is returned when a topic ID does not exist.
var ErrTopicNotFound = errors.New("topic not found")

// TopicSummary is one row of the topic list.
type TopicSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Authors      string `json:"authors"`
	LastPostDate any    `json:"last_post_date"`
}

// Topic is a topic header.
type Topic struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Post is an archived post. Scraped columns are loosely typed and are
// emitted as stored (integer, text or null).
type Post struct {
	ID        string `json:"id"`
	TopicID   any    `json:"topic_id"`
	Place     any    `json:"place"`
	Position  any    `json:"position"`
	Author    any    `json:"author"`
	Content   string `json:"content"`
	CreatedAt any    `json:"created_at"`
}

// Stats summarizes the archive contents.
type Stats struct {
	Posts             int64 `json:"posts"`
	Topics            int64 `json:"topics"`
	Authors           int64 `json:"authors"`
	PostsWithoutTopic int64 `json:"posts_without_topic"`
}

// Store reads the archive database.
type Store struct {
	db   *sql.DB
	path string
}

// pragmas applied on every pooled connection through the DSN.
var connPragmas = []string{
	"synchronous(NORMAL)",
	"cache_size(10000)",
	"temp_store(MEMORY)",
	"mmap_size(30000000)",
}

// Open opens the archive database read-only.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("archive database %s: %w", path, err)
	}

	q := url.Values{}
	q.Set("mode", "ro")
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Changing the journal mode needs write access; a read-only handle keeps
	// whatever the importer left.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreWarn("archive: journal_mode=WAL not applied: %v", err)
	}

	logging.Store("archive: opened %s read-only", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const topicsQuery = `
SELECT
	t.id,
	t.title,
	REPLACE(GROUP_CONCAT(DISTINCT p.author), ',', ', ') AS authors,
	MAX(p.created_at) AS last_post_date
FROM topics t
INNER JOIN posts p ON t.id = p.topic_id
GROUP BY t.id
ORDER BY last_post_date DESC`

// EachTopic calls fn for every topic that has posts, most recent first.
func (s *Store) EachTopic(ctx context.Context, fn func(TopicSummary) error) error {
	rows, err := s.db.QueryContext(ctx, topicsQuery)
	if err != nil {
		return fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t              TopicSummary
			id             any
			title, authors sql.NullString
		)
		if err := rows.Scan(&id, &title, &authors, &t.LastPostDate); err != nil {
			return fmt.Errorf("scan topic: %w", err)
		}
		t.ID = text(id)
		t.Title = title.String
		t.Authors = authors.String
		t.LastPostDate = loose(t.LastPostDate)
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Topic returns one topic header.
func (s *Store) Topic(ctx context.Context, id string) (Topic, error) {
	var (
		rawID any
		title sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, title FROM topics WHERE id = ?`, id).Scan(&rawID, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrTopicNotFound
	}
	if err != nil {
		return Topic{}, fmt.Errorf("query topic %s: %w", id, err)
	}
	return Topic{ID: text(rawID), Title: title.String}, nil
}

const postColumns = `id, topic_id, place, position, author, content, created_at`

// EachTopicPost calls fn for every post of a topic in chronological order.
func (s *Store) EachTopicPost(ctx context.Context, topicID string, fn func(Post) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE topic_id = ? ORDER BY created_at ASC`, topicID)
	if err != nil {
		return fmt.Errorf("query topic posts: %w", err)
	}
	return eachPost(rows, fn)
}

// EachPost calls fn for every post, or only for posts without a topic.
func (s *Store) EachPost(ctx context.Context, withoutTopic bool, fn func(Post) error) error {
	query := `SELECT ` + postColumns + ` FROM posts`
	if withoutTopic {
		query += ` WHERE topic_id IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query posts: %w", err)
	}
	return eachPost(rows, fn)
}

func eachPost(rows *sql.Rows, fn func(Post) error) error {
	defer rows.Close()
	for rows.Next() {
		var (
			p       Post
			id      any
			content sql.NullString
		)
		if err := rows.Scan(&id, &p.TopicID, &p.Place, &p.Position, &p.Author, &content, &p.CreatedAt); err != nil {
			return fmt.Errorf("scan post: %w", err)
		}
		p.ID = text(id)
		p.TopicID = loose(p.TopicID)
		p.Place = loose(p.Place)
		p.Position = loose(p.Position)
		p.Author = loose(p.Author)
		p.Content = content.String
		p.CreatedAt = loose(p.CreatedAt)
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

// EachAuthor calls fn for every distinct author in ascending order.
func (s *Store) EachAuthor(ctx context.Context, fn func(string) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT author FROM posts WHERE author IS NOT NULL ORDER BY author ASC`)
	if err != nil {
		return fmt.Errorf("query authors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var author any
		if err := rows.Scan(&author); err != nil {
			return fmt.Errorf("scan author: %w", err)
		}
		if err := fn(text(author)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountPosts returns the number of archived posts.
func (s *Store) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(id) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// Stats returns aggregate counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(id) FROM posts),
			(SELECT COUNT(id) FROM topics),
			(SELECT COUNT(DISTINCT author) FROM posts WHERE author IS NOT NULL),
			(SELECT COUNT(id) FROM posts WHERE topic_id IS NULL)`,
	).Scan(&st.Posts, &st.Topics, &st.Authors, &st.PostsWithoutTopic)
	if err != nil {
		return Stats{}, fmt.Errorf("archive stats: %w", err)
	}
	return st, nil
}

// Checkpoint folds the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	logging.StoreDebug("archive: checkpointed %s", s.path)
	return nil
}

// loose normalizes a scanned value for JSON output.
func loose(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
