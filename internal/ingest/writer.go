package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"lnm/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Counts tallies insert outcomes. Ignored rows already existed.
type Counts struct {
	TopicsInserted int
	TopicsIgnored  int
	PostsInserted  int
	PostsIgnored   int
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.TopicsInserted += o.TopicsInserted
	c.TopicsIgnored += o.TopicsIgnored
	c.PostsInserted += o.PostsInserted
	c.PostsIgnored += o.PostsIgnored
}

// Writer owns the read-write handle on the archive database.
type Writer struct {
	db     *sql.DB
	dbPath string
}

// OpenWriter creates or opens the archive database and ensures its schema.
func OpenWriter(dbPath string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer connection; the import is a single transaction anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("ingest: opened %s for writing", dbPath)
	return &Writer{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

// Path returns the database file path.
func (w *Writer) Path() string {
	return w.dbPath
}

// Batch is an open import transaction.
type Batch struct {
	tx        *sql.Tx
	topicStmt *sql.Stmt
	postStmt  *sql.Stmt
	counts    Counts
	finished  bool
}

// Begin starts a transaction. Nothing is visible until Commit.
func (w *Writer) Begin(ctx context.Context) (*Batch, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	topicStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO topics (id, title) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare topic insert: %w", err)
	}
	postStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO posts (id, topic_id, place, position, author, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("prepare post insert: %w", err)
	}
	return &Batch{tx: tx, topicStmt: topicStmt, postStmt: postStmt}, nil
}

// Insert writes every row of d.
func (b *Batch) Insert(ctx context.Context, d *Dump) (Counts, error) {
	var c Counts
	for _, t := range d.Topics {
		res, err := b.topicStmt.ExecContext(ctx, t.ID, t.Title)
		if err != nil {
			return c, fmt.Errorf("%s: insert topic %s: %w", d.Source, t.ID, err)
		}
		if inserted(res) {
			c.TopicsInserted++
		} else {
			c.TopicsIgnored++
		}
	}
	for _, p := range d.Posts {
		res, err := b.postStmt.ExecContext(ctx, p.ID, p.TopicID, p.Place, p.Position, p.Author, p.Content, p.CreatedAt)
		if err != nil {
			return c, fmt.Errorf("%s: insert post %s: %w", d.Source, p.ID, err)
		}
		if inserted(res) {
			c.PostsInserted++
		} else {
			c.PostsIgnored++
		}
	}
	b.counts.Add(c)
	return c, nil
}

// Counts returns the running totals of this batch.
func (b *Batch) Counts() Counts {
	return b.counts
}

// Commit makes the batch visible.
func (b *Batch) Commit() error {
	b.finished = true
	b.closeStmts()
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// Rollback discards the batch. Safe to call after Commit.
func (b *Batch) Rollback() {
	if b.finished {
		return
	}
	b.finished = true
	b.closeStmts()
	if err := b.tx.Rollback(); err != nil {
		logging.IngestWarn("rollback failed: %v", err)
	}
}

func (b *Batch) closeStmts() {
	b.topicStmt.Close()
	b.postStmt.Close()
}

func inserted(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
