package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lnm/internal/logging"

	"golang.org/x/sync/errgroup"
)

// DefaultPrintGlobs matches print-view dumps by file name.
var DefaultPrintGlobs = []string{"*_print.json"}

// Report summarizes one import run.
type Report struct {
	Files    int
	Skipped  int
	Dropped  int
	Duration time.Duration
	Counts
}

// Importer decodes dump files concurrently and inserts them in file order
// inside a single transaction.
type Importer struct {
	writer     *Writer
	workers    int
	printGlobs []string
}

// Option configures an Importer.
type Option func(*Importer)

// WithWorkers bounds the number of files decoded at once.
func WithWorkers(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.workers = n
		}
	}
}

// WithPrintGlobs sets the file-name patterns treated as print dumps.
func WithPrintGlobs(globs []string) Option {
	return func(im *Importer) {
		if len(globs) > 0 {
			im.printGlobs = globs
		}
	}
}

// NewImporter creates an importer writing through w.
func NewImporter(w *Writer, opts ...Option) *Importer {
	im := &Importer{writer: w, workers: 4, printGlobs: DefaultPrintGlobs}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// FormatFor picks the dump format from the file name.
func (im *Importer) FormatFor(path string) Format {
	base := filepath.Base(path)
	for _, g := range im.printGlobs {
		if ok, _ := filepath.Match(g, base); ok {
			return FormatPrint
		}
	}
	return FormatForum
}

// ListDumps returns the .json files of dir in lexical order.
func ListDumps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dump dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ImportDir imports every dump in dir.
func (im *Importer) ImportDir(ctx context.Context, dir string) (*Report, error) {
	files, err := ListDumps(dir)
	if err != nil {
		return nil, err
	}
	return im.ImportFiles(ctx, files)
}

type decoded struct {
	dump *Dump
	err  error
}

// ImportFiles imports the given files. Files are decoded by up to `workers`
// goroutines while the inserting goroutine consumes them in order; a decoded
// file holds its worker slot until inserted so memory stays bounded.
// Any insert error rolls the whole run back.
func (im *Importer) ImportFiles(ctx context.Context, files []string) (*Report, error) {
	start := time.Now()
	report := &Report{Files: len(files)}
	audit := logging.AuditFor(logging.CategoryIngest, "")
	audit.Log(logging.AuditEvent{
		EventType: logging.AuditImportStart,
		Subject:   im.writer.Path(),
		Success:   true,
		Fields:    map[string]interface{}{"files": len(files)},
	})

	batch, err := im.writer.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer batch.Rollback()

	slots := make([]chan decoded, len(files))
	for i := range slots {
		slots[i] = make(chan decoded, 1)
	}
	sem := make(chan struct{}, im.workers)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for i, path := range files {
			select {
			case sem <- struct{}{}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			i, path := i, path
			eg.Go(func() error {
				d, err := im.decodeFile(path)
				slots[i] <- decoded{dump: d, err: err}
				return nil
			})
		}
		return nil
	})
	eg.Go(func() error {
		for i := range slots {
			var res decoded
			select {
			case res = <-slots[i]:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			<-sem

			if res.err != nil {
				if errors.Is(res.err, ErrUnknownShape) {
					logging.IngestWarn("skipping %s: %v", files[i], res.err)
					report.Skipped++
					continue
				}
				return res.err
			}
			c, err := batch.Insert(egCtx, res.dump)
			if err != nil {
				return err
			}
			report.Dropped += res.dump.Dropped
			logging.IngestDebug("%s (%s): %d/%d topics, %d/%d posts inserted",
				filepath.Base(files[i]), res.dump.Format,
				c.TopicsInserted, len(res.dump.Topics), c.PostsInserted, len(res.dump.Posts))
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		report.Duration = time.Since(start)
		logging.IngestError("import aborted: %v", err)
		audit.Import(im.writer.Path(), report.Duration, nil, err)
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		audit.Import(im.writer.Path(), time.Since(start), nil, err)
		return nil, err
	}

	report.Counts = batch.Counts()
	report.Duration = time.Since(start)
	logging.Ingest("imported %d files (%d skipped): %d topics, %d posts in %v",
		report.Files, report.Skipped, report.TopicsInserted, report.PostsInserted, report.Duration)
	audit.Import(im.writer.Path(), report.Duration, map[string]interface{}{
		"files":           report.Files,
		"skipped":         report.Skipped,
		"topics_inserted": report.TopicsInserted,
		"posts_inserted":  report.PostsInserted,
	}, nil)
	return report, nil
}

func (im *Importer) decodeFile(path string) (*Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()
	return Decode(f, filepath.Base(path), im.FormatFor(path))
}
