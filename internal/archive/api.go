package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lnm/internal/httpserver"
	"lnm/internal/logging"

	"github.com/gorilla/mux"
)

// DefaultCacheMaxAge is six months of thirty days. Archive data never changes.
const DefaultCacheMaxAge = 60 * 60 * 24 * 30 * 6 * time.Second

// API serves the archive JSON endpoints.
type API struct {
	store      *Store
	maxAge     time.Duration
	flushEvery int
}

// APIOption customizes an API.
type APIOption func(*API)

// WithCacheMaxAge sets max-age and s-maxage of streamed responses.
func WithCacheMaxAge(d time.Duration) APIOption {
	return func(a *API) {
		if d > 0 {
			a.maxAge = d
		}
	}
}

// WithFlushEvery sets how many rows are written between flushes.
func WithFlushEvery(n int) APIOption {
	return func(a *API) {
		a.flushEvery = n
	}
}

// NewAPI builds the API over store.
func NewAPI(store *Store, opts ...APIOption) *API {
	a := &API{store: store, maxAge: DefaultCacheMaxAge, flushEvery: 100}
	for _, opt := range opts {
		opt(a)
	}
	logging.API("archive api: max-age %s, flush every %d rows", a.maxAge, a.flushEvery)
	return a
}

// Register mounts the API routes on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/topics", a.handleTopics).Methods(http.MethodGet).Name("topics.list")
	r.HandleFunc("/topics/{id}", a.handleTopic).Methods(http.MethodGet).Name("topics.view")
	r.HandleFunc("/posts", a.handlePosts).Methods(http.MethodGet).Name("posts.list")
	r.HandleFunc("/authors", a.handleAuthors).Methods(http.MethodGet).Name("authors.list")
	r.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet).Name("stats")
	r.HandleFunc("/downloads/database", a.handleDownload).Methods(http.MethodGet).Name("downloads.database")
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	httpserver.WriteJSON(w, status, map[string]string{"message": msg})
}

func (a *API) cacheHeaders(w http.ResponseWriter) {
	secs := int64(a.maxAge / time.Second)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d", secs, secs))
}

// stream writes a JSON array fed by each. Headers are only committed with
// the first row, so a failing query still gets a clean 500.
func (a *API) stream(w http.ResponseWriter, r *http.Request, each func(ctx context.Context, emit func(any) error) error) {
	log := httpserver.RequestLogger(r, logging.CategoryAPI)
	timer := logging.StartTimer(logging.CategoryAPI, r.URL.Path)
	defer timer.StopWithThreshold(5 * time.Second)

	enc := httpserver.NewStreamEncoder(w, a.flushEvery)
	started := false
	start := func() error {
		if started {
			return nil
		}
		started = true
		w.Header().Set("Content-Type", "application/json")
		a.cacheHeaders(w)
		w.WriteHeader(http.StatusOK)
		return enc.OpenArray()
	}

	rows := 0
	err := each(r.Context(), func(v any) error {
		if err := start(); err != nil {
			return err
		}
		rows++
		return enc.Element(v)
	})
	if err == nil {
		if err = start(); err == nil {
			err = enc.CloseArray()
		}
	}
	if err != nil {
		a.fail(w, log, started, err)
		return
	}
	log.Debug("streamed %d rows", rows)
}

// fail reports a stream error. Once the body has started the connection is
// aborted so the client sees a truncated document instead of bad JSON.
func (a *API) fail(w http.ResponseWriter, log *logging.RequestLogger, started bool, err error) {
	if errors.Is(err, context.Canceled) {
		logging.APIDebug("client went away: %v", err)
	} else {
		log.Error("stream failed: %v", err)
		logging.APIError("stream failed after headers=%t: %v", started, err)
	}
	if !started {
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	panic(http.ErrAbortHandler)
}

func (a *API) handleTopics(w http.ResponseWriter, r *http.Request) {
	a.stream(w, r, func(ctx context.Context, emit func(any) error) error {
		return a.store.EachTopic(ctx, func(t TopicSummary) error { return emit(t) })
	})
}

func (a *API) handleTopic(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log := httpserver.RequestLogger(r, logging.CategoryAPI).WithField("topic", id)

	topic, err := a.store.Topic(r.Context(), id)
	if errors.Is(err, ErrTopicNotFound) {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("No topic found for id “%s”", id))
		return
	}
	if err != nil {
		a.fail(w, log, false, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	a.cacheHeaders(w)
	w.WriteHeader(http.StatusOK)

	enc := httpserver.NewStreamEncoder(w, a.flushEvery)
	err = openTopic(enc, topic)
	if err == nil {
		err = a.store.EachTopicPost(r.Context(), id, func(p Post) error { return enc.Element(p) })
	}
	if err == nil {
		err = enc.CloseArray()
	}
	if err == nil {
		err = enc.CloseObject()
	}
	if err != nil {
		a.fail(w, log, true, err)
	}
}

// openTopic writes the topic header up to the opening of its posts array.
func openTopic(enc *httpserver.StreamEncoder, t Topic) error {
	if err := enc.OpenObject(); err != nil {
		return err
	}
	if err := enc.Field("id", t.ID); err != nil {
		return err
	}
	if err := enc.Field("title", t.Title); err != nil {
		return err
	}
	if err := enc.Key("posts"); err != nil {
		return err
	}
	return enc.OpenArray()
}

// ErrInvalidBoolean is returned by ParseBool for unrecognised values.
var ErrInvalidBoolean = errors.New("invalid boolean")

// ParseBool accepts the usual query-string spellings of a boolean:
// "1", "true", "on", "yes" and "0", "false", "off", "no", "".
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no", "":
		return false, nil
	}
	return false, ErrInvalidBoolean
}

func (a *API) handlePosts(w http.ResponseWriter, r *http.Request) {
	withoutTopic := false
	if values, ok := r.URL.Query()["without_topic"]; ok {
		raw := values[0]
		v, err := ParseBool(raw)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, fmt.Sprintf(
				"The “without_topic” query parameter must be a valid boolean. "+
					"Possible values: “1”, “true”, “on”, “yes”, “0”, “false”, “off”, “no”. “%s” given.", raw))
			return
		}
		withoutTopic = v
	}

	a.stream(w, r, func(ctx context.Context, emit func(any) error) error {
		return a.store.EachPost(ctx, withoutTopic, func(p Post) error { return emit(p) })
	})
}

func (a *API) handleAuthors(w http.ResponseWriter, r *http.Request) {
	a.stream(w, r, func(ctx context.Context, emit func(any) error) error {
		return a.store.EachAuthor(ctx, func(name string) error { return emit(name) })
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.store.Stats(r.Context())
	if err != nil {
		a.fail(w, httpserver.RequestLogger(r, logging.CategoryAPI), false, err)
		return
	}
	a.cacheHeaders(w)
	httpserver.WriteJSON(w, http.StatusOK, st)
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	log := httpserver.RequestLogger(r, logging.CategoryAPI)
	if err := a.store.Checkpoint(r.Context()); err != nil {
		log.Warn("checkpoint before download: %v", err)
	}

	f, err := os.Open(a.store.Path())
	if err != nil {
		a.fail(w, log, false, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		a.fail(w, log, false, err)
		return
	}

	name := filepath.Base(a.store.Path())
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	logging.AuditFor(logging.CategoryAPI, httpserver.GetRequestID(r.Context())).Log(logging.AuditEvent{
		EventType:  logging.AuditDownload,
		Subject:    name,
		RemoteAddr: r.RemoteAddr,
		Success:    true,
		Fields:     map[string]interface{}{"bytes": info.Size()},
	})
	http.ServeContent(w, r, name, info.ModTime(), f)
}
