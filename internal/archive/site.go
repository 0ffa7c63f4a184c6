package archive

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"lnm/internal/httpserver"
	"lnm/internal/logging"

	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/*.html
var templateFS embed.FS

// Site renders the HTML pages.
type Site struct {
	store  *Store
	policy *bluemonday.Policy
	pages  map[string]*template.Template
}

// NewSite parses the embedded templates.
func NewSite(store *Store) (*Site, error) {
	s := &Site{
		store:  store,
		policy: bluemonday.UGCPolicy(),
		pages:  make(map[string]*template.Template),
	}
	for _, name := range []string{"home", "topic", "no_topic", "not_found"} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		s.pages[name] = t
	}
	logging.Archive("site: parsed %d page templates", len(s.pages))
	return s, nil
}

// renderedPost is a post ready for a template. Content is sanitized HTML.
type renderedPost struct {
	Place     string
	Author    string
	CreatedAt string
	Content   template.HTML
}

// RenderContent turns scraped post text into safe HTML: newlines become
// <br /> and anything outside the UGC policy is stripped.
func (s *Site) RenderContent(content string) template.HTML {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "<br />\n")
	return template.HTML(s.policy.Sanitize(content))
}

func (s *Site) render(p Post) renderedPost {
	return renderedPost{
		Place:     text(p.Place),
		Author:    text(p.Author),
		CreatedAt: text(p.CreatedAt),
		Content:   s.RenderContent(p.Content),
	}
}

func (s *Site) execute(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	var buf bytes.Buffer
	if err := s.pages[page].ExecuteTemplate(&buf, page+".html", data); err != nil {
		httpserver.RequestLogger(r, logging.CategoryArchive).Error("render %s: %v", page, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Site) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logging.ArchiveError("[%s] %s failed: %v", httpserver.GetRequestID(r.Context()), r.URL.Path, err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Site) handleHome(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountPosts(r.Context())
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	var topics []TopicSummary
	err = s.store.EachTopic(r.Context(), func(t TopicSummary) error {
		topics = append(topics, t)
		return nil
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, "home", struct {
		PostsCount int64
		Topics     []TopicSummary
	}{count, topics})
}

func (s *Site) handleTopic(w http.ResponseWriter, r *http.Request) {
	if !r.URL.Query().Has("id") {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	id := r.URL.Query().Get("id")

	topic, err := s.store.Topic(r.Context(), id)
	if errors.Is(err, ErrTopicNotFound) {
		s.execute(w, r, http.StatusNotFound, "not_found", struct{ ID string }{id})
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	var posts []renderedPost
	err = s.store.EachTopicPost(r.Context(), id, func(p Post) error {
		posts = append(posts, s.render(p))
		return nil
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, "topic", struct {
		Topic Topic
		Posts []renderedPost
	}{topic, posts})
}

func (s *Site) handleNoTopic(w http.ResponseWriter, r *http.Request) {
	var posts []renderedPost
	err := s.store.EachPost(r.Context(), true, func(p Post) error {
		posts = append(posts, s.render(p))
		return nil
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.execute(w, r, http.StatusOK, "no_topic", struct{ Posts []renderedPost }{posts})
}
