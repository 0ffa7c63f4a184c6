package archive

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter mounts the HTML pages at the root and the API under /api.
func NewRouter(api *API, site *Site) http.Handler {
	r := mux.NewRouter()
	api.Register(r.PathPrefix("/api").Subrouter())

	r.HandleFunc("/", site.handleHome).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/topic", site.handleTopic).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/no-topic", site.handleNoTopic).Methods(http.MethodGet, http.MethodHead)
	return r
}
