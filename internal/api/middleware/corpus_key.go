package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/tutorion/internal/api"
	"github.com/cloo-solutions/tutorion/internal/domain"
)

const CorpusKeyKey contextKey = "corpus_key"

// CorpusKey validates the {ownerID} and {corpusID} route parameters and
// stores the resulting key in the request context.
func CorpusKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := domain.NewCorpusKey(routeParam(r, "ownerID"), routeParam(r, "corpusID"))
		if err != nil {
			api.HandleError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCorpusKey(r.Context(), key)))
	})
}

// GetCorpusKey returns the corpus key stored by CorpusKey.
func GetCorpusKey(ctx context.Context) (domain.CorpusKey, bool) {
	key, ok := ctx.Value(CorpusKeyKey).(domain.CorpusKey)
	return key, ok
}

// WithCorpusKey returns a copy of ctx carrying key.
func WithCorpusKey(ctx context.Context, key domain.CorpusKey) context.Context {
	return context.WithValue(ctx, CorpusKeyKey, key)
}

// routeParam returns the unescaped route parameter. chi matches on RawPath
// when it is set, leaving escapes in place.
func routeParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return v
}
