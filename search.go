package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

// servePlayerSearch backs the client's autocomplete box: partial name
// in, up to twenty matching players (with their most recent team) out.
func servePlayerSearch(cfg *Config, searcher PlayerSearcher, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			_, _ = w.Write([]byte("[]\n"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		results, err := searcher.SearchPlayers(ctx, query)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			errs <- err

			return
		}

		if results == nil {
			results = []PlayerResult{}
		}

		data, err := json.Marshal(results)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			errs <- err

			return
		}
		data = append(data, '\n')

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Player search %q (%d results, %s) to %s in %s",
			query,
			len(results),
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
