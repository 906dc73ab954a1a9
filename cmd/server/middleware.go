package main

import (
    "compress/gzip"
    "errors"
    "io"
    "net/http"
    "strings"

    log "github.com/sirupsen/logrus"
)

// handler wraps the API routes with the middlewares every response goes through.
func handler(s *server) http.Handler {
    return withJSONHeaders(withGzip(recoverPanic(s.routes())))
}

// withJSONHeaders marks every response as JSON and answers CORS preflights
// for the dashboard, which calls DELETE /api/cache and POST refresh.
func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        h := w.Header()
        h.Set("Content-Type", "application/json; charset=utf-8")
        h.Set("Access-Control-Allow-Origin", "*")
        if r.Method == http.MethodOptions {
            h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE")
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses responses for clients that accept gzip. Batch reads
// return large quote lists.
func withGzip(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz, _ := gzip.NewWriterLevel(w, gzip.BestSpeed)
        defer gz.Close()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        next.ServeHTTP(gzipWriter{ResponseWriter: w, w: gz}, r)
    })
}

type gzipWriter struct {
    http.ResponseWriter
    w io.Writer
}

func (g gzipWriter) Write(b []byte) (int, error) { return g.w.Write(b) }

func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                log.WithField("path", r.URL.Path).Errorf("panic: %v", rec)
                writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
            }
        }()
        next.ServeHTTP(w, r)
    })
}
