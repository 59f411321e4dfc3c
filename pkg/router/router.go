package router

import (
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// --- ANSI color codes ---
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

// Router registers routes on a gorilla/mux router and writes one coloured
// access log line per request, unknown paths included.
type Router struct {
	mux    *mux.Router
	log    *log.Logger
	routes []string // "METHOD path", in registration order
}

func New() *Router {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput returns a router writing its access log to w.
func NewWithOutput(w io.Writer) *Router {
	r := &Router{
		mux: mux.NewRouter(),
		log: log.New(w, "", 0),
	}
	r.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	r.mux.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})
	return r
}

// Param returns the value of a {name} path variable of the matched route.
func Param(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	r.mux.ServeHTTP(lrw, req)

	duration := time.Since(start)
	r.log.Printf("%s[%s]%s %s%s%s %s %s%d%s %s(%v)%s",
		colorCyan, start.Format("2006-01-02 15:04:05"), colorReset,
		methodColor(req.Method), req.Method, colorReset,
		req.URL.Path,
		statusColor(lrw.statusCode), lrw.statusCode, colorReset,
		colorBlue, duration, colorReset,
	)
}

// --- Register paths ---
func (r *Router) register(method, path string, handler HandlerFunc) {
	r.mux.HandleFunc(path, handler).Methods(method)
	r.routes = append(r.routes, method+" "+path)
}

func (r *Router) GET(path string, handler HandlerFunc)   { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler HandlerFunc)  { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler HandlerFunc)   { r.register(http.MethodPut, path, handler) }
func (r *Router) PATCH(path string, handler HandlerFunc) { r.register(http.MethodPatch, path, handler) }
func (r *Router) DELETE(path string, handler HandlerFunc) {
	r.register(http.MethodDelete, path, handler)
}

// Mount serves every path under prefix with h.
func (r *Router) Mount(prefix string, h http.Handler) {
	r.mux.PathPrefix(prefix).Handler(h)
	r.routes = append(r.routes, "* "+strings.TrimSuffix(prefix, "/")+"/*")
}

// Routes lists the registered routes, sorted
func (r *Router) Routes() []string {
	out := append([]string(nil), r.routes...)
	sort.Strings(out)
	return out
}

// Server returns an HTTP server for the router listening on addr.
func (r *Router) Server(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	r.log.Printf("🚀 Server listening on %shttp://%s%s", colorGreen, addr, colorReset)
	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

// --- Logging response writer to capture status codes ---
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// --- Color helpers ---
func statusColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorGreen
	case code >= 300 && code < 400:
		return colorCyan
	case code >= 400 && code < 500:
		return colorYellow
	default:
		return colorRed
	}
}

func methodColor(method string) string {
	switch method {
	case http.MethodGet:
		return colorGreen
	case http.MethodPost:
		return colorBlue
	case http.MethodPut, http.MethodPatch:
		return colorYellow
	case http.MethodDelete:
		return colorRed
	default:
		return colorCyan
	}
}
