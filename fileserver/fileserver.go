package fileserver

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/ospolova/SHTS/metrics"
	"github.com/ospolova/SHTS/stats"
	"github.com/ospolova/SHTS/timer"
)

// Config contains all the necessary information of the file server.
type Config struct {
	root       string
	maxClients int
}

func NewConfig(root string, maxClients int) *Config {
	return &Config{
		root:       root,
		maxClients: maxClients,
	}
}

func (c *Config) Root() string {
	return c.root
}

func (c *Config) MaxClients() int {
	return c.maxClients
}

// FileServer serves files from the configured root with caching disabled
// on every response.
type FileServer struct {
	config    *Config
	stats     *stats.Service
	logger    *log.Logger
	files     http.Handler
	semaphore chan struct{}
}

// New is the constructor of the file server.
func New(config *Config, statsService *stats.Service, logger *log.Logger) *FileServer {
	var semaphore chan struct{}
	if config.maxClients > 0 {
		semaphore = make(chan struct{}, config.maxClients)
	}

	return &FileServer{
		config:    config,
		stats:     statsService,
		logger:    logger,
		files:     NoCache(http.FileServer(http.Dir(config.root))),
		semaphore: semaphore,
	}
}

func (s *FileServer) Config() *Config {
	return s.config
}

func (s *FileServer) Stats() *stats.Service {
	return s.stats
}

// ServeFilesHandler is the main Handle func.
func (s *FileServer) ServeFilesHandler(rw http.ResponseWriter, req *http.Request) {
	if err := timer.MakeRequestTimeTracker(s.serveFilesHandler, timer.SaveTimeServed, true)(rw, req); err != nil {
		s.logger.Error("Failed to serve request", "path", req.URL.Path, "err", err)
	}
}

func (s *FileServer) serveFilesHandler(rw http.ResponseWriter, req *http.Request) error {
	if s.semaphore != nil {
		s.semaphore <- struct{}{}
		defer func() { <-s.semaphore }()
	}

	metrics.GlobalMetrics.RequestsNow.Inc()
	defer metrics.GlobalMetrics.RequestsNow.Dec()
	defer metrics.GlobalMetrics.Requests.Inc()

	counter := &countingResponseWriter{ResponseWriter: rw, status: http.StatusOK}
	s.files.ServeHTTP(counter, req)

	if counter.status == http.StatusNotFound {
		metrics.GlobalMetrics.RequestsNotFound.Inc()
	}
	metrics.UpdateResponseBodySize(float64(counter.bytes))

	s.logger.Info("Served", "path", req.URL.Path, "status", counter.status, "bytes", counter.bytes)

	go s.saveToStats(req.URL.Path, counter.status, counter.bytes)
	return nil
}

// countingResponseWriter captures the status and body size the static
// handler produced so they can be accounted after the fact.
type countingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *countingResponseWriter) WriteHeader(status int) {
	// ServeContent strips caching headers from error responses, so they
	// are put back right before the headers go out.
	setNoCacheHeaders(w.Header())
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *countingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
