// Package control exposes the pipeline over a small HTTP/JSON API so a
// headless viewer can be tuned and inspected remotely.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edge-viewer-go/internal/edge"
	"edge-viewer-go/internal/frame"
	"edge-viewer-go/internal/pipeline"
)

// maxBodyBytes caps PUT bodies.
const maxBodyBytes = 1 << 16

// Pipeline is the coordinator surface the API drives.
type Pipeline interface {
	Start()
	Stop()
	Running() bool
	State() pipeline.State
	SessionID() string
	Params() edge.Params
	ParametersPending() bool
	ModifyParameters(fn func(*edge.Params)) (edge.Params, error)
	SetProcessingEnabled(on bool)
	ProcessingEnabled() bool
	Stats() pipeline.PerformanceStats
	ResetStats()
	WriteSnapshot(w io.Writer) error
}

// ParamsBody is the JSON form of edge.Params. On PUT, absent fields keep
// their current value.
type ParamsBody struct {
	LowThreshold   *float64 `json:"low_threshold,omitempty"`
	HighThreshold  *float64 `json:"high_threshold,omitempty"`
	BlurKernelSize *int     `json:"blur_kernel_size,omitempty"`
	Policy         *string  `json:"policy,omitempty"`
	Pending        bool     `json:"pending"`
}

// ProcessingBody toggles the filter chain.
type ProcessingBody struct {
	Enabled *bool `json:"enabled"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server serves the control API.
type Server struct {
	pipe   Pipeline
	log    logrus.FieldLogger
	router *mux.Router

	mu       sync.RWMutex
	sections map[string]func() interface{}

	srv *http.Server
}

// NewServer builds the router; nothing listens until Start.
func NewServer(pipe Pipeline, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		pipe:     pipe,
		log:      logger.WithField("component", "control"),
		sections: make(map[string]func() interface{}),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/stats", s.handleResetStats).Methods("DELETE")
	r.HandleFunc("/params", s.handleGetParams).Methods("GET")
	r.HandleFunc("/params", s.handlePutParams).Methods("PUT")
	r.HandleFunc("/processing", s.handleProcessing).Methods("PUT")
	r.HandleFunc("/snapshot.png", s.handleSnapshot).Methods("GET")
	r.HandleFunc("/pipeline/{action:start|stop}", s.handlePipeline).Methods("POST")
	r.Use(s.logRequests)
	return r
}

// AddHealthSection adds name to the /health document, filled by fn on
// every request.
func (s *Server) AddHealthSection(name string, fn func() interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[name] = fn
}

// Handler returns the API handler, for tests or embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "control listen %s", addr)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Control server stopped")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("Control server listening")
	return ln.Addr(), nil
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start).String(),
		}).Debug("Request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	doc := map[string]interface{}{
		"status":     "ok",
		"running":    s.pipe.Running(),
		"state":      s.pipe.State().String(),
		"session":    s.pipe.SessionID(),
		"processing": s.pipe.ProcessingEnabled(),
	}
	s.mu.RLock()
	for name, fn := range s.sections {
		doc[name] = fn()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.pipe.Stats()
	writeJSON(w, http.StatusOK, struct {
		pipeline.PerformanceStats
		Summary      string `json:"summary"`
		FramesFailed uint64 `json:"frames_failed"`
	}{stats, stats.String(), stats.FramesFailed()})
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.pipe.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, paramsBody(s.pipe.Params(), s.pipe.ParametersPending()))
}

func (s *Server) handlePutParams(w http.ResponseWriter, r *http.Request) {
	var body ParamsBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var policy *edge.Policy
	if body.Policy != nil {
		parsed, err := edge.ParsePolicy(*body.Policy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		policy = &parsed
	}

	p, err := s.pipe.ModifyParameters(func(p *edge.Params) {
		if body.LowThreshold != nil {
			p.LowThreshold = *body.LowThreshold
		}
		if body.HighThreshold != nil {
			p.HighThreshold = *body.HighThreshold
		}
		if body.BlurKernelSize != nil {
			p.BlurKernelSize = *body.BlurKernelSize
		}
		if policy != nil {
			p.Policy = *policy
		}
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, frame.ErrInvalidParameter) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, paramsBody(p, s.pipe.ParametersPending()))
}

func (s *Server) handleProcessing(w http.ResponseWriter, r *http.Request) {
	var body ProcessingBody
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`missing "enabled"`))
		return
	}
	s.pipe.SetProcessingEnabled(*body.Enabled)
	enabled := s.pipe.ProcessingEnabled()
	writeJSON(w, http.StatusOK, ProcessingBody{Enabled: &enabled})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.pipe.WriteSnapshot(&buf); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, frame.ErrEmptyFrame) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	switch mux.Vars(r)["action"] {
	case "start":
		s.pipe.Start()
	case "stop":
		s.pipe.Stop()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": s.pipe.Running(),
		"session": s.pipe.SessionID(),
	})
}

func paramsBody(p edge.Params, pending bool) ParamsBody {
	low, high, k, policy := p.LowThreshold, p.HighThreshold, p.BlurKernelSize, p.Policy.String()
	return ParamsBody{
		LowThreshold:   &low,
		HighThreshold:  &high,
		BlurKernelSize: &k,
		Policy:         &policy,
		Pending:        pending,
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
