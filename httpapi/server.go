package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/zaugust4891/ad-image-generator/config"
	"github.com/zaugust4891/ad-image-generator/events"
	"github.com/zaugust4891/ad-image-generator/logging"
	"github.com/zaugust4891/ad-image-generator/orchestrator"
	"github.com/zaugust4891/ad-image-generator/store"
	"github.com/zaugust4891/ad-image-generator/template"
)

// Server is the HTTP Surface: get/put config and template, start and
// observe runs, list and serve images. It holds a single exclusive run
// slot; a second start request while a run is in progress gets 409.
type Server struct {
	log          logging.Logger
	configPath   string
	templatePath string

	docMu    sync.RWMutex
	cfg      *config.RunConfig
	tmplDoc  template.Doc

	runMu        sync.Mutex
	current      *orchestrator.Orchestrator
	lastTerminal *orchestrator.Orchestrator
}

// NewServer loads the config and template documents and builds a
// Server ready to be mounted on an http.ServeMux.
func NewServer(configPath, templatePath string, log logging.Logger) (*Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	tmplDoc, err := template.LoadFile(templatePath)
	if err != nil {
		return nil, err
	}
	return &Server{
		log:          log,
		configPath:   configPath,
		templatePath: templatePath,
		cfg:          cfg,
		tmplDoc:      tmplDoc,
	}, nil
}

// Handler builds the full middleware-wrapped mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("POST /api/config/validate", s.handleValidateConfig)
	mux.HandleFunc("GET /api/template", s.handleGetTemplate)
	mux.HandleFunc("PUT /api/template", s.handlePutTemplate)
	mux.HandleFunc("POST /api/run", s.handleStartRun)
	mux.HandleFunc("GET /api/run/current", s.handleCurrentRun)
	mux.HandleFunc("GET /api/run/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /api/images", s.handleListImages)
	mux.HandleFunc("GET /images/{name}", s.handleServeImage)

	var handler http.Handler = mux
	handler = CORSMiddleware(DevelopmentCORS())(handler)
	handler = LoggingMiddleware(s.log)(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	writeJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON body"})
		return
	}

	result := incoming.ValidateDetailed()
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}

	s.docMu.Lock()
	defer s.docMu.Unlock()
	if err := config.Save(s.configPath, &incoming); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	s.cfg = &incoming
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, incoming.ValidateDetailed())
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	writeJSON(w, http.StatusOK, s.tmplDoc)
}

func (s *Server) handlePutTemplate(w http.ResponseWriter, r *http.Request) {
	var incoming template.Doc
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	s.docMu.Lock()
	defer s.docMu.Unlock()
	if err := template.SaveFile(s.templatePath, incoming); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	s.tmplDoc = incoming
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	if s.current != nil && !s.current.Snapshot().Phase().IsTerminal() {
		s.runMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "a run is already in progress", "code": "run_in_progress"})
		return
	}

	s.docMu.RLock()
	cfg := s.cfg.Clone()
	tmpl := s.tmplDoc.Template
	s.docMu.RUnlock()

	o, err := orchestrator.New(cfg, tmpl, s.log)
	if err != nil {
		s.runMu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	s.current = o
	s.runMu.Unlock()

	go func() {
		o.Run(context.Background())
		s.runMu.Lock()
		s.lastTerminal = o
		s.runMu.Unlock()
	}()

	writeJSON(w, http.StatusOK, map[string]string{"run_id": o.RunID()})
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.current == nil || s.current.Snapshot().Phase().IsTerminal() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": s.current.RunID()})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	o := s.findRun(id)
	if o == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "run not found"})
		return
	}

	events.ServeSSE(w, r, o.Events(), s.log)
}

func (s *Server) findRun(id string) *orchestrator.Orchestrator {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.current != nil && s.current.RunID() == id {
		return s.current
	}
	if s.lastTerminal != nil && s.lastTerminal.RunID() == id {
		return s.lastTerminal
	}
	return nil
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	s.docMu.RLock()
	outDir := s.cfg.OutDir
	s.docMu.RUnlock()

	list, err := store.New(outDir).List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleServeImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	s.docMu.RLock()
	outDir := s.cfg.OutDir
	s.docMu.RUnlock()

	path, err := store.New(outDir).Serve(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
