package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oarkflow/synth"
	"github.com/oarkflow/synth/kernel"
)

type Server struct {
	engine *synth.Engine
	mu     sync.RWMutex
}

func NewServer() *Server {
	return &Server{}
}

func (s *Server) SetEngine(engine *synth.Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	page := strings.TrimPrefix(r.URL.Path, "/")
	if page == "" {
		page = "index"
	}

	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if engine == nil {
		http.Error(w, "Template engine not initialized", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"title":       "Synth Auto-Reload Demo",
		"site":        map[string]any{"name": "Synth Demo"},
		"currentTime": time.Now().Format("2006-01-02 15:04:05"),
		"year":        time.Now().Year(),
		"user": map[string]any{
			"name":     "Admin User",
			"loggedIn": true,
		},
		"posts": []map[string]any{
			{"title": "Getting Started with Synth", "author": "Synth Team", "date": "2025-01-15"},
			{"title": "Template Auto-Reload", "author": "Synth Team", "date": "2025-01-20"},
			{"title": "Three Dialects, One Kernel", "author": "Synth Team", "date": "2025-01-25"},
		},
	}

	// Render into a buffer so a failed page never sends half a response.
	out, err := engine.RenderString(page, data)
	var kerr *kernel.Error
	if errors.As(err, &kerr) && strings.Contains(kerr.Message, "not found") {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Template error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	var templates []string
	if engine != nil {
		templates = engine.Templates()
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"running","engine_loaded":%t,"templates":%d}`, engine != nil, len(templates))
}

func RunReloadServer() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	server := NewServer()
	engine, err := synth.NewEngine("templates", ".html",
		synth.WithAutoReload(true),
		synth.WithCompileOptions(synth.WithLogger(logger), synth.WithMaxDepth(16)))
	if err != nil {
		log.Fatal(err)
	}
	server.SetEngine(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("/", server.handlePage)
	mux.HandleFunc("/status", server.handleStatus)
	srv := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	fmt.Println("Synth engine server running at http://localhost:8080")
	fmt.Println("Templates directory: ./templates/ (edit a file and reload the page)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		log.Print(err)
	}
}

func main() {
	RunReloadServer()
}
