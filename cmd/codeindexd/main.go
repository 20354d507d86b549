// codeindexd is the long-running indexing daemon: it loads a project's
// resolved configuration, builds a Reconciler+Watcher pair, serves the
// service control surface over HTTP, and runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/internal/service"
)

func main() {
	var (
		projectDir = flag.String("project", ".", "project directory to index and watch")
		collection = flag.String("collection", "", "collection name (defaults to the resolved config's collection)")
		addr       = flag.String("addr", ":9180", "HTTP control surface address")
	)
	flag.Parse()

	absDir, err := filepath.Abs(*projectDir)
	if err != nil {
		log.Fatalf("resolve project directory: %v", err)
	}

	loader := config.NewLoader(absDir)
	cfg, err := loader.Resolve(nil)
	if err != nil {
		log.Fatalf("resolve configuration: %v", err)
	}

	name := *collection
	if name == "" {
		name = cfg.Collection
	}

	level := logging.INFO
	if cfg.Debug {
		level = logging.DEBUG
	}
	logging.SetDefaultLogger(logging.NewLogger(level))
	logger := logging.WithComponent("codeindexd")

	rec, w, err := service.BuildProject(absDir, name, cfg)
	if err != nil {
		log.Fatalf("build project: %v", err)
	}

	svc := service.New()
	if err := svc.AddProject(name, name, absDir, rec, w); err != nil {
		log.Fatalf("register project: %v", err)
	}
	if err := svc.StartWatcher(name); err != nil {
		log.Fatalf("start watcher: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // disabled for the websocket progress stream
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("codeindexd listening", "addr", *addr, "project_dir", absDir, "collection", name)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err.Error())
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err.Error())
	}

	svc.Shutdown()
}
