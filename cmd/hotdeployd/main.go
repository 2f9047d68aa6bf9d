// Command hotdeployd hosts applications deployed under an installation root
// and exposes a small HTTP control surface for listing, redeploying, and
// undeploying them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/GoCodeAlone/hotdeploy"
)

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func main() {
	root := flag.String("root", ".", "installation root directory")
	addr := flag.String("addr", ":8085", "HTTP listen address")
	flag.Parse()

	logger := &slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	service := hotdeploy.NewDeploymentService(*root,
		hotdeploy.WithDeploymentLogger(logger),
		hotdeploy.WithDeploymentEvents(hotdeploy.NewObserverRegistry(logger)),
	)
	if err := service.Start(); err != nil {
		logger.Error("Failed to start deployment service", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           newRouter(service),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Listening", "addr", *addr, "root", *root)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	service.Stop()
}

func newRouter(service *hotdeploy.DeploymentService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.Get("/apps", func(w http.ResponseWriter, _ *http.Request) {
		type appInfo struct {
			Name  string `json:"name"`
			State string `json:"state"`
		}
		var infos []appInfo
		for _, name := range service.Applications() {
			if app, ok := service.Application(name); ok {
				infos = append(infos, appInfo{Name: name, State: app.State().String()})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	})

	r.Post("/apps/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if err := service.Deploy(name); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})

	r.Post("/apps/{name}/redeploy", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if err := service.Redeploy(name); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, hotdeploy.ErrApplicationNotDeployed) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Delete("/apps/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if err := service.Undeploy(name); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
