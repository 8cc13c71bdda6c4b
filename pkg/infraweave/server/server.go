/*
Copyright 2024 The InfraWeave Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server exposes the control plane's REST surface. Reads go through
// the query layer, mutations through the dispatch layer; authorization is
// enforced per project path parameter.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/catalog"
	"github.com/infraweave-io/infraweave/pkg/infraweave/deployment"
)

// Config carries the server's deploy-time settings.
type Config struct {
	Addr string
	// JWTSecret verifies the HMAC signature of bearer tokens.
	JWTSecret []byte
}

// Server serves the /api/v1 surface over one backend.
type Server struct {
	backend     backend.Backend
	catalog     *catalog.Catalog
	deployments *deployment.Service
	cfg         Config
}

func New(b backend.Backend, cfg Config) *Server {
	return &Server{
		backend:     b,
		catalog:     catalog.New(b),
		deployments: deployment.New(b),
		cfg:         cfg,
	}
}

// Router builds the full route surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/projects", s.listProjects)
		r.Get("/deployments/{project}/{region}", s.listDeployments)
		r.Get("/deployment/{project}/{region}/*", s.getDeployment)
		r.Get("/events/{project}/{region}/*", s.listEvents)
		r.Get("/change_record/{project}/{region}/{job}/*", s.getChangeRecord)
		r.Get("/logs/{project}/{region}/{job}", s.getLogs)

		r.Get("/modules/{track}", s.listModules)
		r.Get("/module/{track}/{module}/{version}", s.getModule)
		r.Get("/stacks/{track}", s.listStacks)
		r.Get("/stack/{track}/{stack}/{version}", s.getStack)
		r.Get("/policies/{environment}", s.listPolicies)
		r.Get("/policy/{environment}/{policy}/{version}", s.getPolicy)

		r.Post("/module/publish", s.publishModule)
		r.Post("/claim/run", s.runClaim)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("shutting down server: %v", err)
		}
	}()
	logrus.Infof("serving api on %s", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
