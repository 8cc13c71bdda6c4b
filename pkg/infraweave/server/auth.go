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

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/infraweave-io/infraweave/pkg/infraweave/query"
)

// allowedProjectsClaim is the token claim listing the caller's projects.
const allowedProjectsClaim = "custom:allowed_projects"

type caller struct {
	userID          string
	allowedProjects []string
}

type callerKey struct{}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// authenticate validates the bearer token and stores the caller's identity
// and project scope on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return s.cfg.JWTSecret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		sub, _ := claims.GetSubject()
		c := caller{
			userID:          sub,
			allowedProjects: parseAllowedProjects(claims[allowedProjectsClaim]),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, c)))
	})
}

// parseAllowedProjects accepts either a list claim or a comma-separated
// string, the two shapes identity providers emit for custom attributes.
func parseAllowedProjects(claim any) []string {
	switch v := claim.(type) {
	case []any:
		projects := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok && s != "" {
				projects = append(projects, s)
			}
		}
		return projects
	case string:
		var projects []string
		for _, entry := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(entry); trimmed != "" {
				projects = append(projects, trimmed)
			}
		}
		return projects
	default:
		return nil
	}
}

// authorizeProject hides inaccessible projects as 404 so callers cannot
// enumerate project identifiers.
func (s *Server) authorizeProject(w http.ResponseWriter, r *http.Request, project string) bool {
	if !query.Accessible(callerFrom(r.Context()).allowedProjects, project) {
		writeError(w, http.StatusNotFound, "not found")
		return false
	}
	return true
}
