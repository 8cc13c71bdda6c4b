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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
)

// listResponse is the envelope of every list endpoint.
type listResponse struct {
	Items     any    `json:"items"`
	Count     int    `json:"count"`
	NextToken string `json:"next_token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// pageParams reads the shared list parameters limit and next_token.
func pageParams(r *http.Request) (int32, string) {
	var limit int64
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.ParseInt(raw, 10, 32)
	}
	return int32(limit), r.URL.Query().Get("next_token")
}
