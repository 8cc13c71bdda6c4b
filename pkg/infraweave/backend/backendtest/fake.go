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

// Package backendtest provides an in-memory Backend for tests. It evaluates
// the shared query grammar over plain maps, so packages above the storage
// layer can exercise real read and write paths without cloud services.
package backendtest

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// Fake is an in-memory Backend. Zero value is not usable; call New.
type Fake struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any // table -> "PK|SK" -> item
	blobs  map[string][]byte                    // "bucket/key" -> contents

	// LaunchedPayloads records every LaunchJob call in order.
	LaunchedPayloads []model.InfraPayload
	// LaunchErr, when set, is returned by LaunchJob while FailLaunches is
	// nonzero; positive values count down, -1 fails every call.
	LaunchErr    error
	FailLaunches int
	// JobStates by job id, returned by JobStatus.
	JobStates map[string]model.JobState
	// Notifications records every published notification.
	Notifications []model.Notification

	// FixedJobID is returned by CurrentJobID.
	FixedJobID string

	Projects []backend.Project
	Regions  []string

	projectID string
	region    string
	nextJob   int
}

func New(projectID, region string) *Fake {
	return &Fake{
		tables:    map[string]map[string]map[string]any{},
		blobs:     map[string][]byte{},
		JobStates: map[string]model.JobState{},
		projectID: projectID,
		region:    region,
	}
}

func rowKey(item map[string]any) string {
	return fmt.Sprintf("%v|%v", item["PK"], item["SK"])
}

// Put stores an item directly, bypassing transactions. Test setup helper.
func (f *Fake) Put(table string, item map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tables[table] == nil {
		f.tables[table] = map[string]map[string]any{}
	}
	f.tables[table][rowKey(item)] = item
}

// Get returns a stored item by key, or nil. Test assertion helper.
func (f *Fake) Get(table, pk, sk string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[table][pk+"|"+sk]
}

// Items returns every row of a table. Test assertion helper.
func (f *Fake) Items(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]map[string]any, 0, len(f.tables[table]))
	for _, item := range f.tables[table] {
		items = append(items, item)
	}
	return items
}

func (f *Fake) ReadItems(_ context.Context, table string, q backend.Query) (*backend.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conditions, err := parseExpression(q.KeyCondition)
	if err != nil {
		return nil, err
	}
	filters, err := parseExpression(q.Filter)
	if err != nil {
		return nil, err
	}

	var matched []map[string]any
	for _, item := range f.tables[table] {
		if matchesAll(item, conditions, q) && matchesAll(item, filters, q) {
			matched = append(matched, item)
		}
	}

	rangeAttr := "SK"
	if len(conditions) > 1 {
		rangeAttr = resolveName(conditions[1].attr, q)
	}
	sort.Slice(matched, func(i, j int) bool {
		return fmt.Sprintf("%v", matched[i][rangeAttr]) < fmt.Sprintf("%v", matched[j][rangeAttr])
	})
	if q.ScanForward != nil && !*q.ScanForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if q.Limit > 0 && int(q.Limit) < len(matched) {
		matched = matched[:q.Limit]
	}
	return &backend.ReadResult{Items: matched}, nil
}

func (f *Fake) TransactWrite(_ context.Context, ops []backend.TransactOp) error {
	if err := backend.ValidateOps(ops); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	// Check every condition before mutating anything.
	for _, op := range ops {
		if op.Condition == "" {
			continue
		}
		var key string
		if op.Put != nil {
			key = rowKey(op.Put)
		} else {
			key = op.Delete["PK"] + "|" + op.Delete["SK"]
		}
		existing := f.tables[op.Table][key]
		if !conditionHolds(existing, op.Condition, op.Values) {
			return backend.NewError(backend.ErrKindConflict,
				fmt.Sprintf("condition %q failed for %s", op.Condition, key))
		}
	}
	for _, op := range ops {
		if f.tables[op.Table] == nil {
			f.tables[op.Table] = map[string]map[string]any{}
		}
		if op.Put != nil {
			f.tables[op.Table][rowKey(op.Put)] = op.Put
		} else {
			delete(f.tables[op.Table], op.Delete["PK"]+"|"+op.Delete["SK"])
		}
	}
	return nil
}

func conditionHolds(existing map[string]any, condition string, values map[string]any) bool {
	if strings.HasPrefix(condition, "attribute_not_exists") {
		return existing == nil
	}
	conditions, err := parseExpression(condition)
	if err != nil {
		return false
	}
	if existing == nil {
		return false
	}
	return matchesAll(existing, conditions, backend.Query{Values: values})
}

func (f *Fake) UploadBlob(_ context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[bucket+"/"+key] = data
	return nil
}

func (f *Fake) DownloadBlob(_ context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[bucket+"/"+key]
	if !ok {
		return nil, backend.NewError(backend.ErrKindNotFound, fmt.Sprintf("blob %s/%s not found", bucket, key))
	}
	return data, nil
}

func (f *Fake) PresignDownload(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://blobs.example.com/" + bucket + "/" + key, nil
}

func (f *Fake) LaunchJob(_ context.Context, payload model.InfraPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LaunchErr != nil && f.FailLaunches != 0 {
		if f.FailLaunches > 0 {
			f.FailLaunches--
		}
		return "", f.LaunchErr
	}
	f.LaunchedPayloads = append(f.LaunchedPayloads, payload)
	f.nextJob++
	return fmt.Sprintf("job-%d", f.nextJob), nil
}

func (f *Fake) JobStatus(_ context.Context, jobID string) (model.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.JobStates[jobID]; ok {
		return state, nil
	}
	return model.JobState{State: "RUNNING"}, nil
}

func (f *Fake) CurrentJobID(context.Context) (string, error) {
	if f.FixedJobID == "" {
		return "", backend.NewError(backend.ErrKindInternal, "no job metadata available")
	}
	return f.FixedJobID, nil
}

func (f *Fake) ReadLogs(context.Context, string, string, string) ([]model.LogEntry, error) {
	return nil, nil
}

func (f *Fake) PublishNotification(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notifications = append(f.Notifications, n)
	return nil
}

func (f *Fake) AssumeRole(_ context.Context, roleARN string, duration time.Duration) (*backend.Credentials, error) {
	return &backend.Credentials{
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		SessionToken:    "token-" + roleARN,
		Expiration:      time.Now().Add(duration),
	}, nil
}

func (f *Fake) ProjectMap(context.Context) ([]backend.Project, error) { return f.Projects, nil }
func (f *Fake) AllRegions(context.Context) ([]string, error)         { return f.Regions, nil }
func (f *Fake) ProjectID() string                                    { return f.projectID }
func (f *Fake) Region() string                                       { return f.region }
func (f *Fake) UserID(context.Context) (string, error)               { return "arn:test:user", nil }

// condition is one parsed term of the query grammar.
type condition struct {
	attr string
	op   string // "=", "<>", "begins_with", "between"
	val  string // placeholder
	val2 string // second placeholder for between
}

var (
	beginsWithRe = regexp.MustCompile(`^begins_with\(\s*([#\w]+)\s*,\s*(:\w+)\s*\)$`)
	comparisonRe = regexp.MustCompile(`^([#\w]+)\s*(=|<>)\s*(:\w+)$`)
	betweenRe    = regexp.MustCompile(`^([#\w]+)\s+BETWEEN\s+(:\w+)\s+AND\s+(:\w+)$`)
)

func parseExpression(expr string) ([]condition, error) {
	if expr == "" {
		return nil, nil
	}
	parts := splitConditions(expr)
	conditions := make([]condition, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case beginsWithRe.MatchString(part):
			m := beginsWithRe.FindStringSubmatch(part)
			conditions = append(conditions, condition{attr: m[1], op: "begins_with", val: m[2]})
		case betweenRe.MatchString(part):
			m := betweenRe.FindStringSubmatch(part)
			conditions = append(conditions, condition{attr: m[1], op: "between", val: m[2], val2: m[3]})
		case comparisonRe.MatchString(part):
			m := comparisonRe.FindStringSubmatch(part)
			conditions = append(conditions, condition{attr: m[1], op: m[2], val: m[3]})
		default:
			return nil, fmt.Errorf("unsupported expression term %q", part)
		}
	}
	return conditions, nil
}

// splitConditions splits on " AND " while keeping BETWEEN ranges together.
func splitConditions(expr string) []string {
	raw := strings.Split(expr, " AND ")
	var parts []string
	for i := 0; i < len(raw); i++ {
		if strings.Contains(raw[i], " BETWEEN ") && i+1 < len(raw) {
			parts = append(parts, raw[i]+" AND "+raw[i+1])
			i++
			continue
		}
		parts = append(parts, raw[i])
	}
	return parts
}

func resolveName(attr string, q backend.Query) string {
	if strings.HasPrefix(attr, "#") {
		if name, ok := q.Names[attr]; ok {
			return name
		}
	}
	return attr
}

func matchesAll(item map[string]any, conditions []condition, q backend.Query) bool {
	for _, c := range conditions {
		attr := resolveName(c.attr, q)
		actual, ok := item[attr]
		if !ok {
			return false
		}
		switch c.op {
		case "=":
			if !looseEqual(actual, q.Values[c.val]) {
				return false
			}
		case "<>":
			if looseEqual(actual, q.Values[c.val]) {
				return false
			}
		case "begins_with":
			prefix, _ := q.Values[c.val].(string)
			s, ok := actual.(string)
			if !ok || !strings.HasPrefix(s, prefix) {
				return false
			}
		case "between":
			v, ok := asFloat(actual)
			lo, okLo := asFloat(q.Values[c.val])
			hi, okHi := asFloat(q.Values[c.val2])
			if !ok || !okLo || !okHi || v < lo || v > hi {
				return false
			}
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
