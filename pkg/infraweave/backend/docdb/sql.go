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

package docdb

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
)

var (
	beginsWithRe = regexp.MustCompile(`^begins_with\(\s*([#\w]+)\s*,\s*(:\w+)\s*\)$`)
	comparisonRe = regexp.MustCompile(`^([#\w]+)\s*(=|<>|<=|>=|<|>)\s*(:\w+)$`)
	betweenRe    = regexp.MustCompile(`^([#\w]+)\s+BETWEEN\s+(:\w+)\s+AND\s+(:\w+)$`)
)

// buildSelect translates a Query into one parameterized SELECT over the
// (pk, sk, data) relation.
func buildSelect(relation string, q backend.Query) (string, []any, error) {
	translator := &translator{names: q.Names, values: q.Values, next: 1}

	where, err := translator.expression(q.KeyCondition)
	if err != nil {
		return "", nil, err
	}
	if q.Filter != "" {
		filter, err := translator.expression(q.Filter)
		if err != nil {
			return "", nil, err
		}
		where += " AND " + filter
	}

	order := "ASC"
	if q.ScanForward != nil && !*q.ScanForward {
		order = "DESC"
	}

	stmt := fmt.Sprintf(`SELECT data FROM %s WHERE %s ORDER BY sk %s`, relation, where, order)
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Cursor != "" {
		offset, err := decodeOffset(q.Cursor)
		if err != nil {
			return "", nil, err
		}
		stmt += fmt.Sprintf(" OFFSET %d", offset)
	}
	return stmt, translator.args, nil
}

// translateCondition translates a write-guard expression, numbering
// placeholders from startIndex.
func translateCondition(condition string, values map[string]any, startIndex int) (string, []any, error) {
	translator := &translator{values: values, next: startIndex}
	sql, err := translator.expression(condition)
	if err != nil {
		return "", nil, err
	}
	return sql, translator.args, nil
}

type translator struct {
	names  map[string]string
	values map[string]any
	args   []any
	next   int
}

func (t *translator) expression(expr string) (string, error) {
	parts := strings.Split(expr, " AND ")
	// Rejoin BETWEEN terms, whose syntax contains AND.
	terms := make([]string, 0, len(parts))
	for i := 0; i < len(parts); i++ {
		term := strings.TrimSpace(parts[i])
		if strings.Contains(term, " BETWEEN ") && i+1 < len(parts) {
			term = term + " AND " + strings.TrimSpace(parts[i+1])
			i++
		}
		terms = append(terms, term)
	}
	clauses := make([]string, 0, len(terms))
	for _, term := range terms {
		clause, err := t.term(term)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

func (t *translator) term(term string) (string, error) {
	if m := betweenRe.FindStringSubmatch(term); m != nil {
		column, err := t.column(m[1], m[2])
		if err != nil {
			return "", err
		}
		lo, err := t.placeholder(m[2])
		if err != nil {
			return "", err
		}
		hi, err := t.placeholder(m[3])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, lo, hi), nil
	}
	if m := beginsWithRe.FindStringSubmatch(term); m != nil {
		column, err := t.column(m[1], m[2])
		if err != nil {
			return "", err
		}
		placeholder, err := t.placeholderPrefix(m[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s LIKE %s", column, placeholder), nil
	}
	if m := comparisonRe.FindStringSubmatch(term); m != nil {
		column, err := t.column(m[1], m[3])
		if err != nil {
			return "", err
		}
		placeholder, err := t.placeholder(m[3])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", column, m[2], placeholder), nil
	}
	return "", backend.NewError(backend.ErrKindValidation, fmt.Sprintf("unsupported query term %q", term))
}

func (t *translator) column(name, placeholder string) (string, error) {
	if strings.HasPrefix(name, "#") {
		resolved, ok := t.names[name]
		if !ok {
			return "", backend.NewError(backend.ErrKindValidation, "unresolved attribute alias "+name)
		}
		name = resolved
	}
	switch name {
	case "PK":
		return "pk", nil
	case "SK":
		return "sk", nil
	}
	value, ok := t.values[placeholder]
	if !ok {
		return "", backend.NewError(backend.ErrKindValidation, "missing query value "+placeholder)
	}
	if isNumeric(value) {
		return fmt.Sprintf("(data->>'%s')::numeric", name), nil
	}
	return fmt.Sprintf("data->>'%s'", name), nil
}

func (t *translator) placeholder(name string) (string, error) {
	value, ok := t.values[name]
	if !ok {
		return "", backend.NewError(backend.ErrKindValidation, "missing query value "+name)
	}
	t.args = append(t.args, value)
	p := fmt.Sprintf("$%d", t.next)
	t.next++
	return p, nil
}

// placeholderPrefix binds a begins_with value as a LIKE prefix pattern.
func (t *translator) placeholderPrefix(name string) (string, error) {
	value, ok := t.values[name]
	if !ok {
		return "", backend.NewError(backend.ErrKindValidation, "missing query value "+name)
	}
	s, ok := value.(string)
	if !ok {
		return "", backend.NewError(backend.ErrKindValidation, "begins_with requires a string value for "+name)
	}
	t.args = append(t.args, escapeLike(s)+"%")
	p := fmt.Sprintf("$%d", t.next)
	t.next++
	return p, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func encodeOffset(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, backend.WrapError(backend.ErrKindValidation, "decoding cursor", err)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, backend.WrapError(backend.ErrKindValidation, "decoding cursor", err)
	}
	return offset, nil
}
