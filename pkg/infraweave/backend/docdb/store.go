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

// Package docdb implements the document-store half of the backend on a
// relational database. Each logical table is a relation (pk, sk, data jsonb);
// queries are translated from the shared key-condition grammar into
// parameterized SQL. Capabilities outside the store (blobs, jobs, logs)
// are forwarded to a delegate backend.
package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/infraweave-io/infraweave/pkg/infraweave/backend"
	"github.com/infraweave-io/infraweave/pkg/infraweave/model"
)

// Store is the relational implementation of the document-store capabilities.
type Store struct {
	db       *sqlx.DB
	prefix   string
	delegate backend.Backend
}

var _ backend.Backend = (*Store)(nil)

// Connect opens the database and wraps delegate for non-store capabilities.
func Connect(dsn, tablePrefix string, delegate backend.Backend) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to document database: %w", err)
	}
	return New(db, tablePrefix, delegate), nil
}

func New(db *sqlx.DB, tablePrefix string, delegate backend.Backend) *Store {
	return &Store{db: db, prefix: tablePrefix, delegate: delegate}
}

func (s *Store) relation(table string) string {
	return s.prefix + table
}

func (s *Store) ReadItems(ctx context.Context, table string, q backend.Query) (*backend.ReadResult, error) {
	stmt, args, err := buildSelect(s.relation(table), q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, backend.WrapError(backend.ErrKindInternal, "querying "+table, err)
	}
	defer rows.Close()

	var items []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, backend.WrapError(backend.ErrKindInternal, "scanning row from "+table, err)
		}
		var item map[string]any
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decoding item from %s: %w", table, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, backend.WrapError(backend.ErrKindInternal, "iterating rows from "+table, err)
	}

	result := &backend.ReadResult{Items: items}
	if q.Limit > 0 && int32(len(items)) == q.Limit {
		offset, _ := decodeOffset(q.Cursor)
		result.Cursor = encodeOffset(offset + int(q.Limit))
	}
	return result, nil
}

func (s *Store) TransactWrite(ctx context.Context, ops []backend.TransactOp) error {
	if err := backend.ValidateOps(ops); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return backend.WrapError(backend.ErrKindInternal, "beginning transaction", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return backend.WrapError(backend.ErrKindInternal, "committing transaction", err)
	}
	return nil
}

func (s *Store) applyOp(ctx context.Context, tx *sqlx.Tx, op backend.TransactOp) error {
	rel := s.relation(op.Table)
	switch {
	case op.Put != nil:
		pk, _ := op.Put["PK"].(string)
		sk, _ := op.Put["SK"].(string)
		raw, err := json.Marshal(op.Put)
		if err != nil {
			return fmt.Errorf("encoding item for %s: %w", op.Table, err)
		}
		if op.Condition != "" {
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE pk = $1 AND sk = $2)`, rel), pk, sk); err != nil {
				return backend.WrapError(backend.ErrKindInternal, "checking existing row", err)
			}
			update, err := putGuard(op.Condition, exists, op.Table)
			if err != nil {
				return err
			}
			if update {
				cond, condArgs, err := translateCondition(op.Condition, op.Values, 3)
				if err != nil {
					return err
				}
				// The guarded update only succeeds against a row satisfying
				// the condition; zero affected rows is a conflict.
				args := append([]any{pk, sk}, condArgs...)
				args = append(args, raw)
				res, err := tx.ExecContext(ctx,
					fmt.Sprintf(`UPDATE %s SET data = $%d WHERE pk = $1 AND sk = $2 AND %s`, rel, len(args), cond),
					args...)
				if err != nil {
					return backend.WrapError(backend.ErrKindInternal, "conditional update on "+op.Table, err)
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return backend.NewError(backend.ErrKindConflict, "condition failed writing to "+op.Table)
				}
				return nil
			}
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (pk, sk, data) VALUES ($1, $2, $3)
				ON CONFLICT (pk, sk) DO UPDATE SET data = EXCLUDED.data`, rel),
			pk, sk, raw)
		if err != nil {
			return backend.WrapError(backend.ErrKindInternal, "writing to "+op.Table, err)
		}
		return nil

	case op.Delete != nil:
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE pk = $1 AND sk = $2`, rel),
			op.Delete["PK"], op.Delete["SK"])
		if err != nil {
			return backend.WrapError(backend.ErrKindInternal, "deleting from "+op.Table, err)
		}
		return nil
	}
	return nil
}

const conditionNotExists = "attribute_not_exists(PK)"

// putGuard classifies a conditional put against the current row state, with
// the keyed store's semantics: attribute_not_exists holds only when the row
// is absent, and any other condition evaluated against a missing row fails.
// update reports whether the caller still has to run the guarded update.
func putGuard(condition string, exists bool, table string) (update bool, err error) {
	if condition == conditionNotExists {
		if exists {
			return false, backend.NewError(backend.ErrKindConflict, "row already exists in "+table)
		}
		return false, nil
	}
	if !exists {
		return false, backend.NewError(backend.ErrKindConflict, "conditional write against a missing row in "+table)
	}
	return true, nil
}

// GetRow is a point lookup helper used by tests and tools.
func (s *Store) GetRow(ctx context.Context, table, pk, sk string) (map[string]any, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		fmt.Sprintf(`SELECT data FROM %s WHERE pk = $1 AND sk = $2`, s.relation(table)), pk, sk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.NewError(backend.ErrKindNotFound, fmt.Sprintf("no row (%s, %s) in %s", pk, sk, table))
	}
	if err != nil {
		return nil, backend.WrapError(backend.ErrKindInternal, "reading row", err)
	}
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// Delegated capabilities.

func (s *Store) UploadBlob(ctx context.Context, bucket, key string, body io.Reader) error {
	return s.delegate.UploadBlob(ctx, bucket, key, body)
}

func (s *Store) DownloadBlob(ctx context.Context, bucket, key string) ([]byte, error) {
	return s.delegate.DownloadBlob(ctx, bucket, key)
}

func (s *Store) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return s.delegate.PresignDownload(ctx, bucket, key, ttl)
}

func (s *Store) LaunchJob(ctx context.Context, payload model.InfraPayload) (string, error) {
	return s.delegate.LaunchJob(ctx, payload)
}

func (s *Store) JobStatus(ctx context.Context, jobID string) (model.JobState, error) {
	return s.delegate.JobStatus(ctx, jobID)
}

func (s *Store) CurrentJobID(ctx context.Context) (string, error) {
	return s.delegate.CurrentJobID(ctx)
}

func (s *Store) ReadLogs(ctx context.Context, project, region, jobID string) ([]model.LogEntry, error) {
	return s.delegate.ReadLogs(ctx, project, region, jobID)
}

func (s *Store) PublishNotification(ctx context.Context, n model.Notification) error {
	return s.delegate.PublishNotification(ctx, n)
}

func (s *Store) AssumeRole(ctx context.Context, roleARN string, duration time.Duration) (*backend.Credentials, error) {
	return s.delegate.AssumeRole(ctx, roleARN, duration)
}

func (s *Store) ProjectMap(ctx context.Context) ([]backend.Project, error) {
	return s.delegate.ProjectMap(ctx)
}

func (s *Store) AllRegions(ctx context.Context) ([]string, error) {
	return s.delegate.AllRegions(ctx)
}

func (s *Store) ProjectID() string {
	return s.delegate.ProjectID()
}

func (s *Store) Region() string {
	return s.delegate.Region()
}

func (s *Store) UserID(ctx context.Context) (string, error) {
	return s.delegate.UserID(ctx)
}
