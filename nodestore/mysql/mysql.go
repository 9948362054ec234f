// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mysql implements nodestore.NodeStorage over MySQL, modeled on
// trillian's own MySQL-backed tree storage.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/google/merkle-reconnect/nodestore"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS merkle_nodes (
	tree_id     BIGINT NOT NULL,
	route_key   VARBINARY(255) NOT NULL,
	class_id    BIGINT UNSIGNED NOT NULL,
	version     INT UNSIGNED NOT NULL,
	child_count INT NOT NULL,
	hash        BINARY(48) NOT NULL,
	payload     MEDIUMBLOB,
	PRIMARY KEY (tree_id, route_key)
)`

// Storage is a nodestore.NodeStorage backed by a MySQL merkle_nodes table,
// scoped to one treeID so multiple reconnect cores can share a database.
type Storage struct {
	db     *sql.DB
	treeID int64
}

// Open connects to dataSourceName (a go-sql-driver/mysql DSN) and ensures
// the backing table exists.
func Open(ctx context.Context, dataSourceName string, treeID int64) (*Storage, error) {
	db, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("nodestore/mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("nodestore/mysql: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("nodestore/mysql: create table: %w", err)
	}
	return &Storage{db: db, treeID: treeID}, nil
}

// GetNodes implements nodestore.NodeStorage.
func (s *Storage) GetNodes(ctx context.Context, routeKeys [][]byte) ([]nodestore.Record, error) {
	if len(routeKeys) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(routeKeys))
	args := make([]interface{}, 0, len(routeKeys)+1)
	args = append(args, s.treeID)
	for i, k := range routeKeys {
		placeholders[i] = "?"
		args = append(args, k)
	}
	query := fmt.Sprintf(
		"SELECT route_key, class_id, version, child_count, hash, payload FROM merkle_nodes WHERE tree_id = ? AND route_key IN (%s)",
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("nodestore/mysql: query: %w", err)
	}
	defer rows.Close()

	var out []nodestore.Record
	for rows.Next() {
		var rec nodestore.Record
		var hash []byte
		if err := rows.Scan(&rec.RouteKey, &rec.ClassID, &rec.Version, &rec.ChildCount, &hash, &rec.Payload); err != nil {
			return nil, fmt.Errorf("nodestore/mysql: scan: %w", err)
		}
		copy(rec.Hash[:], hash)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetNodes implements nodestore.NodeStorage, upserting every record in a
// single transaction so a reconnect session's writes are all-or-nothing.
func (s *Storage) SetNodes(ctx context.Context, records []nodestore.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("nodestore/mysql: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO merkle_nodes (tree_id, route_key, class_id, version, child_count, hash, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE class_id=VALUES(class_id), version=VALUES(version),
			child_count=VALUES(child_count), hash=VALUES(hash), payload=VALUES(payload)`)
	if err != nil {
		return fmt.Errorf("nodestore/mysql: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, s.treeID, rec.RouteKey, rec.ClassID, rec.Version, rec.ChildCount, rec.Hash[:], rec.Payload); err != nil {
			return fmt.Errorf("nodestore/mysql: exec: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("nodestore/mysql: commit: %w", err)
	}
	glog.V(2).Infof("nodestore/mysql: wrote %d nodes for tree %d", len(records), s.treeID)
	return nil
}

// Close implements nodestore.NodeStorage.
func (s *Storage) Close() error { return s.db.Close() }
