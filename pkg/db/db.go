/*
 * Copyright 2026 Meshview Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package db persists the canonical inventory and findings to Postgres.
// The engine treats it as a narrow collaborator: save devices and links,
// append findings, restore the last snapshot on startup.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meshview/meshview/pkg/logger"
	"github.com/meshview/meshview/pkg/models"
)

// ErrNoSnapshot occurs when no persisted snapshot exists to restore.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// Store is the persistence collaborator interface the engine consumes.
type Store interface {
	SaveDevices(ctx context.Context, version uint64, devices []*models.Device) error
	SaveLinks(ctx context.Context, version uint64, links []*models.Link) error
	DeleteDevices(ctx context.Context, keys []string) error
	DeleteLinks(ctx context.Context, keys []string) error
	AppendFindings(ctx context.Context, findings []*models.Finding) error
	LoadGraphSnapshot(ctx context.Context) (*models.Snapshot, error)
	Close()
}

// DB implements Store over a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, dsn string, log logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	db := &DB{pool: pool, logger: log}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_key TEXT PRIMARY KEY,
			mac TEXT,
			ip TEXT,
			status TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			snapshot_version BIGINT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS devices_ip_idx ON devices (ip)`,
		`CREATE TABLE IF NOT EXISTS links (
			link_key TEXT PRIMARY KEY,
			endpoint_a TEXT NOT NULL,
			endpoint_b TEXT NOT NULL,
			link_type TEXT NOT NULL,
			discovered_via TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			snapshot_version BIGINT NOT NULL,
			doc JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id TEXT PRIMARY KEY,
			finding_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			subject TEXT NOT NULL,
			summary TEXT NOT NULL,
			details JSONB,
			snapshot_version BIGINT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS findings_subject_idx ON findings (subject)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	return nil
}

// SaveDevices upserts device records in one batch.
func (db *DB) SaveDevices(ctx context.Context, version uint64, devices []*models.Device) error {
	if len(devices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, d := range devices {
		doc, err := json.Marshal(d)
		if err != nil {
			db.logger.Warn().Err(err).Str("device", d.Key).Msg("failed to marshal device doc; skipping")
			continue
		}

		batch.Queue(
			`INSERT INTO devices (device_key, mac, ip, status, confidence, first_seen, last_seen, snapshot_version, doc, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (device_key) DO UPDATE SET
				mac = EXCLUDED.mac,
				ip = EXCLUDED.ip,
				status = EXCLUDED.status,
				confidence = EXCLUDED.confidence,
				last_seen = EXCLUDED.last_seen,
				snapshot_version = EXCLUDED.snapshot_version,
				doc = EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
			d.Key, d.MAC, d.IP, string(d.Status), d.Confidence, d.FirstSeen, d.LastSeen, version, doc, now,
		)
	}

	return db.sendBatch(ctx, batch)
}

// SaveLinks upserts link records in one batch.
func (db *DB) SaveLinks(ctx context.Context, version uint64, links []*models.Link) error {
	if len(links) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, l := range links {
		doc, err := json.Marshal(l)
		if err != nil {
			db.logger.Warn().Err(err).Str("link", l.Key).Msg("failed to marshal link doc; skipping")
			continue
		}

		batch.Queue(
			`INSERT INTO links (link_key, endpoint_a, endpoint_b, link_type, discovered_via, first_seen, last_seen, snapshot_version, doc, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (link_key) DO UPDATE SET
				last_seen = EXCLUDED.last_seen,
				snapshot_version = EXCLUDED.snapshot_version,
				doc = EXCLUDED.doc,
				updated_at = EXCLUDED.updated_at`,
			l.Key, l.A, l.B, string(l.Type), string(l.DiscoveredVia), l.FirstSeen, l.LastSeen, version, doc, now,
		)
	}

	return db.sendBatch(ctx, batch)
}

// DeleteDevices removes pruned devices.
func (db *DB) DeleteDevices(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := db.pool.Exec(ctx, `DELETE FROM devices WHERE device_key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("failed to delete devices: %w", err)
	}

	return nil
}

// DeleteLinks removes pruned links.
func (db *DB) DeleteLinks(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := db.pool.Exec(ctx, `DELETE FROM links WHERE link_key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("failed to delete links: %w", err)
	}

	return nil
}

// AppendFindings appends findings to the audit log. Findings are never
// updated in place.
func (db *DB) AppendFindings(ctx context.Context, findings []*models.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, f := range findings {
		details, err := json.Marshal(f.Details)
		if err != nil {
			details = []byte("{}")
		}

		batch.Queue(
			`INSERT INTO findings (id, finding_type, severity, subject, summary, details, snapshot_version, detected_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			f.ID, string(f.Type), string(f.Severity), f.Subject, f.Summary, details, f.SnapshotVersion, f.DetectedAt,
		)
	}

	return db.sendBatch(ctx, batch)
}

// LoadGraphSnapshot rebuilds the last persisted graph state. Dangling
// links whose endpoints were not persisted are dropped rather than
// restored, keeping the snapshot invariant intact.
func (db *DB) LoadGraphSnapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := models.EmptySnapshot()

	rows, err := db.pool.Query(ctx, `SELECT doc, snapshot_version FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			doc     []byte
			version uint64
		)

		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}

		var device models.Device

		if err := json.Unmarshal(doc, &device); err != nil {
			db.logger.Warn().Err(err).Msg("skipping undecodable device doc")
			continue
		}

		snap.Devices[device.Key] = &device

		if version > snap.Version {
			snap.Version = version
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading device rows: %w", err)
	}

	linkRows, err := db.pool.Query(ctx, `SELECT doc FROM links`)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var doc []byte

		if err := linkRows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan link row: %w", err)
		}

		var link models.Link

		if err := json.Unmarshal(doc, &link); err != nil {
			db.logger.Warn().Err(err).Msg("skipping undecodable link doc")
			continue
		}

		if snap.Devices[link.A] == nil || snap.Devices[link.B] == nil {
			continue
		}

		snap.Links[link.Key] = &link
	}

	if err := linkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading link rows: %w", err)
	}

	if len(snap.Devices) == 0 {
		return nil, ErrNoSnapshot
	}

	snap.TakenAt = time.Now()

	return snap, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

func (db *DB) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch statement %d failed: %w", i, err)
		}
	}

	return nil
}
