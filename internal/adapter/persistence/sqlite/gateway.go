// Package sqlite implements the record gateway on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mnemo/internal/domain"
)

// Gateway implements domain.RecordGateway backed by SQLite. Records are
// returned by ReadAllRecords in rowid order, which is write order; the store
// relies on that to rebuild its index mapping deterministically.
type Gateway struct {
	db     *sql.DB
	logger *slog.Logger
	dbPath string
}

// New opens (or creates) a SQLite database at dbPath, runs migrations, and
// returns a ready Gateway.
func New(dbPath string, logger *slog.Logger) (*Gateway, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrStorageUnavailable, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrStorageUnavailable, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorageUnavailable, err)
	}

	return &Gateway{db: db, logger: logger, dbPath: dbPath}, nil
}

// Close closes the underlying database connection.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// WriteRecord implements domain.RecordGateway. Ids are write-once: a
// duplicate insert fails with ErrWriteConflict.
func (g *Gateway) WriteRecord(ctx context.Context, in domain.Interaction) error {
	concepts, err := json.Marshal(conceptsOrEmpty(in.Concepts))
	if err != nil {
		return fmt.Errorf("%w: marshal concepts: %v", domain.ErrStorageUnavailable, err)
	}

	const insert = `
		INSERT INTO interactions (id, prompt, output, embedding, concepts, timestamp, access_count, decay_factor, tier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = g.db.ExecContext(ctx, insert,
		in.ID,
		in.Prompt,
		in.Output,
		float32ToBytes(in.Embedding),
		string(concepts),
		in.Timestamp.UTC().Format(time.RFC3339Nano),
		in.AccessCount,
		in.DecayFactor,
		string(in.Tier),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: id %s", domain.ErrWriteConflict, in.ID)
		}
		return fmt.Errorf("%w: insert: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// UpdateRecord implements domain.RecordGateway. Only the lifecycle fields
// mutate after creation; prompt, output, and embedding are immutable.
func (g *Gateway) UpdateRecord(ctx context.Context, in domain.Interaction) error {
	const update = `
		UPDATE interactions
		SET timestamp = ?, access_count = ?, decay_factor = ?, tier = ?
		WHERE id = ?
	`
	result, err := g.db.ExecContext(ctx, update,
		in.Timestamp.UTC().Format(time.RFC3339Nano),
		in.AccessCount,
		in.DecayFactor,
		string(in.Tier),
		in.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: update: %v", domain.ErrStorageUnavailable, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, in.ID)
	}
	return nil
}

// ReadAllRecords implements domain.RecordGateway, returning records in
// original write order.
func (g *Gateway) ReadAllRecords(ctx context.Context) ([]domain.Interaction, error) {
	rows, err := g.db.QueryContext(ctx,
		"SELECT id, prompt, output, embedding, concepts, timestamp, access_count, decay_factor, tier FROM interactions ORDER BY rowid",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var records []domain.Interaction
	for rows.Next() {
		var (
			in           domain.Interaction
			embBlob      []byte
			conceptsJSON string
			timestampStr string
			tier         string
		)
		if err := rows.Scan(&in.ID, &in.Prompt, &in.Output, &embBlob, &conceptsJSON, &timestampStr, &in.AccessCount, &in.DecayFactor, &tier); err != nil {
			g.logger.Warn("skipping unreadable row", "error", err)
			continue
		}
		in.Embedding = bytesToFloat32(embBlob)
		in.Tier = domain.Tier(tier)
		if err := json.Unmarshal([]byte(conceptsJSON), &in.Concepts); err != nil {
			g.logger.Warn("unparseable concepts, dropping", "id", in.ID, "error", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, timestampStr); err == nil {
			in.Timestamp = ts
		} else {
			g.logger.Warn("unparseable timestamp", "id", in.ID, "error", err)
		}
		records = append(records, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan: %v", domain.ErrStorageUnavailable, err)
	}
	return records, nil
}

func conceptsOrEmpty(concepts []string) []string {
	if concepts == nil {
		return []string{}
	}
	return concepts
}

// float32ToBytes converts a float32 slice to little-endian bytes.
// Nil input yields nil, stored as SQL NULL.
func float32ToBytes(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
