package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
)

// SaveChunks upserts corpus chunks in one transaction.
func (s *SQLiteStorage) SaveChunks(ctx context.Context, chunks []model.Chunk) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	for i := range chunks {
		if err := validateChunk(&chunks[i]); err != nil {
			return fmt.Errorf("chunk at index %d: %w", i, err)
		}
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, sequence, text, category, citation, dimension, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				category = excluded.category,
				citation = excluded.citation,
				dimension = excluded.dimension,
				embedding = excluded.embedding
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Sequence, c.Text,
				c.Category, c.Citation, len(c.Embedding), encodeEmbedding(c.Embedding)); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("chunk %s sequence %d: %w", c.DocumentID, c.Sequence, common.ErrDuplicateEntry)
				}
				return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ListChunks returns every chunk ordered by document and sequence.
func (s *SQLiteStorage) ListChunks(ctx context.Context) ([]model.Chunk, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, sequence, text, category, citation, dimension, embedding
		FROM chunks
		ORDER BY document_id, sequence
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []model.Chunk
	for rows.Next() {
		var (
			c         model.Chunk
			category  sql.NullString
			citation  sql.NullString
			dimension int
			blob      []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Sequence, &c.Text,
			&category, &citation, &dimension, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.Category = category.String
		c.Citation = citation.String
		c.Embedding, err = decodeEmbedding(blob, dimension)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of stored chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// MaxChunkSequence returns the highest stored sequence of a document, or -1 when it has none.
func (s *SQLiteStorage) MaxChunkSequence(ctx context.Context, documentID string) (int, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM chunks WHERE document_id = ?
	`, documentID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query chunk sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return int(seq.Int64), nil
}

// encodeEmbedding packs a vector as little-endian float32.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if len(buf) != 4*dimension {
		return nil, common.NewIntegrityError("embedding blob has %d bytes, want %d", len(buf), 4*dimension)
	}
	v := make([]float32, dimension)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}
