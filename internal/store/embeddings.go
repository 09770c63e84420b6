package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// ContentType selects which embedded entity table an operation targets.
type ContentType string

const (
	ContentSummary   ContentType = "summary"
	ContentChallenge ContentType = "challenge"
	ContentApproach  ContentType = "approach"
	ContentObjective ContentType = "objective"
)

func tableFor(ct ContentType) (string, error) {
	switch ct {
	case ContentSummary:
		return "summaries", nil
	case ContentChallenge:
		return "challenges", nil
	case ContentApproach:
		return "approaches", nil
	case ContentObjective:
		return "objectives", nil
	default:
		return "", fmt.Errorf("unknown content type %q", ct)
	}
}

// EncodeVector packs a float32 vector as a little-endian BLOB.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a little-endian BLOB into a float32 vector.
// Nil and misaligned blobs decode to nil.
func DecodeVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// UpdateEmbedding stores an entity's embedding vector.
func (s *Store) UpdateEmbedding(ctx context.Context, ct ContentType, entityID string, vec []float32) error {
	table, err := tableFor(ct)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`, table),
		EncodeVector(vec), entityID)
	if err != nil {
		return fmt.Errorf("update %s embedding: %w", ct, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%s %s: %w", ct, entityID, errNotFound)
	}
	return nil
}

// GetEmbedding fetches an entity's embedding. A stored NULL returns nil.
func (s *Store) GetEmbedding(ctx context.Context, ct ContentType, entityID string) ([]float32, error) {
	table, err := tableFor(ct)
	if err != nil {
		return nil, err
	}
	var blob []byte
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT embedding FROM %s WHERE id = ?;`, table),
		entityID).Scan(&blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s %s: %w", ct, entityID, errNotFound)
		}
		return nil, fmt.Errorf("get %s embedding: %w", ct, err)
	}
	return DecodeVector(blob), nil
}

// EmbeddingRow is one embedded entity, joined back to its idea where one
// exists. Objectives have no idea; IdeaID is empty and Title holds the
// objective title.
type EmbeddingRow struct {
	EntityID string
	IdeaID   string
	Title    string
	Vector   []float32
}

// EmbeddingRows returns every entity of the given type that has a stored
// embedding, with idea context for ranking and display.
func (s *Store) EmbeddingRows(ctx context.Context, ct ContentType) ([]EmbeddingRow, error) {
	table, err := tableFor(ct)
	if err != nil {
		return nil, err
	}

	var query string
	if ct == ContentObjective {
		query = `
			SELECT id, '', title, embedding
			FROM objectives
			WHERE embedding IS NOT NULL AND status = 'Active';`
	} else {
		query = fmt.Sprintf(`
			SELECT e.id, e.idea_id, i.title, e.embedding
			FROM %s e
			JOIN ideas i ON i.id = e.idea_id
			WHERE e.embedding IS NOT NULL;`, table)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding rows %s: %w", ct, err)
	}
	defer rows.Close()

	var out []EmbeddingRow
	for rows.Next() {
		var (
			r    EmbeddingRow
			blob []byte
		)
		if err := rows.Scan(&r.EntityID, &r.IdeaID, &r.Title, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		r.Vector = DecodeVector(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}
