package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/artouc/ego-graphica/internal/memory"
)

// SQLiteIndex is a brute-force similarity index kept in the vectors table.
// Fine for a single tenant's portfolio; large corpora should use chromem.
type SQLiteIndex struct {
	store *SQLiteStore
}

var _ memory.Index = (*SQLiteIndex)(nil)

// Index returns the similarity index sharing this store's database.
func (s *SQLiteStore) Index() *SQLiteIndex {
	return &SQLiteIndex{store: s}
}

func (x *SQLiteIndex) Upsert(ctx context.Context, tenant string, items ...memory.Item) error {
	tx, err := x.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO vectors (tenant, id, source, content, vector, metadata) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, id) DO UPDATE SET source = excluded.source, content = excluded.content,
		vector = excluded.vector, metadata = excluded.metadata`
	for _, item := range items {
		vecBuf := new(bytes.Buffer)
		if err := binary.Write(vecBuf, binary.LittleEndian, item.Vector); err != nil {
			return fmt.Errorf("failed to encode vector: %w", err)
		}
		metaJSON, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, tenant, item.ID, item.Metadata[memory.MetaSource],
			item.Content, vecBuf.Bytes(), string(metaJSON)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (x *SQLiteIndex) Query(ctx context.Context, tenant string, queryVector []float32, k int, filter map[string]string) ([]memory.Item, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := x.store.db.QueryContext(ctx, `SELECT id, content, vector, metadata FROM vectors WHERE tenant = ?`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []memory.Item
	for rows.Next() {
		var item memory.Item
		var vecBlob []byte
		var metaJSON string
		if err := rows.Scan(&item.ID, &item.Content, &vecBlob, &metaJSON); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
			continue
		}
		if !matches(item.Metadata, filter) {
			continue
		}

		vector := make([]float32, len(vecBlob)/4)
		if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
			continue
		}
		item.Similarity = cosineSimilarity(queryVector, vector)
		scored = append(scored, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (x *SQLiteIndex) DeleteSource(ctx context.Context, tenant, source string) error {
	_, err := x.store.db.ExecContext(ctx, `DELETE FROM vectors WHERE tenant = ? AND source = ?`, tenant, source)
	return err
}

func matches(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
