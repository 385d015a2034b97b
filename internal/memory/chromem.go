package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

var errNoEmbedder = errors.New("chromem index expects precomputed embeddings")

// ChromemIndex keeps one chromem collection per tenant.
type ChromemIndex struct {
	db *chromem.DB
	mu sync.Mutex
}

// NewChromemIndex opens an index. An empty persistDir keeps everything in memory.
func NewChromemIndex(persistDir string) (*ChromemIndex, error) {
	if persistDir == "" {
		return &ChromemIndex{db: chromem.NewDB()}, nil
	}
	db, err := chromem.NewPersistentDB(persistDir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &ChromemIndex{db: db}, nil
}

func (c *ChromemIndex) collection(tenant string) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errNoEmbedder
	}
	col, err := c.db.GetOrCreateCollection("tenant-"+tenant, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("collection for %s: %w", tenant, err)
	}
	return col, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, tenant string, items ...Item) error {
	if len(items) == 0 {
		return nil
	}
	col, err := c.collection(tenant)
	if err != nil {
		return err
	}
	for _, item := range items {
		err := col.AddDocument(ctx, chromem.Document{
			ID:        item.ID,
			Content:   item.Content,
			Embedding: item.Vector,
			Metadata:  item.Metadata,
		})
		if err != nil {
			return fmt.Errorf("add document %s: %w", item.ID, err)
		}
	}
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, tenant string, vector []float32, k int, filter map[string]string) ([]Item, error) {
	col, err := c.collection(tenant)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := col.QueryEmbedding(ctx, vector, k, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	items := make([]Item, 0, len(results))
	for _, r := range results {
		items = append(items, Item{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return items, nil
}

func (c *ChromemIndex) DeleteSource(ctx context.Context, tenant, source string) error {
	col, err := c.collection(tenant)
	if err != nil {
		return err
	}
	return col.Delete(ctx, map[string]string{MetaSource: source}, nil)
}
