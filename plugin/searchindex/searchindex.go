// Package searchindex lets users search their past conversations
// semantically ("that chat where we discussed invoice templates"). Finished
// messages are embedded into a chromem-go store with one collection per
// user, persisted under the app data directory.
package searchindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Result is a single semantic-search hit over past messages.
type Result struct {
	MessageID string
	SessionID string
	Content   string
	Score     float32
}

// Index wraps chromem-go with per-user collections and disk persistence.
type Index struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// New creates (or opens) the persistent index at dataDir/searchindex/.
// embedFunc is the embedding function, e.g. chromem.NewEmbeddingFuncOpenAICompat
// pointed at the backend's embeddings endpoint.
func New(dataDir string, embedFunc chromem.EmbeddingFunc) (*Index, error) {
	dir := filepath.Join(dataDir, "searchindex")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create searchindex dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open searchindex: %w", err)
	}
	return &Index{db: db, embedFn: embedFunc}, nil
}

// NewInMemory creates a non-persistent index, for tests.
func NewInMemory(embedFunc chromem.EmbeddingFunc) *Index {
	return &Index{db: chromem.NewDB(), embedFn: embedFunc}
}

func collectionName(userID string) string {
	return fmt.Sprintf("user_%s_chats", userID)
}

func (idx *Index) getOrCreateCollection(userID string) *chromem.Collection {
	name := collectionName(userID)
	col := idx.db.GetCollection(name, idx.embedFn)
	if col == nil {
		var err error
		col, err = idx.db.CreateCollection(name, nil, idx.embedFn)
		if err != nil {
			slog.Error("failed to create search collection", "user", userID, "err", err)
			return nil
		}
	}
	return col
}

// IndexMessage embeds a finished message for a user. Re-indexing the same
// message id overwrites the previous entry.
func (idx *Index) IndexMessage(ctx context.Context, userID, sessionID, messageID, content string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	col := idx.getOrCreateCollection(userID)
	if col == nil {
		return fmt.Errorf("searchindex: nil collection for user %s", userID)
	}

	doc := chromem.Document{
		ID:      messageID,
		Content: content,
		Metadata: map[string]string{
			"sessionId": sessionID,
		},
	}
	return col.AddDocument(ctx, doc)
}

// Search returns the top-k past messages most similar to the query.
func (idx *Index) Search(ctx context.Context, userID, query string, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	col := idx.getOrCreateCollection(userID)
	if col == nil {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var results []chromem.Result
	var err error

	// chromem-go sometimes rejects k despite the Count check above. Step
	// down until it accepts.
	for attemptK := k; attemptK > 0; attemptK-- {
		results, err = col.Query(ctx, query, attemptK, nil, nil)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			MessageID: r.ID,
			SessionID: r.Metadata["sessionId"],
			Content:   r.Content,
			Score:     r.Similarity,
		})
	}
	return out, nil
}
