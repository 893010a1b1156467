package rulebook

import (
	"context"

	"github.com/MimeLyc/rulebook-translator/internal/persistence"
)

type cachedCheckpoint struct {
	hash       string
	translated string
}

// checkpoints adapts the store to translator.CheckpointStore for one
// rulebook. Existing rows are loaded once up front.
type checkpoints struct {
	store      Store
	rulebookID int64
	cached     map[int]cachedCheckpoint
}

func loadCheckpoints(ctx context.Context, store Store, rulebookID int64) (*checkpoints, error) {
	rows, err := store.LoadChunkCheckpoints(ctx, rulebookID)
	if err != nil {
		return nil, err
	}
	cp := &checkpoints{
		store:      store,
		rulebookID: rulebookID,
		cached:     make(map[int]cachedCheckpoint, len(rows)),
	}
	for _, r := range rows {
		cp.cached[r.ChunkIndex] = cachedCheckpoint{hash: r.SourceHash, translated: r.Translated}
	}
	return cp, nil
}

func (c *checkpoints) Load(index int, sourceHash string) (string, bool) {
	got, ok := c.cached[index]
	if !ok || got.hash != sourceHash {
		return "", false
	}
	return got.translated, true
}

func (c *checkpoints) Save(ctx context.Context, index int, sourceHash, translated string) error {
	if err := c.store.SaveChunkCheckpoint(ctx, persistence.ChunkCheckpoint{
		RulebookID: c.rulebookID,
		ChunkIndex: index,
		SourceHash: sourceHash,
		Translated: translated,
	}); err != nil {
		return err
	}
	c.cached[index] = cachedCheckpoint{hash: sourceHash, translated: translated}
	return nil
}
