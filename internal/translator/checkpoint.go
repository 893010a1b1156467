package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// CheckpointStore remembers translated chunks so a rerun after a crash only
// resubmits the chunks that never finished.
type CheckpointStore interface {
	Load(index int, sourceHash string) (string, bool)
	Save(ctx context.Context, index int, sourceHash, translated string) error
}

type checkpointStoreKey struct{}

func WithCheckpoints(ctx context.Context, store CheckpointStore) context.Context {
	if store == nil {
		return ctx
	}
	return context.WithValue(ctx, checkpointStoreKey{}, store)
}

func checkpointsFromContext(ctx context.Context) CheckpointStore {
	if ctx == nil {
		return nil
	}
	store, _ := ctx.Value(checkpointStoreKey{}).(CheckpointStore)
	return store
}

// ChunkHash identifies chunk text so a checkpoint is only reused for the
// same source.
func ChunkHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
