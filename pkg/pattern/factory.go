package pattern

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/trinity-os/trinity/pkg/config"
)

// OpenFromConfig builds a VectorBackend per cfg.VectorBackend and opens the
// Pattern Store over it, grounded on the teacher's pkg/vector factory
// dispatch. Qdrant and Pinecone connection settings come only from
// remoteOpts; nothing here reads them from the environment. With a
// zero-value remoteOpts Qdrant falls back to localhost:6334, while Pinecone
// has no default API key and fails to open.
func OpenFromConfig(cfg *config.Config, remoteOpts RemoteOptions) (*Store, error) {
	dir := filepath.Join(cfg.StateDir, "patterns")

	backend, err := newBackend(cfg, remoteOpts)
	if err != nil {
		return nil, err
	}

	return Open(dir, backend, NewHashEmbedder(256), cfg.PatternStalenessDays)
}

// RemoteOptions carries connection settings for remote vector backends.
type RemoteOptions struct {
	Qdrant   QdrantConfig
	Pinecone PineconeConfig
}

func newBackend(cfg *config.Config, remote RemoteOptions) (VectorBackend, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal, "":
		return NewChromemBackend(filepath.Join(cfg.StateDir, "patterns", "vectors"))
	case config.StorageRemote:
		switch cfg.VectorBackend {
		case config.VectorBackendQdrant:
			return NewQdrantBackend(context.Background(), remote.Qdrant)
		case config.VectorBackendPinecone:
			return NewPineconeBackend(remote.Pinecone)
		default:
			return nil, fmt.Errorf("pattern: unsupported remote vector backend %q", cfg.VectorBackend)
		}
	default:
		return nil, fmt.Errorf("pattern: unsupported storage backend %q", cfg.StorageBackend)
	}
}
