// Package history provides bounded, append-only byte logs keyed by remote
// endpoint. A newly joining browser is replayed the tail of the log so it
// sees recent output of the remote host.
package history

import (
	"context"

	"github.com/telnet-web-access/backend/internal/model"
)

// DefaultReplayBytes is the amount of history replayed to a joining client.
const DefaultReplayBytes = 8192

// Store is an append-only byte log for one endpoint.
//
// Tail returns a suffix of at most maxBytes of the most recently appended
// data, clamped to what is available. A store that has never been written
// returns an empty slice and no error.
type Store interface {
	Append(ctx context.Context, data []byte) error
	Tail(ctx context.Context, maxBytes int) ([]byte, error)
}

// Resolver supplies the Store for an endpoint. Resolving the same endpoint
// twice returns stores backed by the same log.
//
// Resolve acquires the store for writing and must be paired with Release
// once the writer is done. Lookup opens an existing log for reading only;
// it never creates one and needs no Release.
type Resolver interface {
	Resolve(ep model.Endpoint) (Store, error)
	Release(ep model.Endpoint)
	Lookup(ep model.Endpoint) (Store, bool)
}

func checkTail(maxBytes int) error {
	if maxBytes < 0 {
		return model.InvalidArgument("maxBytes must be greater than or equal to 0, got %d", maxBytes)
	}
	return nil
}

func checkEndpoint(ep model.Endpoint) error {
	if ep.IsZero() {
		return model.InvalidArgument("endpoint is required")
	}
	return nil
}
