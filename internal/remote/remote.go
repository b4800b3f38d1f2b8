// Package remote defines the seam between the reconciliation core and the
// transport that actually talks to a server. Nothing in this repo
// implements HTTP/PROPFIND — that is an external collaborator (spec §1);
// RemoteSource is the interface such a collaborator would satisfy.
package remote

import (
	"context"

	"github.com/foldersync/fsync/internal/model"
)

// RemoteSource lists and stats remote entities. A real implementation
// would speak PROPFIND or a REST equivalent; FakeSource (fake.go) is an
// in-memory test double.
type RemoteSource interface {
	ListChildren(ctx context.Context, remoteID string) ([]model.RemoteEntry, error)
	Stat(ctx context.Context, remoteID string) (model.RemoteEntry, error)
	// ListAll returns every remote entry in the tree, used by discovery
	// modes that need a full remote snapshot rather than incremental
	// listing. Real transports would implement this via a full PROPFIND;
	// it is part of the seam, not a shortcut specific to the fake.
	ListAll(ctx context.Context) ([]model.RemoteEntry, error)
}

// Mutator is the write side of the transport seam: the operations a
// Propagator needs to push local changes upstream. A real implementation
// would issue PUT/DELETE/MOVE requests; FakeSource implements it directly
// against its in-memory map for tests and the fakefolder harness.
type Mutator interface {
	Upload(ctx context.Context, path string, sizeBytes, mtime int64) (model.RemoteEntry, error)
	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, fromPath, toPath string) error
}
