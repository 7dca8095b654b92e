package anchor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// IRootAnchor publishes committed roots somewhere a third party can read them
// back, such as a contract or an append-only log.
// Implementations must be safe for concurrent use.
type IRootAnchor interface {
	// PublishRoot records root as the current commitment and returns an
	// implementation-specific reference to the write (transaction hash, log sequence).
	PublishRoot(ctx context.Context, root [32]byte) (string, error)

	// CurrentRoot returns the most recently published root, or the zero hash
	// if nothing has been published.
	CurrentRoot(ctx context.Context) ([32]byte, error)
}

// Entry is one root published by an anchor
type Entry struct {
	Seq         uint64      `json:"seq"`
	Root        common.Hash `json:"root"`
	PublishedAt int64       `json:"publishedAt"`
}

// IRootHistory is implemented by anchors that can list every root they have
// published, oldest first.
type IRootHistory interface {
	History() []Entry
}
