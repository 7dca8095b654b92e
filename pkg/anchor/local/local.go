package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/anchor"
)

// Entry is one published root in the log
type Entry = anchor.Entry

// LocalAnchor is an append-only root log kept in a JSON-lines file.
// With an empty path the log lives only in memory.
type LocalAnchor struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries []Entry
	logger  *zap.Logger
	closed  bool
}

var (
	_ anchor.IRootAnchor  = (*LocalAnchor)(nil)
	_ anchor.IRootHistory = (*LocalAnchor)(nil)
)

// NewLocalAnchor opens (or creates) the log at path and replays existing entries
func NewLocalAnchor(path string, logger *zap.Logger) (*LocalAnchor, error) {
	la := &LocalAnchor{
		path:   path,
		logger: logger,
	}

	if path == "" {
		logger.Sugar().Warnw("Local anchor has no log path, published roots will not survive a restart")
		return la, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create anchor log directory: %w", err)
	}

	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	la.entries = entries

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open anchor log %s: %w", path, err)
	}
	la.file = file

	logger.Sugar().Infow("Local anchor initialized", "path", path, "entries", len(entries))
	return la, nil
}

func readEntries(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open anchor log %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt anchor log %s at line %d: %w", path, line, err)
		}
		if e.Seq != uint64(len(entries))+1 {
			return nil, fmt.Errorf("corrupt anchor log %s at line %d: expected seq %d, got %d", path, line, len(entries)+1, e.Seq)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read anchor log %s: %w", path, err)
	}
	return entries, nil
}

// PublishRoot appends root to the log and returns "local:<seq>"
func (la *LocalAnchor) PublishRoot(ctx context.Context, root [32]byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	la.mu.Lock()
	defer la.mu.Unlock()

	if la.closed {
		return "", fmt.Errorf("anchor is closed")
	}

	entry := Entry{
		Seq:         uint64(len(la.entries)) + 1,
		Root:        common.Hash(root),
		PublishedAt: time.Now().Unix(),
	}

	if la.file != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return "", fmt.Errorf("failed to marshal anchor entry: %w", err)
		}
		if _, err := la.file.Write(append(data, '\n')); err != nil {
			return "", fmt.Errorf("failed to append to anchor log: %w", err)
		}
		if err := la.file.Sync(); err != nil {
			return "", fmt.Errorf("failed to sync anchor log: %w", err)
		}
	}

	la.entries = append(la.entries, entry)
	ref := fmt.Sprintf("local:%d", entry.Seq)

	la.logger.Sugar().Debugw("Published root", "root", entry.Root.Hex(), "ref", ref)
	return ref, nil
}

// CurrentRoot returns the last published root
func (la *LocalAnchor) CurrentRoot(ctx context.Context) ([32]byte, error) {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.closed {
		return [32]byte{}, fmt.Errorf("anchor is closed")
	}
	if len(la.entries) == 0 {
		return [32]byte{}, nil
	}
	return la.entries[len(la.entries)-1].Root, nil
}

// History returns every published entry, oldest first
func (la *LocalAnchor) History() []Entry {
	la.mu.Lock()
	defer la.mu.Unlock()

	out := make([]Entry, len(la.entries))
	copy(out, la.entries)
	return out
}

// Close releases the log file. Idempotent.
func (la *LocalAnchor) Close() error {
	la.mu.Lock()
	defer la.mu.Unlock()

	if la.closed {
		return nil
	}
	la.closed = true

	if la.file != nil {
		if err := la.file.Close(); err != nil {
			return fmt.Errorf("failed to close anchor log: %w", err)
		}
	}
	return nil
}
