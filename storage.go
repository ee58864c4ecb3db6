package cellrope

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

// SnapshotStore persists matrix snapshots by matrix id.
type SnapshotStore interface {
	// PutSnapshot stores snap under snap.ID, replacing any previous snapshot.
	PutSnapshot(ctx context.Context, snap Snapshot) error

	// GetSnapshot returns the snapshot for id, or ErrSnapshotNotFound.
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)

	// DeleteSnapshot removes the snapshot and journal for id.
	DeleteSnapshot(ctx context.Context, id string) error

	// ListSnapshots returns the stored matrix ids in sorted order.
	ListSnapshots(ctx context.Context) ([]string, error)

	// Close releases the store.
	Close() error
}

// OpLog journals structural changes per matrix id. Stores that implement it
// let Library.Load replay ops made after the last saved snapshot.
//
// The journal is ordered by arrival. Each entry gets a position that is
// greater than every earlier position for the same id. Op.Seq is counted per
// client and does not order the journal.
type OpLog interface {
	// AppendOp records op for id and returns its journal position.
	AppendOp(ctx context.Context, id string, op Op) (int64, error)

	// OpsSince returns the entries for id with a position greater than pos,
	// in journal order.
	OpsSince(ctx context.Context, id string, pos int64) ([]JournalEntry, error)
}

// JournalEntry is an op together with the position it was journaled at.
type JournalEntry struct {
	Pos int64 `json:"pos"`
	Op  Op    `json:"op"`
}

// OpenMode specifies how a file should be opened.
type OpenMode int

const (
	// OpenModeRead opens the file for reading only.
	OpenModeRead OpenMode = iota

	// OpenModeWrite opens the file for writing only, truncating it.
	OpenModeWrite

	// OpenModeAppend opens the file for writing at its end, creating it.
	OpenModeAppend
)

// FileHandle represents an open file.
type FileHandle interface{}

// FileSystemInterface abstracts the file operations FileStore needs.
// The library provides a default implementation for local files.
type FileSystemInterface interface {
	Open(name string, mode OpenMode) (FileHandle, error)
	ReadAll(handle FileHandle) ([]byte, error)
	WriteBytes(handle FileHandle, data []byte) error
	Close(handle FileHandle) error
	Rename(oldName, newName string) error

	// Directory operations
	MkdirAll(path string) error
	Remove(name string) error
	ReadDir(path string) ([]string, error)
}

// localFileHandle wraps an os.File for the local file system.
type localFileHandle struct {
	file *os.File
}

// localFileSystem implements FileSystemInterface for local files.
type localFileSystem struct{}

func (lfs *localFileSystem) Open(name string, mode OpenMode) (FileHandle, error) {
	var flag int
	switch mode {
	case OpenModeRead:
		flag = os.O_RDONLY
	case OpenModeWrite:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case OpenModeAppend:
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &localFileHandle{file: f}, nil
}

func (lfs *localFileSystem) ReadAll(handle FileHandle) ([]byte, error) {
	h, ok := handle.(*localFileHandle)
	if !ok {
		return nil, ErrFileNotOpen
	}
	return io.ReadAll(h.file)
}

func (lfs *localFileSystem) WriteBytes(handle FileHandle, data []byte) error {
	h, ok := handle.(*localFileHandle)
	if !ok {
		return ErrFileNotOpen
	}
	_, err := h.file.Write(data)
	return err
}

func (lfs *localFileSystem) Close(handle FileHandle) error {
	h, ok := handle.(*localFileHandle)
	if !ok {
		return ErrFileNotOpen
	}
	return h.file.Close()
}

func (lfs *localFileSystem) Rename(oldName, newName string) error {
	return os.Rename(oldName, newName)
}

func (lfs *localFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func (lfs *localFileSystem) Remove(name string) error {
	return os.Remove(name)
}

func (lfs *localFileSystem) ReadDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

const (
	snapshotSuffix = ".snapshot.json"
	journalSuffix  = ".ops.jsonl"
)

// FileStore keeps one JSON snapshot file and one JSON-lines journal per
// matrix under a base directory. A journal entry's position is its line
// number.
type FileStore struct {
	fs       FileSystemInterface
	basePath string
	mu       sync.Mutex

	// lines caches the journal length per id once it has been read.
	lines map[string]int64
}

var (
	_ SnapshotStore = (*FileStore)(nil)
	_ OpLog         = (*FileStore)(nil)
)

// NewFileStore creates a FileStore rooted at basePath on the local file system.
func NewFileStore(basePath string) (*FileStore, error) {
	return NewFileStoreFS(&localFileSystem{}, basePath)
}

// NewFileStoreFS creates a FileStore over a custom file system.
func NewFileStoreFS(fsys FileSystemInterface, basePath string) (*FileStore, error) {
	if err := fsys.MkdirAll(basePath); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{fs: fsys, basePath: basePath, lines: make(map[string]int64)}, nil
}

func (s *FileStore) path(id, suffix string) string {
	return filepath.Join(s.basePath, url.PathEscape(id)+suffix)
}

func (s *FileStore) readFile(name string) ([]byte, error) {
	h, err := s.fs.Open(name, OpenModeRead)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadAll(h)
	if cerr := s.fs.Close(h); err == nil {
		err = cerr
	}
	return data, err
}

func (s *FileStore) writeFile(name string, data []byte, mode OpenMode) error {
	h, err := s.fs.Open(name, mode)
	if err != nil {
		return err
	}
	if err := s.fs.WriteBytes(h, data); err != nil {
		s.fs.Close(h)
		return err
	}
	return s.fs.Close(h)
}

// readJournal parses the journal for id. A missing journal is empty.
func (s *FileStore) readJournal(id string) ([]JournalEntry, error) {
	data, err := s.readFile(s.path(id, journalSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		s.lines[id] = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal %s: %w", id, err)
	}

	var entries []JournalEntry
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		op, err := DecodeOp(line)
		if err != nil {
			return nil, fmt.Errorf("journal %s line %d: %w", id, i+1, err)
		}
		entries = append(entries, JournalEntry{Pos: int64(len(entries) + 1), Op: op})
	}
	s.lines[id] = int64(len(entries))
	return entries, nil
}

// PutSnapshot writes the snapshot through a temporary file and renames it
// into place.
func (s *FileStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(snap.ID, snapshotSuffix)
	tmp := path + ".tmp"
	if err := s.writeFile(tmp, data, OpenModeWrite); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.ID, err)
	}
	return s.fs.Rename(tmp, path)
}

// GetSnapshot reads the snapshot for id.
func (s *FileStore) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFile(s.path(id, snapshotSuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return DecodeSnapshot(data)
}

// DeleteSnapshot removes the snapshot and journal files for id.
func (s *FileStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, suffix := range []string{snapshotSuffix, journalSuffix} {
		if err := s.fs.Remove(s.path(id, suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	delete(s.lines, id)
	return nil
}

// ListSnapshots returns the ids that have a snapshot file.
func (s *FileStore) ListSnapshots(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.fs.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		escaped, ok := strings.CutSuffix(name, snapshotSuffix)
		if !ok {
			continue
		}
		id, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendOp appends op as one JSON line to the journal for id.
func (s *FileStore) AppendOp(ctx context.Context, id string, op Op) (int64, error) {
	data, err := EncodeOp(op)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.lines[id]
	if !ok {
		if _, err := s.readJournal(id); err != nil {
			return 0, err
		}
		n = s.lines[id]
	}
	if err := s.writeFile(s.path(id, journalSuffix), append(data, '\n'), OpenModeAppend); err != nil {
		return 0, fmt.Errorf("append journal %s: %w", id, err)
	}
	s.lines[id] = n + 1
	return n + 1, nil
}

// OpsSince reads the journal for id.
func (s *FileStore) OpsSince(ctx context.Context, id string, pos int64) ([]JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readJournal(id)
	if err != nil {
		return nil, err
	}
	return entriesAfter(entries, pos), nil
}

// Close is a no-op for file stores.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore keeps snapshots and journals in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	journals  map[string][]JournalEntry
	closed    bool
}

var (
	_ SnapshotStore = (*MemoryStore)(nil)
	_ OpLog         = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		journals:  make(map[string][]JournalEntry),
	}
}

// PutSnapshot stores an encoded copy of snap.
func (s *MemoryStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.snapshots[snap.ID] = data
	return nil
}

// GetSnapshot decodes the stored snapshot for id.
func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Snapshot{}, ErrStoreClosed
	}
	data, ok := s.snapshots[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return DecodeSnapshot(data)
}

// DeleteSnapshot removes the snapshot and journal for id.
func (s *MemoryStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	delete(s.journals, id)
	return nil
}

// ListSnapshots returns the stored ids.
func (s *MemoryStore) ListSnapshots(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AppendOp records op for id.
func (s *MemoryStore) AppendOp(ctx context.Context, id string, op Op) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	pos := int64(len(s.journals[id]) + 1)
	s.journals[id] = append(s.journals[id], JournalEntry{Pos: pos, Op: op})
	return pos, nil
}

// OpsSince returns the journaled entries for id after pos.
func (s *MemoryStore) OpsSince(ctx context.Context, id string, pos int64) ([]JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(entriesAfter(s.journals[id], pos)), nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// entriesAfter returns the suffix of entries, which are in position order,
// whose positions are greater than pos.
func entriesAfter(entries []JournalEntry, pos int64) []JournalEntry {
	i, _ := slices.BinarySearchFunc(entries, pos+1, func(e JournalEntry, target int64) int {
		return cmp.Compare(e.Pos, target)
	})
	if i == len(entries) {
		return nil
	}
	return entries[i:]
}
