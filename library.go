package cellrope

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/phroun/cellrope")

// SubmitterFactory builds the submitter a matrix is attached with.
type SubmitterFactory func(m *Matrix) (Submitter, error)

// LibraryOptions configures the cellrope library.
type LibraryOptions struct {
	// Logger receives library and matrix logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Store persists snapshots. Load and Save fail with ErrNoStore without one.
	// A store that also implements OpLog has its journal replayed on Load.
	Store SnapshotStore

	// ClientID is stamped on every local op. Defaults to a random UUID.
	ClientID string

	// Submitters builds the submitter used by Attach.
	Submitters SubmitterFactory

	// MaintenanceInterval enables a background worker compacting all active
	// matrices at this interval (0 = disabled).
	MaintenanceInterval time.Duration
}

// Factory creates and loads shared objects of one type.
type Factory interface {
	// Type returns the type identifier.
	Type() string

	// Create returns a new empty, unattached object.
	Create(lib *Library, id string) *Matrix

	// Load rebuilds an object from a snapshot and replays pending ops.
	Load(ctx context.Context, lib *Library, snap Snapshot) (*Matrix, error)
}

// matrixFactory is the Factory for MatrixType.
type matrixFactory struct{}

func (matrixFactory) Type() string {
	return MatrixType
}

func (matrixFactory) Create(lib *Library, id string) *Matrix {
	return newMatrix(id, NewChain(lib.clientID, lib.logger), lib.logger)
}

func (matrixFactory) Load(ctx context.Context, lib *Library, snap Snapshot) (*Matrix, error) {
	if snap.Type != MatrixType {
		return nil, fmt.Errorf("%w: %q", ErrTypeMismatch, snap.Type)
	}
	chain := NewChain(lib.clientID, lib.logger)
	if err := chain.Restore(snap.Segments, snap.Seq); err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.ID, err)
	}
	for _, op := range snap.Pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := chain.Apply(op); err != nil {
			return nil, fmt.Errorf("replay %s: %w", op, err)
		}
	}
	chain.ObserveJournalPos(snap.JournalPos)
	return newMatrix(snap.ID, chain, lib.logger), nil
}

// Library is the host handle. It owns the factory registry, the snapshot
// store and the set of active matrices.
type Library struct {
	logger     *slog.Logger
	store      SnapshotStore
	clientID   string
	submitters SubmitterFactory

	factories map[string]Factory
	active    map[string]*Matrix
	mu        sync.RWMutex

	// Background maintenance
	maintenanceInterval time.Duration
	maintenanceStop     chan struct{}
	maintenanceWg       sync.WaitGroup
}

// Init initializes the library and registers the matrix factory.
func Init(options LibraryOptions) (*Library, error) {
	lib := &Library{
		logger:              options.Logger,
		store:               options.Store,
		clientID:            options.ClientID,
		submitters:          options.Submitters,
		factories:           make(map[string]Factory),
		active:              make(map[string]*Matrix),
		maintenanceInterval: options.MaintenanceInterval,
	}
	if lib.logger == nil {
		lib.logger = slog.Default()
	}
	if lib.clientID == "" {
		lib.clientID = uuid.NewString()
	}
	lib.RegisterFactory(matrixFactory{})

	if lib.maintenanceInterval > 0 {
		lib.startMaintenanceWorker()
	}
	return lib, nil
}

// ClientID returns the author id stamped on local ops.
func (lib *Library) ClientID() string {
	return lib.clientID
}

// Store returns the configured snapshot store, or nil.
func (lib *Library) Store() SnapshotStore {
	return lib.store
}

// RegisterFactory adds or replaces the factory for f.Type().
func (lib *Library) RegisterFactory(f Factory) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.factories[f.Type()] = f
}

// FactoryFor returns the factory registered for typ.
func (lib *Library) FactoryFor(typ string) (Factory, error) {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	f, ok := lib.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return f, nil
}

// Create returns a new unattached matrix. An empty id is replaced by a UUID.
func (lib *Library) Create(id string) (*Matrix, error) {
	if id == "" {
		id = uuid.NewString()
	}
	f, err := lib.FactoryFor(MatrixType)
	if err != nil {
		return nil, err
	}
	m := f.Create(lib, id)
	if err := lib.register(m); err != nil {
		return nil, err
	}
	lib.logger.Debug("matrix created", "matrix", id)
	return m, nil
}

// Load reconstructs a matrix from its stored snapshot, replaying the
// snapshot's pending ops and then the journal entries after the snapshot's
// journal position, in journal order. The matrix is returned unattached once
// every op has been applied.
func (lib *Library) Load(ctx context.Context, id string) (m *Matrix, err error) {
	ctx, span := tracer.Start(ctx, "cellrope.Library.Load",
		trace.WithAttributes(attribute.String("matrix.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if lib.store == nil {
		return nil, ErrNoStore
	}
	if _, ok := lib.Get(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMatrix, id)
	}

	snap, err := lib.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if log, ok := lib.store.(OpLog); ok {
		entries, err := log.OpsSince(ctx, id, snap.JournalPos)
		if err != nil {
			return nil, fmt.Errorf("read journal %s: %w", id, err)
		}
		snap.Pending, snap.JournalPos = replayOps(snap, entries)
	}

	f, err := lib.FactoryFor(snap.Type)
	if err != nil {
		return nil, err
	}
	m, err = f.Load(ctx, lib, snap)
	if err != nil {
		return nil, err
	}
	if err := lib.register(m); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("matrix.segments", len(snap.Segments)),
		attribute.Int("matrix.replayed_ops", len(snap.Pending)),
	)
	lib.logger.Info("matrix loaded", "matrix", id, "seq", m.Seq(), "segments", len(snap.Segments), "replayed", len(snap.Pending))
	return m, nil
}

// Save writes a snapshot of m to the store.
func (lib *Library) Save(ctx context.Context, m *Matrix) (err error) {
	ctx, span := tracer.Start(ctx, "cellrope.Library.Save",
		trace.WithAttributes(attribute.String("matrix.id", m.ID())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if lib.store == nil {
		return ErrNoStore
	}
	snap := m.Snapshot()
	if err := lib.store.PutSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save %s: %w", m.ID(), err)
	}
	lib.logger.Info("matrix saved", "matrix", m.ID(), "seq", snap.Seq, "segments", len(snap.Segments))
	return nil
}

// SaveAll saves every active matrix concurrently.
func (lib *Library) SaveAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range lib.Matrices() {
		g.Go(func() error {
			return lib.Save(ctx, m)
		})
	}
	return g.Wait()
}

// Attach connects m to collaborators using the configured submitter factory.
func (lib *Library) Attach(m *Matrix) error {
	if _, ok := lib.Get(m.ID()); !ok {
		return fmt.Errorf("%w: %s", ErrMatrixNotFound, m.ID())
	}
	if lib.submitters == nil {
		return fmt.Errorf("%w: no submitter configured", ErrNotAttached)
	}
	s, err := lib.submitters(m)
	if err != nil {
		return fmt.Errorf("attach %s: %w", m.ID(), err)
	}
	m.Attach(s)
	lib.logger.Debug("matrix attached", "matrix", m.ID())
	return nil
}

// Fork registers an unattached copy of m under id.
func (lib *Library) Fork(m *Matrix, id string) (*Matrix, error) {
	if id == "" {
		id = uuid.NewString()
	}
	dup := m.Clone(id)
	if err := lib.register(dup); err != nil {
		return nil, err
	}
	return dup, nil
}

// Get returns the active matrix with the given id.
func (lib *Library) Get(id string) (*Matrix, bool) {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	m, ok := lib.active[id]
	return m, ok
}

// Matrices returns the active matrices ordered by id.
func (lib *Library) Matrices() []*Matrix {
	lib.mu.RLock()
	out := make([]*Matrix, 0, len(lib.active))
	for _, m := range lib.active {
		out = append(out, m)
	}
	lib.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Release detaches m and removes it from the active set without saving.
func (lib *Library) Release(m *Matrix) error {
	lib.mu.Lock()
	if lib.active[m.ID()] != m {
		lib.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatrixNotFound, m.ID())
	}
	delete(lib.active, m.ID())
	lib.mu.Unlock()

	m.Detach()
	return nil
}

func (lib *Library) register(m *Matrix) error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if _, ok := lib.active[m.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMatrix, m.ID())
	}
	lib.active[m.ID()] = m
	return nil
}

// JournalSubmitter appends every submitted op to an OpLog under one matrix id.
type JournalSubmitter struct {
	Log OpLog
	ID  string
}

var _ PositionedSubmitter = JournalSubmitter{}

// Submit appends op to the journal.
func (j JournalSubmitter) Submit(op Op) error {
	_, err := j.SubmitAt(op)
	return err
}

// SubmitAt appends op to the journal and returns its position.
func (j JournalSubmitter) SubmitAt(op Op) (int64, error) {
	return j.Log.AppendOp(context.Background(), j.ID, op)
}

// MultiSubmitter forwards each op to every submitter, returning the first error.
type MultiSubmitter []Submitter

var _ PositionedSubmitter = MultiSubmitter(nil)

// Submit forwards op to each submitter in order.
func (ms MultiSubmitter) Submit(op Op) error {
	_, err := ms.SubmitAt(op)
	return err
}

// SubmitAt forwards op to each submitter in order and returns the highest
// journal position reported by a PositionedSubmitter among them.
func (ms MultiSubmitter) SubmitAt(op Op) (int64, error) {
	var (
		pos   int64
		first error
	)
	for _, s := range ms {
		var err error
		if ps, ok := s.(PositionedSubmitter); ok {
			var p int64
			p, err = ps.SubmitAt(op)
			pos = max(pos, p)
		} else {
			err = s.Submit(op)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return pos, first
}

// Close closes every submitter that is an io.Closer, returning the first error.
func (ms MultiSubmitter) Close() error {
	var first error
	for _, s := range ms {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
