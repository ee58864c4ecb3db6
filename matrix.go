package cellrope

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MatrixType is the factory type identifier of sparse matrices.
const MatrixType = "https://graph.microsoft.com/types/mergeTree/sparse-matrix"

// Matrix is a sparse grid of cells addressed by (row, column) and stored as a
// chain of run and padding segments in row-major order. Every row occupies
// ColumnsPerRow positions.
//
// A Matrix is safe for concurrent use. Local calls and remote ops are
// serialized by one mutex.
type Matrix struct {
	id     string
	chain  *Chain
	logger *slog.Logger

	mu sync.Mutex
}

func newMatrix(id string, chain *Chain, logger *slog.Logger) *Matrix {
	return &Matrix{
		id:     id,
		chain:  chain,
		logger: logger.With("matrix", id),
	}
}

// ID returns the matrix identity.
func (m *Matrix) ID() string {
	return m.id
}

// Type returns MatrixType.
func (m *Matrix) Type() string {
	return MatrixType
}

// Length returns the total linear extent.
func (m *Matrix) Length() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Length()
}

// RowCount returns the number of complete rows.
func (m *Matrix) RowCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Length() / ColumnsPerRow
}

// Seq returns the matrix's current sequence number.
func (m *Matrix) Seq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Seq()
}

// IsAttached reports whether local changes are submitted to collaborators.
func (m *Matrix) IsAttached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.IsAttached()
}

// Attach starts forwarding local changes to s.
func (m *Matrix) Attach(s Submitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.SetSubmitter(s)
}

// Detach stops forwarding local changes. A submitter that is an io.Closer
// is closed after the matrix lets go of it.
func (m *Matrix) Detach() {
	m.mu.Lock()
	s := m.chain.submitter
	m.chain.SetSubmitter(nil)
	m.mu.Unlock()

	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("closing submitter failed", "error", err)
		}
	}
}

// SetItems writes values into consecutive cells of row starting at col,
// replacing whatever covered them. props, when non-empty, is attached to the
// new run. Exactly one structural change is submitted.
func (m *Matrix) SetItems(row, col int64, values []Value, props PropertySet) error {
	if err := checkSpan(row, col, int64(len(values))); err != nil {
		return fmt.Errorf("set items at (%d, %d)+%d: %w", row, col, len(values), err)
	}

	run := NewRun(values)
	if len(props) > 0 {
		run.AddProperties(props)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := ToPosition(row, col)
	op, err := m.chain.ReplaceRange(start, start+int64(len(values)), run)
	if err != nil {
		return err
	}
	m.chain.Submit(op)
	return nil
}

// GetItem returns the value of a cell. Empty cells, including cells past the
// extent, read as absent.
func (m *Matrix) GetItem(row, col int64) (Value, error) {
	if err := checkCell(row, col); err != nil {
		return Absent(), fmt.Errorf("get item at (%d, %d): %w", row, col, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seg, offset := m.chain.Locate(ToPosition(row, col))
	switch s := seg.(type) {
	case nil, *PaddingSegment:
		return Absent(), nil
	case *RunSegment:
		return s.Value(offset), nil
	default:
		return Absent(), ErrUnrecognizedSegment
	}
}

// GetTag returns the tag of a cell, or nil for an empty cell.
func (m *Matrix) GetTag(row, col int64) (Tag, error) {
	if err := checkCell(row, col); err != nil {
		return nil, fmt.Errorf("get tag at (%d, %d): %w", row, col, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seg, offset := m.chain.Locate(ToPosition(row, col))
	switch s := seg.(type) {
	case nil, *PaddingSegment:
		return nil, nil
	case *RunSegment:
		return s.Tag(offset), nil
	default:
		return nil, ErrUnrecognizedSegment
	}
}

// SetTag sets the tag of a populated cell. Tagging an empty cell fails with
// ErrInvalidTagTarget; clearing the tag of an empty cell is a no-op.
// Tags are local to this instance and are never submitted or saved.
func (m *Matrix) SetTag(row, col int64, tag Tag) error {
	if err := checkCell(row, col); err != nil {
		return fmt.Errorf("set tag at (%d, %d): %w", row, col, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seg, offset := m.chain.Locate(ToPosition(row, col))
	switch s := seg.(type) {
	case *RunSegment:
		s.SetTag(offset, tag)
		return nil
	case nil, *PaddingSegment:
		if tag == nil {
			return nil
		}
		return fmt.Errorf("set tag at (%d, %d): %w", row, col, ErrInvalidTagTarget)
	default:
		return ErrUnrecognizedSegment
	}
}

// InsertRows inserts count empty rows before row. row may equal the current
// row count to append.
func (m *Matrix) InsertRows(row, count int64) error {
	if err := checkRows(row, count); err != nil {
		return fmt.Errorf("insert rows %d+%d: %w", row, count, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chain.Length()/ColumnsPerRow+count > RowsPerMatrix {
		return fmt.Errorf("insert rows %d+%d: %w", row, count, ErrInvalidCount)
	}
	pos := RowStart(row)
	if pos > m.chain.Length() {
		return fmt.Errorf("insert rows %d+%d past row %d: %w", row, count, m.chain.Length()/ColumnsPerRow, ErrOutOfBounds)
	}

	op, err := m.chain.InsertAt(pos, NewPadding(count*ColumnsPerRow))
	if err != nil {
		return err
	}
	m.chain.Submit(op)
	return nil
}

// RemoveRows removes count rows starting at row. Rows past the extent are
// ignored.
func (m *Matrix) RemoveRows(row, count int64) error {
	if err := checkRows(row, count); err != nil {
		return fmt.Errorf("remove rows %d+%d: %w", row, count, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := RowStart(row)
	if start >= m.chain.Length() {
		return fmt.Errorf("remove rows %d+%d: %w", row, count, ErrOutOfBounds)
	}
	end := min(start+count*ColumnsPerRow, m.chain.Length())

	op, err := m.chain.RemoveRange(start, end)
	if err != nil {
		return err
	}
	m.chain.Submit(op)
	return nil
}

// InsertCols inserts count empty columns before col in every row. Cells in
// the count columns just before MaxCol are discarded to keep rows aligned.
func (m *Matrix) InsertCols(col, count int64) error {
	if err := checkColumns(col, count); err != nil {
		return fmt.Errorf("insert cols %d+%d: %w", col, count, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveAsPadding(MaxCol-count, col, count)
}

// RemoveCols removes count columns starting at col in every row.
func (m *Matrix) RemoveCols(col, count int64) error {
	if err := checkColumns(col, count); err != nil {
		return fmt.Errorf("remove cols %d+%d: %w", col, count, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveAsPadding(col, MaxCol-count, count)
}

// moveAsPadding removes count columns at srcCol in every row and inserts as
// many padding columns at destCol, leaving each row's length unchanged. The
// final row may be partial; its removal is clamped to the extent and no
// padding is added past it.
//
// Each row submits its remove and insert separately. Collaborators can observe
// a row with only the removal applied, and a failure partway leaves earlier
// rows moved and later rows untouched.
func (m *Matrix) moveAsPadding(srcCol, destCol, count int64) error {
	length := m.chain.Length()
	rows := (length + ColumnsPerRow - 1) / ColumnsPerRow

	for r := int64(0); r < rows; r++ {
		rowStart := RowStart(r)
		rowEnd := min(rowStart+ColumnsPerRow, m.chain.Length())

		from := min(rowStart+srcCol, rowEnd)
		to := min(from+count, rowEnd)
		op, err := m.chain.RemoveRange(from, to)
		if err != nil {
			return fmt.Errorf("move columns in row %d: %w", r, err)
		}
		m.chain.Submit(op)

		at := rowStart + destCol
		if at >= m.chain.Length() {
			continue
		}
		op, err = m.chain.InsertAt(at, NewPadding(count))
		if err != nil {
			return fmt.Errorf("move columns in row %d: %w", r, err)
		}
		m.chain.Submit(op)
	}

	columnMoveRows.Observe(float64(rows))
	m.logger.Debug("columns moved", "src", srcCol, "dest", destCol, "count", count, "rows", rows)
	return nil
}

// Reference pins a local reference to a cell inside the extent.
func (m *Matrix) Reference(row, col int64) (*LocalReference, error) {
	if err := checkCell(row, col); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.CreateReference(ToPosition(row, col))
}

// ReferenceAddress returns the cell a local reference currently points to.
func (m *Matrix) ReferenceAddress(ref *LocalReference) (CellAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, err := m.chain.ReferencePosition(ref)
	if err != nil {
		return CellAddress{}, err
	}
	return FromPositionAddress(pos), nil
}

// ReleaseReference unpins a local reference.
func (m *Matrix) ReleaseReference(ref *LocalReference) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.RemoveReference(ref)
}

// ApplyRemote applies an op received from a collaborator.
func (m *Matrix) ApplyRemote(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.chain.Apply(op); err != nil {
		return fmt.Errorf("apply %s: %w", op, err)
	}
	return nil
}

// ApplyJournaled applies an op read back from a journal at e.Pos. Entries at
// or below the matrix's journal position are skipped, as are this replica's
// own ops it has already applied locally.
func (m *Matrix) ApplyJournaled(e JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Pos > 0 && e.Pos <= m.chain.JournalPos() {
		return nil
	}
	own := e.Op.ClientID == m.chain.ClientID() && e.Op.Seq <= m.chain.Seq()
	if !own {
		if err := m.chain.Apply(e.Op); err != nil {
			return fmt.Errorf("apply %s: %w", e.Op, err)
		}
	}
	m.chain.ObserveJournalPos(e.Pos)
	return nil
}

// JournalPos returns the last journal position reflected in the matrix.
func (m *Matrix) JournalPos() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.JournalPos()
}

// ObserveJournalPos records that the matrix reflects the journal up to pos,
// as when a relay acknowledges a local op.
func (m *Matrix) ObserveJournalPos(pos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.ObserveJournalPos(pos)
}

// Walk visits every segment in order with its starting position. fn must not
// call back into the matrix.
func (m *Matrix) Walk(fn func(seg Segment, start int64) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.Walk(fn)
}

// Clone returns an unattached copy of the matrix under a new id. Values, tags
// and properties are duplicated.
func (m *Matrix) Clone(id string) *Matrix {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newMatrix(id, m.chain.Clone(m.chain.ClientID()), m.chain.logger)
}

// String returns a description of the underlying segment chain.
func (m *Matrix) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("Matrix(%s, %d rows) %s", m.id, m.chain.Length()/ColumnsPerRow, m.chain)
}
