package cellrope

const (
	// MaxCol is the highest column index. One extra column per row is kept as
	// headroom so column moves can borrow padding from the row's tail.
	MaxCol int64 = 0x200000

	// ColumnsPerRow is the number of linear positions occupied by one row.
	ColumnsPerRow = MaxCol + 1

	// MaxRow is the highest row index.
	MaxRow int64 = 0xFFFFFFFF

	// RowsPerMatrix is the number of addressable rows.
	RowsPerMatrix = MaxRow + 1

	// MaxCellPosition is the documented upper bound of cell positions.
	MaxCellPosition = MaxCol * MaxRow
)

// CellAddress is a (row, column) pair.
type CellAddress struct {
	Row int64
	Col int64
}

// Cell creates a CellAddress.
func Cell(row, col int64) CellAddress {
	return CellAddress{Row: row, Col: col}
}

// Position returns the linear position of the address.
func (a CellAddress) Position() int64 {
	return ToPosition(a.Row, a.Col)
}

// ToPosition converts row and column to a linear row-major position.
// No bounds are checked: a col >= ColumnsPerRow aliases into the next row.
func ToPosition(row, col int64) int64 {
	return row*ColumnsPerRow + col
}

// FromPosition converts a linear position back to row and column.
func FromPosition(pos int64) (row, col int64) {
	row = pos / ColumnsPerRow
	col = pos - row*ColumnsPerRow
	return row, col
}

// FromPositionAddress is FromPosition returning a CellAddress.
func FromPositionAddress(pos int64) CellAddress {
	row, col := FromPosition(pos)
	return CellAddress{Row: row, Col: col}
}

// RowStart returns the linear position of column 0 in row.
func RowStart(row int64) int64 {
	return row * ColumnsPerRow
}

// checkCell validates a cell address against the matrix bounds.
func checkCell(row, col int64) error {
	if row < 0 || row > MaxRow || col < 0 || col > MaxCol {
		return ErrOutOfBounds
	}
	return nil
}

// checkSpan validates that count cells starting at col stay inside one row.
func checkSpan(row, col, count int64) error {
	if err := checkCell(row, col); err != nil {
		return err
	}
	if count <= 0 {
		return ErrInvalidCount
	}
	if col+count > ColumnsPerRow {
		return ErrOutOfBounds
	}
	return nil
}

// checkRows validates count whole rows starting at row.
func checkRows(row, count int64) error {
	if row < 0 || row > MaxRow {
		return ErrOutOfBounds
	}
	if count <= 0 || count > RowsPerMatrix-row {
		return ErrInvalidCount
	}
	return nil
}

// checkColumns validates a column move of count columns at col. The moved
// block must leave column MaxCol, the row's headroom column, untouched.
func checkColumns(col, count int64) error {
	if col < 0 || col > MaxCol {
		return ErrOutOfBounds
	}
	if count <= 0 || col+count > MaxCol {
		return ErrInvalidCount
	}
	return nil
}
