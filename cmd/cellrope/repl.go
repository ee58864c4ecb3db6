package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phroun/cellrope"
)

// REPL holds the state of the interactive session
type REPL struct {
	ctx    context.Context
	lib    *cellrope.Library
	matrix *cellrope.Matrix
	reader *bufio.Reader
	out    io.Writer
	prompt bool
}

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl [matrix-id]",
		Short: "Edit a matrix interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.openLibrary(cmd.Context())
			if err != nil {
				return err
			}
			defer lib.Close()

			r := &REPL{
				ctx:    cmd.Context(),
				lib:    lib,
				reader: bufio.NewReader(cmd.InOrStdin()),
				out:    cmd.OutOrStdout(),
				prompt: true,
			}
			if len(args) == 1 {
				r.cmdOpen(args)
			}
			r.run()
			return nil
		},
	}
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *REPL) run() {
	r.printf("cellrope REPL - sparse matrix editor\n")
	r.printf("Type 'help' for available commands, 'quit' to exit\n\n")

	for {
		if r.prompt {
			r.printf("cellrope> ")
		}
		input, err := r.reader.ReadString('\n')
		if err != nil && input == "" {
			r.printf("\nGoodbye!\n")
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !r.handleCommand(input) {
			return
		}
	}
}

func (r *REPL) handleCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		r.printHelp()

	case "quit", "exit":
		r.printf("Goodbye!\n")
		return false

	case "new":
		r.cmdNew(args)

	case "open":
		r.cmdOpen(args)

	case "save":
		r.cmdSave()

	case "close":
		r.cmdClose()

	case "list":
		r.cmdList()

	case "attach":
		r.cmdAttach()

	case "set":
		r.cmdSet(args)

	case "get":
		r.cmdGet(args)

	case "tag":
		r.cmdTag(args)

	case "gettag":
		r.cmdGetTag(args)

	case "insrows":
		r.cmdRows(args, true)

	case "delrows":
		r.cmdRows(args, false)

	case "inscols":
		r.cmdCols(args, true)

	case "delcols":
		r.cmdCols(args, false)

	case "dump":
		r.cmdDump()

	case "segments":
		if r.ensureMatrix() {
			r.printf("%s\n", r.matrix)
		}

	case "stats":
		r.cmdStats()

	case "compact":
		r.cmdCompact()

	default:
		r.printf("Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}

	return true
}

func (r *REPL) printHelp() {
	help := `
Available Commands:
-------------------

MATRICES:
  new [id]                    Create an empty matrix (random id when omitted)
  open <id>                   Load a matrix from the store
  save                        Save the current matrix
  close                       Release the current matrix without saving
  list                        List active and stored matrices
  attach                      Attach the current matrix to the relay or journal

CELLS:
  set <row> <col> <v>...      Write values into consecutive cells
  get <row> <col>             Read one cell
  tag <row> <col> <text>      Set a transient tag on a populated cell
  gettag <row> <col>          Read a cell's tag

STRUCTURE:
  insrows <row> <count>       Insert empty rows
  delrows <row> <count>       Remove rows
  inscols <col> <count>       Insert empty columns
  delcols <col> <count>       Remove columns

INSPECTION:
  dump                        Print every populated cell
  segments                    Show the segment chain
  stats                       Show segment statistics
  compact                     Merge adjacent compatible segments

Values are parsed as true/false, numbers, null (empty cell) or text.

OTHER:
  help                        Show this help message
  quit, exit                  Exit the REPL
`
	r.printf("%s\n", help)
}

func (r *REPL) ensureMatrix() bool {
	if r.matrix == nil {
		r.printf("No matrix is open. Use 'new' or 'open <id>' first.\n")
		return false
	}
	return true
}

func (r *REPL) parseInts(args []string, names ...string) ([]int64, bool) {
	if len(args) < len(names) {
		r.printf("Usage: expected <%s>\n", strings.Join(names, "> <"))
		return nil, false
	}
	out := make([]int64, len(names))
	for i, name := range names {
		v, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil {
			r.printf("Invalid %s: %v\n", name, err)
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (r *REPL) replace(m *cellrope.Matrix) {
	if r.matrix != nil {
		r.lib.Release(r.matrix)
	}
	r.matrix = m
}

func (r *REPL) cmdNew(args []string) {
	id := ""
	if len(args) > 0 {
		id = args[0]
	}
	if r.matrix != nil && r.matrix.ID() == id {
		r.lib.Release(r.matrix)
		r.matrix = nil
	}
	m, err := r.lib.Create(id)
	if err != nil {
		r.printf("Error creating matrix: %v\n", err)
		return
	}
	r.replace(m)
	r.printf("Created matrix %s\n", m.ID())
}

func (r *REPL) cmdOpen(args []string) {
	if len(args) < 1 {
		r.printf("Usage: open <id>\n")
		return
	}
	if r.matrix != nil && r.matrix.ID() == args[0] {
		r.lib.Release(r.matrix)
		r.matrix = nil
	}
	m, err := r.lib.Load(r.ctx, args[0])
	if err != nil {
		r.printf("Error opening matrix: %v\n", err)
		return
	}
	r.replace(m)
	r.printf("Opened matrix %s: %d rows, seq %d\n", m.ID(), m.RowCount(), m.Seq())
}

func (r *REPL) cmdSave() {
	if !r.ensureMatrix() {
		return
	}
	if err := r.lib.Save(r.ctx, r.matrix); err != nil {
		r.printf("Error saving matrix: %v\n", err)
		return
	}
	r.printf("Saved matrix %s at seq %d\n", r.matrix.ID(), r.matrix.Seq())
}

func (r *REPL) cmdClose() {
	if !r.ensureMatrix() {
		return
	}
	r.lib.Release(r.matrix)
	r.printf("Matrix %s closed\n", r.matrix.ID())
	r.matrix = nil
}

func (r *REPL) cmdList() {
	for _, m := range r.lib.Matrices() {
		marker := " "
		if m == r.matrix {
			marker = "*"
		}
		r.printf("%s %s (active, %d rows)\n", marker, m.ID(), m.RowCount())
	}
	if store := r.lib.Store(); store != nil {
		ids, err := store.ListSnapshots(r.ctx)
		if err != nil {
			r.printf("Error listing store: %v\n", err)
			return
		}
		for _, id := range ids {
			r.printf("  %s (stored)\n", id)
		}
	}
}

func (r *REPL) cmdAttach() {
	if !r.ensureMatrix() {
		return
	}
	if err := r.lib.Attach(r.matrix); err != nil {
		r.printf("Error attaching: %v\n", err)
		return
	}
	r.printf("Matrix %s attached\n", r.matrix.ID())
}

func (r *REPL) cmdSet(args []string) {
	if !r.ensureMatrix() {
		return
	}
	pos, ok := r.parseInts(args, "row", "col")
	if !ok {
		return
	}
	if len(args) < 3 {
		r.printf("Usage: set <row> <col> <value>...\n")
		return
	}
	values := make([]cellrope.Value, 0, len(args)-2)
	for _, raw := range args[2:] {
		values = append(values, cellrope.ParseValue(raw))
	}
	if err := r.matrix.SetItems(pos[0], pos[1], values, nil); err != nil {
		r.printf("Set error: %v\n", err)
		return
	}
	r.printf("Wrote %d cell(s) at %d:%d\n", len(values), pos[0], pos[1])
}

func (r *REPL) cmdGet(args []string) {
	if !r.ensureMatrix() {
		return
	}
	pos, ok := r.parseInts(args, "row", "col")
	if !ok {
		return
	}
	v, err := r.matrix.GetItem(pos[0], pos[1])
	if err != nil {
		r.printf("Get error: %v\n", err)
		return
	}
	r.printf("%d:%d = %s\n", pos[0], pos[1], v)
}

func (r *REPL) cmdTag(args []string) {
	if !r.ensureMatrix() {
		return
	}
	pos, ok := r.parseInts(args, "row", "col")
	if !ok {
		return
	}
	if len(args) < 3 {
		r.printf("Usage: tag <row> <col> <text>\n")
		return
	}
	err := r.matrix.SetTag(pos[0], pos[1], strings.Join(args[2:], " "))
	if errors.Is(err, cellrope.ErrInvalidTagTarget) {
		r.printf("Cell %d:%d is empty; set a value before tagging it\n", pos[0], pos[1])
		return
	}
	if err != nil {
		r.printf("Tag error: %v\n", err)
		return
	}
	r.printf("Tagged %d:%d\n", pos[0], pos[1])
}

func (r *REPL) cmdGetTag(args []string) {
	if !r.ensureMatrix() {
		return
	}
	pos, ok := r.parseInts(args, "row", "col")
	if !ok {
		return
	}
	tag, err := r.matrix.GetTag(pos[0], pos[1])
	if err != nil {
		r.printf("Tag error: %v\n", err)
		return
	}
	if tag == nil {
		r.printf("%d:%d has no tag\n", pos[0], pos[1])
		return
	}
	r.printf("%d:%d tag = %v\n", pos[0], pos[1], tag)
}

func (r *REPL) cmdRows(args []string, insert bool) {
	if !r.ensureMatrix() {
		return
	}
	a, ok := r.parseInts(args, "row", "count")
	if !ok {
		return
	}
	var err error
	if insert {
		err = r.matrix.InsertRows(a[0], a[1])
	} else {
		err = r.matrix.RemoveRows(a[0], a[1])
	}
	if err != nil {
		r.printf("Row error: %v\n", err)
		return
	}
	r.printf("Matrix now has %d rows\n", r.matrix.RowCount())
}

func (r *REPL) cmdCols(args []string, insert bool) {
	if !r.ensureMatrix() {
		return
	}
	a, ok := r.parseInts(args, "col", "count")
	if !ok {
		return
	}
	var err error
	if insert {
		err = r.matrix.InsertCols(a[0], a[1])
	} else {
		err = r.matrix.RemoveCols(a[0], a[1])
	}
	if err != nil {
		r.printf("Column error: %v\n", err)
		return
	}
	r.printf("Shifted columns across %d rows\n", r.matrix.RowCount())
}

func (r *REPL) cmdDump() {
	if !r.ensureMatrix() {
		return
	}
	if n := dumpCells(r.out, r.matrix); n == 0 {
		r.printf("(no populated cells)\n")
	}
}

func (r *REPL) cmdStats() {
	if !r.ensureMatrix() {
		return
	}
	s := r.matrix.Stats()
	r.printf("Matrix %s:\n", r.matrix.ID())
	r.printf("  Rows:       %d\n", r.matrix.RowCount())
	r.printf("  Extent:     %d positions\n", s.Length)
	r.printf("  Segments:   %d (%d run, %d padding)\n", s.Segments, s.RunSegments, s.PaddingSegments)
	r.printf("  Populated:  %d cells\n", s.PopulatedCells)
	r.printf("  References: %d\n", s.References)
	r.printf("  Seq:        %d, attached: %v\n", r.matrix.Seq(), r.matrix.IsAttached())
}

func (r *REPL) cmdCompact() {
	if !r.ensureMatrix() {
		return
	}
	r.printf("Merged %d segment(s)\n", r.matrix.Compact())
}

// dumpCells writes one "row:col<TAB>value" line per populated cell and
// returns the number written.
func dumpCells(w io.Writer, m *cellrope.Matrix) int {
	n := 0
	m.Walk(func(seg cellrope.Segment, start int64) bool {
		run, ok := seg.(*cellrope.RunSegment)
		if !ok {
			return true
		}
		for i, v := range run.Values() {
			row, col := cellrope.FromPosition(start + int64(i))
			fmt.Fprintf(w, "%d:%d\t%s\n", row, col, v)
			n++
		}
		return true
	})
	return n
}
