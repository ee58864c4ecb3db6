package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/internal/config"
)

type BenchResult struct {
	Name     string
	Duration time.Duration
	Ops      int
	Extra    string
}

func (r BenchResult) String() string {
	if r.Ops > 0 {
		opsPerSec := float64(r.Ops) / r.Duration.Seconds()
		if r.Extra != "" {
			return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec) %s", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec, r.Extra)
		}
		return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec)", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec)
	}
	if r.Extra != "" {
		return fmt.Sprintf("%-40s %12v  %s", r.Name, r.Duration.Round(time.Microsecond), r.Extra)
	}
	return fmt.Sprintf("%-40s %12v", r.Name, r.Duration.Round(time.Microsecond))
}

// benchOptions sizes a benchmark run.
type benchOptions struct {
	Rows   int64
	Reads  int
	Cols   int
	Seed   uint64
	Stores bool
}

func newBenchCmd(a *app) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time the structural operations on a generated matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := runBench(cmd.Context(), cmd.OutOrStdout(), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\n"+"=")
			fmt.Fprintln(out, "SUMMARY")
			fmt.Fprintln(out, "=")
			for _, r := range results {
				fmt.Fprintln(out, r)
			}

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Peak heap allocation: %d MB\n", m.HeapSys/(1024*1024))
			fmt.Fprintf(out, "Total allocations: %d MB\n", m.TotalAlloc/(1024*1024))
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.Rows, "rows", 10000, "rows in the generated matrix")
	cmd.Flags().IntVar(&opts.Reads, "reads", 100000, "random cell reads")
	cmd.Flags().IntVar(&opts.Cols, "cols", 10, "column insertions and removals")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&opts.Stores, "stores", true, "also time save and load on every store driver")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, opts benchOptions) ([]BenchResult, error) {
	fmt.Fprintln(out, "cellrope Benchmark")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Rows: %d\n", opts.Rows)
	fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(out, "GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Fprintln(out)

	lib, err := cellrope.Init(cellrope.LibraryOptions{ClientID: "bench"})
	if err != nil {
		return nil, fmt.Errorf("init library: %w", err)
	}
	defer lib.Close()
	m, err := lib.Create("bench")
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	var results []BenchResult
	run := func(name string, fn func() BenchResult) {
		fmt.Fprintf(out, "  %-40s ", name+"...")
		result := fn()
		result.Name = name
		fmt.Fprintf(out, "%v\n", result.Duration.Round(time.Microsecond))
		results = append(results, result)
	}

	fmt.Fprintln(out, "Row operations:")
	run("Insert rows (one at a time)", func() BenchResult { return benchInsertRows(m, opts.Rows) })
	run("Set items (3 cells per row)", func() BenchResult { return benchSetItems(m, rng) })
	run("Random reads", func() BenchResult { return benchReads(m, rng, opts.Reads) })

	fmt.Fprintln(out, "\nColumn operations:")
	run("Insert columns (all rows)", func() BenchResult { return benchCols(m, opts.Cols, true) })
	run("Remove columns (all rows)", func() BenchResult { return benchCols(m, opts.Cols, false) })

	fmt.Fprintln(out, "\nMaintenance:")
	run("Compact", func() BenchResult { return benchCompact(m) })
	run("Snapshot encode/decode", func() BenchResult { return benchSnapshot(m) })

	if opts.Stores {
		dir, err := os.MkdirTemp("", "cellrope-bench-*")
		if err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		fmt.Fprintln(out, "\nStores:")
		for _, sc := range []config.StoreConfig{
			{Driver: config.DriverMemory},
			{Driver: config.DriverFile, Path: filepath.Join(dir, "file")},
			{Driver: config.DriverBadger, Path: filepath.Join(dir, "badger")},
			{Driver: config.DriverSQLite, Path: filepath.Join(dir, "cells.db")},
		} {
			run("Save+load ("+sc.Driver+")", func() BenchResult { return benchStore(ctx, m, sc) })
		}
	}
	return results, nil
}

func benchInsertRows(m *cellrope.Matrix, rows int64) BenchResult {
	start := time.Now()
	for i := int64(0); i < rows; i++ {
		if err := m.InsertRows(i/2, 1); err != nil {
			return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: int(rows)}
}

func benchSetItems(m *cellrope.Matrix, rng *rand.Rand) BenchResult {
	rows := m.RowCount()
	start := time.Now()
	for row := int64(0); row < rows; row++ {
		col := rng.Int64N(64)
		values := []cellrope.Value{cellrope.Number(float64(row)), cellrope.Text("cell"), cellrope.Bool(row%2 == 0)}
		if err := m.SetItems(row, col, values, nil); err != nil {
			return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: int(rows), Extra: fmt.Sprintf("%d segments", m.Stats().Segments)}
}

func benchReads(m *cellrope.Matrix, rng *rand.Rand, reads int) BenchResult {
	rows := m.RowCount()
	if rows == 0 {
		return BenchResult{Extra: "no rows"}
	}
	hits := 0
	start := time.Now()
	for i := 0; i < reads; i++ {
		v, err := m.GetItem(rng.Int64N(rows), rng.Int64N(70))
		if err != nil {
			return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
		}
		if !v.IsAbsent() {
			hits++
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: reads, Extra: fmt.Sprintf("%d hits", hits)}
}

func benchCols(m *cellrope.Matrix, count int, insert bool) BenchResult {
	start := time.Now()
	for i := 0; i < count; i++ {
		var err error
		if insert {
			err = m.InsertCols(int64(i), 1)
		} else {
			err = m.RemoveCols(0, 1)
		}
		if err != nil {
			return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
		}
	}
	return BenchResult{Duration: time.Since(start), Ops: count, Extra: fmt.Sprintf("%d rows each", m.RowCount())}
}

func benchCompact(m *cellrope.Matrix) BenchResult {
	before := m.Stats().Segments
	start := time.Now()
	merged := m.Compact()
	return BenchResult{
		Duration: time.Since(start),
		Extra:    fmt.Sprintf("%d -> %d segments (%d merged)", before, m.Stats().Segments, merged),
	}
}

func benchSnapshot(m *cellrope.Matrix) BenchResult {
	start := time.Now()
	data, err := cellrope.EncodeSnapshot(m.Snapshot())
	if err != nil {
		return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	if _, err := cellrope.DecodeSnapshot(data); err != nil {
		return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("%d KB", len(data)/1024)}
}

func benchStore(ctx context.Context, m *cellrope.Matrix, sc config.StoreConfig) BenchResult {
	start := time.Now()
	store, err := config.OpenStore(sc, nil)
	if err != nil {
		return BenchResult{Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	lib, err := cellrope.Init(cellrope.LibraryOptions{Store: store, ClientID: "bench-" + sc.Driver})
	if err != nil {
		store.Close()
		return BenchResult{Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	defer lib.Close()

	dup, err := lib.Fork(m, m.ID())
	if err == nil {
		err = lib.Save(ctx, dup)
	}
	if err == nil {
		err = lib.Release(dup)
	}
	var loaded *cellrope.Matrix
	if err == nil {
		loaded, err = lib.Load(ctx, m.ID())
	}
	if err != nil {
		return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("ERROR: %v", err)}
	}
	return BenchResult{Duration: time.Since(start), Extra: fmt.Sprintf("%d rows loaded", loaded.RowCount())}
}
