package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/internal/config"
	"github.com/phroun/cellrope/transport"
)

func execute(t *testing.T, input string, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(input), &out, &errOut)
	root.SetArgs(args)
	require.NoError(t, root.Execute(), errOut.String())
	return out.String()
}

func useStore(t *testing.T, driver string) {
	t.Helper()
	t.Setenv("CELLROPE_STORE_DRIVER", driver)
	t.Setenv("CELLROPE_STORE_PATH", filepath.Join(t.TempDir(), "store"))
	t.Setenv("CELLROPE_MAINTENANCE_INTERVAL", "0s")
	t.Setenv("CELLROPE_LOG_LEVEL", "error")
}

func TestReplSession(t *testing.T) {
	useStore(t, config.DriverMemory)

	script := strings.Join([]string{
		"get 0 0",
		"new sheet",
		"insrows 0 2",
		"set 1 3 a 7",
		`get 1 3`,
		"inscols 0 2",
		"get 1 5",
		"get 1 6",
		"tag 1 5 hello",
		"gettag 1 5",
		"tag 0 0 x",
		"dump",
		"stats",
		"save",
		"list",
		"close",
		"open sheet",
		"get 1 6",
		"delrows 0 1",
		"get 0 6",
		"bogus",
		"quit",
	}, "\n") + "\n"
	out := execute(t, script, "repl")

	for _, want := range []string{
		"No matrix is open",
		"Created matrix sheet",
		"Matrix now has 2 rows",
		"Wrote 2 cell(s) at 1:3",
		`1:3 = "a"`,
		"Shifted columns across 2 rows",
		`1:5 = "a"`,
		"1:6 = 7",
		"Tagged 1:5",
		"1:5 tag = hello",
		"Cell 0:0 is empty",
		"1:5\t\"a\"\n1:6\t7\n",
		"Populated:  2 cells",
		"Saved matrix sheet at seq ",
		"* sheet (active, 2 rows)",
		"  sheet (stored)",
		"Matrix sheet closed",
		"Opened matrix sheet: 2 rows, seq ",
		"Matrix now has 1 rows",
		"0:6 = 7",
		"Unknown command: bogus",
		"Goodbye!",
	} {
		assert.Contains(t, out, want)
	}
}

func TestReplEndsOnEOF(t *testing.T) {
	useStore(t, config.DriverMemory)
	out := execute(t, "new\n", "repl")
	assert.Contains(t, out, "Created matrix ")
	assert.True(t, strings.HasSuffix(out, "Goodbye!\n"))
}

func TestDumpAfterRepl(t *testing.T) {
	for _, driver := range []string{config.DriverFile, config.DriverBadger, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			useStore(t, driver)

			execute(t, "new sheet\ninsrows 0 1\nset 0 0 42\nsave\nquit\n", "repl")

			out := execute(t, "", "dump", "sheet")
			assert.Contains(t, out, "# sheet: 1 rows, seq 2")
			assert.Contains(t, out, "0:0\t42\n")

			out = execute(t, "", "dump", "--json", "sheet")
			assert.Contains(t, out, `"type": "`+cellrope.MatrixType+`"`)

			out = execute(t, "", "dump", "--segments", "sheet")
			assert.Contains(t, out, "Matrix(sheet, 1 rows)")
		})
	}
}

func TestReplJournalsAttachedEdits(t *testing.T) {
	useStore(t, config.DriverFile)

	execute(t, "new sheet\nsave\nattach\ninsrows 0 3\nquit\n", "repl")

	out := execute(t, "", "dump", "sheet")
	assert.Contains(t, out, "# sheet: 3 rows, seq 1")
}

func TestDumpMissingMatrix(t *testing.T) {
	useStore(t, config.DriverMemory)
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, &errOut)
	root.SetArgs([]string{"dump", "nothing"})
	require.ErrorIs(t, root.Execute(), cellrope.ErrSnapshotNotFound)
}

func TestBadConfig(t *testing.T) {
	t.Setenv("CELLROPE_STORE_DRIVER", "etcd")
	var out, errOut bytes.Buffer
	root := newRootCmd(strings.NewReader(""), &out, &errOut)
	root.SetArgs([]string{"repl"})
	require.Error(t, root.Execute())
}

func TestRunBench(t *testing.T) {
	var out bytes.Buffer
	results, err := runBench(context.Background(), &out, benchOptions{Rows: 20, Reads: 50, Cols: 2, Seed: 7, Stores: true})
	require.NoError(t, err)
	require.Len(t, results, 11)
	for _, r := range results {
		assert.NotContains(t, r.Extra, "ERROR", r.Name)
	}
	assert.Contains(t, results[len(results)-1].Extra, "20 rows loaded")
}

func TestServeMux(t *testing.T) {
	relay := transport.NewRelay(transport.RelayOptions{})
	defer relay.Close()
	mux := newServeMux(relay)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	// Not a websocket handshake.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/matrices/x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
