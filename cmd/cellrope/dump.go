package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phroun/cellrope"
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		segments bool
	)
	cmd := &cobra.Command{
		Use:   "dump <matrix-id>",
		Short: "Print a stored matrix with its journal replayed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := a.openLibrary(cmd.Context())
			if err != nil {
				return err
			}
			defer lib.Close()

			m, err := lib.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case asJSON:
				data, err := cellrope.EncodeSnapshot(m.Snapshot())
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, data, "", "  "); err != nil {
					return err
				}
				buf.WriteByte('\n')
				_, err = out.Write(buf.Bytes())
				return err
			case segments:
				fmt.Fprintln(out, m)
			default:
				fmt.Fprintf(out, "# %s: %d rows, seq %d\n", m.ID(), m.RowCount(), m.Seq())
				dumpCells(out, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	cmd.Flags().BoolVar(&segments, "segments", false, "print the segment chain")
	return cmd
}
