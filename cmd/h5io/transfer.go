package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-h5io/h5io"
)

var (
	writeMode    string
	writeInput   string
	writeColumns bool
	writeHeader  bool
	writeQuant   bool

	readMaxCols int
	readColumns bool
	readHeader  bool
)

func init() {
	WriteCmd.Flags().StringVarP(&writeMode, "mode", "m", "a", "file mode: x, w, r or a")
	WriteCmd.Flags().StringVarP(&writeInput, "input", "i", "-", "CSV input file, - for stdin")
	WriteCmd.Flags().BoolVar(&writeColumns, "columns", false, "write one column at a time")
	WriteCmd.Flags().BoolVar(&writeHeader, "header", false, "treat the first CSV row as column names and write a table")
	WriteCmd.Flags().BoolVarP(&writeQuant, "quantize", "q", false, "store values as round(v*10) in uint16")

	ReadCmd.Flags().BoolVar(&readColumns, "columns", false, "read one column at a time")
	ReadCmd.Flags().IntVarP(&readMaxCols, "max-cols", "n", 0, "read at most this many columns (implies --columns)")
	ReadCmd.Flags().BoolVar(&readHeader, "header", false, "print the table column names first")
}

// WriteCmd stores a CSV matrix as a dataset.
var WriteCmd = &cobra.Command{
	Use:   "write <file> <dataset>",
	Short: "`write` stores a CSV matrix as a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := h5io.ParseMode(writeMode)
		if err != nil {
			return err
		}
		in := os.Stdin
		if writeInput != "-" {
			if in, err = os.Open(writeInput); err != nil {
				return err
			}
			defer in.Close()
		}
		names, m, err := readCSV(in, writeHeader)
		if err != nil {
			return err
		}

		pool, h, err := openFile(args[0], mode)
		if err != nil {
			return err
		}
		var opts []h5io.DatasetOption
		if writeQuant {
			opts = append(opts, h5io.WithQuantization())
		}
		switch {
		case writeHeader:
			err = h.WriteTable(args[1], m, names, opts...)
		case writeColumns:
			err = h.WriteArrayOfColumns(args[1], m.Columns(), opts...)
		default:
			err = h.WriteArray(args[1], m, opts...)
		}
		return errors.Join(err, pool.Free())
	},
}

// ReadCmd prints a dataset as CSV.
var ReadCmd = &cobra.Command{
	Use:   "read <file> <dataset>",
	Short: "`read` prints a dataset as CSV",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, h, err := openFile(args[0], h5io.ReadOnly)
		if err != nil {
			return err
		}
		defer pool.Free()

		var (
			names []string
			m     h5io.RowMajorMatrix
		)
		switch {
		case readColumns || readMaxCols > 0:
			var l h5io.ColumnList
			if l, err = h.ReadArrayOfColumns(args[1], readMaxCols); err != nil {
				return err
			}
			m = l.RowMajor()
		case readHeader:
			var t h5io.Table
			if t, err = h.ReadTable(args[1]); err != nil {
				return err
			}
			names, m = t.ColumnNames, t.RowMajorMatrix
		default:
			if m, err = h.ReadArray(args[1]); err != nil {
				return err
			}
		}
		return writeCSV(cmd.OutOrStdout(), names, m)
	},
}

func readCSV(r io.Reader, header bool) ([]string, h5io.RowMajorMatrix, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, h5io.RowMajorMatrix{}, fmt.Errorf("reading CSV: %w", err)
	}
	var names []string
	if header && len(records) > 0 {
		names, records = records[0], records[1:]
	}
	if len(records) == 0 {
		return nil, h5io.RowMajorMatrix{}, errors.New("reading CSV: no data rows")
	}

	m, err := h5io.NewRowMajorMatrix(len(records), len(records[0]))
	if err != nil {
		return nil, h5io.RowMajorMatrix{}, err
	}
	for r, rec := range records {
		for c, field := range rec {
			if m.Data[r*m.Cols+c], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, h5io.RowMajorMatrix{}, fmt.Errorf("reading CSV row %d column %d: %w", r+1, c+1, err)
			}
		}
	}
	return names, m, nil
}

func writeCSV(w io.Writer, names []string, m h5io.RowMajorMatrix) error {
	cw := csv.NewWriter(w)
	if names != nil {
		if err := cw.Write(names); err != nil {
			return err
		}
	}
	rec := make([]string, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for c, v := range m.Row(r) {
			rec[c] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
