package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/robert-malhotra/go-h5io/h5io"
	"github.com/robert-malhotra/go-h5io/internal/cache"
	"github.com/robert-malhotra/go-h5io/internal/primes"
)

// InfoCmd describes every dataset of a file.
var InfoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "`info` lists the datasets of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, h, err := openFile(args[0], h5io.ReadOnly)
		if err != nil {
			return err
		}
		defer pool.Free()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "=== Analyzing %s ===\n\n", args[0])
		names, err := h.Datasets()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Datasets: %d\n", len(names))
		for _, name := range names {
			info, err := h.Info(name)
			if err != nil {
				fmt.Fprintf(out, "  %q: ERROR: %v\n", name, err)
				continue
			}
			fmt.Fprintf(out, "  Dataset %q:\n", name)
			fmt.Fprintf(out, "    Shape: %d x %d %s\n", info.Rows, info.Cols, info.ElementType)
			fmt.Fprintf(out, "    Chunks: %d rows, %d of %d allocated\n", info.ChunkRows, info.ChunksAllocated, info.ChunksTotal)
			if len(info.Filters) > 0 {
				fmt.Fprintf(out, "    Filters: %s\n", strings.Join(info.Filters, ", "))
			}
			if len(info.Attributes) > 0 {
				fmt.Fprintf(out, "    Attrs: %v\n", info.Attributes)
			}
			raw := info.RawBytes()
			fmt.Fprintf(out, "    Stored: %s of %s", humanize.IBytes(info.StoredBytes), humanize.IBytes(raw))
			if info.StoredBytes > 0 {
				fmt.Fprintf(out, " (%.2fx)", float64(raw)/float64(info.StoredBytes))
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var (
	primesCacheSize  string
	primesChunkBytes string
)

func init() {
	PrimesCmd.Flags().StringVar(&primesCacheSize, "cache", "", "print the cache slot count for this cache size, e.g. 16MiB")
	PrimesCmd.Flags().StringVar(&primesChunkBytes, "chunk", "1MiB", "chunk size used with --cache")
}

// PrimesCmd queries the prime table used to size chunk caches.
var PrimesCmd = &cobra.Command{
	Use:   "primes [nth <i> | next <v>]",
	Short: "`primes` queries the chunk cache prime table",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if primesCacheSize != "" {
			cacheBytes, err := humanize.ParseBytes(primesCacheSize)
			if err != nil {
				return err
			}
			chunkBytes, err := humanize.ParseBytes(primesChunkBytes)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d\n", cache.Slots(cacheBytes, chunkBytes))
			return nil
		}

		if len(args) != 2 {
			fmt.Fprintf(out, "%d primes, largest %d\n", primes.Len(), primes.Largest())
			return nil
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		var p uint32
		switch args[0] {
		case "nth":
			p = primes.NthPrime(int(v))
		case "next":
			p = primes.NextPrimeAtLeast(uint32(v))
		default:
			return fmt.Errorf("unknown query %q, want nth or next", args[0])
		}
		if p == 0 {
			return fmt.Errorf("%s %d: outside the prime table", args[0], v)
		}
		fmt.Fprintf(out, "%d\n", p)
		return nil
	},
}
