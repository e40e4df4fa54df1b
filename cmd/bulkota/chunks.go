package main

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/muurk/bulkota/internal/config"
	"github.com/muurk/bulkota/internal/firmware"
)

// Chunks command flags
var (
	chunksSize   int
	chunksList   bool
	chunksVerify bool
)

var chunksCmd = &cobra.Command{
	Use:   "chunks [firmware]",
	Short: "Show how a firmware image will be chunked",
	Long: `Split a firmware image exactly as push would and print the chunk table.

With --verify, every frame is decoded again, its checksum checked, and the
payloads reassembled and compared against the original image.`,
	Example: `  # Summary for the default image
  bulkota chunks

  # List every chunk of a specific image with 512-byte payloads
  bulkota chunks build/app.bin --chunk-size 512 --list

  # Round-trip check
  bulkota chunks --verify`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChunks,
}

func init() {
	chunksCmd.Flags().IntVar(&chunksSize, "chunk-size", 0, "Payload bytes per chunk (overrides transfer.chunk_size)")
	chunksCmd.Flags().BoolVar(&chunksList, "list", false, "List every chunk")
	chunksCmd.Flags().BoolVar(&chunksVerify, "verify", false, "Decode every frame and compare the reassembled image")

	rootCmd.AddCommand(chunksCmd)
}

func runChunks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(cfg *config.Config) {
		if len(args) == 1 {
			cfg.Transfer.Firmware = args[0]
		}
		if flagChanged(cmd, "chunk-size") {
			cfg.Transfer.ChunkSize = chunksSize
		}
	})
	if err != nil {
		return err
	}
	if err := initLogging(cfg, false); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	img, err := firmware.Load(cfg.Transfer.Firmware)
	if err != nil {
		return err
	}
	table, err := firmware.Build(img.Data, cfg.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("failed to chunk %s: %w", img.Name(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Firmware:     %s\n", img.Path)
	fmt.Fprintf(out, "Size:         %d bytes\n", img.Size())
	fmt.Fprintf(out, "Chunk size:   %d bytes\n", table.ChunkSize)
	fmt.Fprintf(out, "Chunks:       %d\n", table.Len())
	fmt.Fprintf(out, "Size message: %s\n", hex.EncodeToString(table.SizeMessage()))

	if chunksList {
		fmt.Fprintln(out)
		for _, c := range table.Chunks {
			fmt.Fprintln(out, "  "+c.String())
		}
	}

	if chunksVerify {
		if err := verifyTable(img.Data, table); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nVerified %d frames, reassembled image matches.\n", table.Len())
	}
	return nil
}

// verifyTable decodes every frame against its table entry and checks that
// the table reassembles to the image.
func verifyTable(image []byte, table *firmware.Table) error {
	for i := 0; i < table.Len(); i++ {
		c, err := firmware.DecodeChunk(table.Frame(i))
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if want := table.Len() - 1 - i; c.Remaining != want {
			return fmt.Errorf("frame %d: remaining = %d, want %d", i, c.Remaining, want)
		}
		if !bytes.Equal(c.Payload, table.Chunks[i].Payload) {
			return fmt.Errorf("frame %d: payload differs from chunk table", i)
		}
	}
	if !bytes.Equal(table.Reassemble(), image) {
		return fmt.Errorf("reassembled image differs from original")
	}
	return nil
}
