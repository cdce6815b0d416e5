package main

import (
	"fmt"
	"os"

	"github.com/jmaccarl/pngshrink/internal/pipeline"
	"github.com/spf13/cobra"
)

var shrinkCmd = &cobra.Command{
	Use:   "shrink",
	Short: "Downscale a PNG by keeping every Nth pixel and row",
	RunE:  runShrink,
}

func init() {
	shrinkCmd.Flags().StringP("input", "i", "", "Input PNG file")
	shrinkCmd.Flags().StringP("output", "o", "", "Output PNG file")
	shrinkCmd.Flags().IntP("sample-rate", "r", 2, "Keep every Nth pixel and row (N >= 1)")
	shrinkCmd.Flags().Int("chunk-size", pipeline.DefaultChunkSize, "Read buffer size in bytes")
	shrinkCmd.Flags().Bool("verbose", false, "Report progress while transcoding")
	shrinkCmd.MarkFlagRequired("input")
	shrinkCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(shrinkCmd)
}

func runShrink(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	sampleRate, _ := cmd.Flags().GetInt("sample-rate")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	verbose, _ := cmd.Flags().GetBool("verbose")

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}

	opts := pipeline.Options{
		SampleRate: sampleRate,
		ChunkSize:  chunkSize,
	}
	if verbose {
		opts.Progress = func(bytesRead int64, rowsOut int) {
			fmt.Printf("read %d bytes, wrote %d rows\n", bytesRead, rowsOut)
		}
	}

	result, err := pipeline.Run(in, out, opts)
	if err != nil {
		out.Close()
		return fmt.Errorf("shrinking: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("stating output: %w", err)
	}

	fmt.Printf("Shrunk %dx%d → %dx%d (1/%d)\n",
		result.SrcWidth, result.SrcHeight, result.DstWidth, result.DstHeight, sampleRate)
	fmt.Printf("Input:  %s (%d bytes)\n", inputPath, result.BytesRead)
	fmt.Printf("Output: %s (%d bytes)\n", outputPath, outInfo.Size())

	return nil
}
