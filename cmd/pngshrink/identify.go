package main

import (
	"fmt"
	"os"

	"github.com/jmaccarl/pngshrink/internal/png"
	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify [file]",
	Short: "Inspect PNG header info",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	h, err := png.ParseHeader(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating %s: %w", path, err)
	}

	fmt.Printf("File:       %s\n", path)
	fmt.Printf("Dimensions: %d x %d\n", h.Width, h.Height)
	fmt.Printf("Bit depth:  %d\n", h.BitDepth)
	fmt.Printf("Color type: %s (%d channels)\n", h.ColorType, h.Channels())
	if h.Interlace == 1 {
		fmt.Println("Interlace:  Adam7")
	} else {
		fmt.Println("Interlace:  none")
	}
	fmt.Printf("File size:  %d bytes (%.1f MB)\n", info.Size(), float64(info.Size())/(1024*1024))

	return nil
}
