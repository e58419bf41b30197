// Command archiveextract reconstructs stored (uncompressed) files from
// a RAR archive by concatenating their raw data regions. It lists
// entries with the RAR parser only, so 7z archives are rejected. It does
// not decompress: compressed entries are skipped with a warning.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/javi11/archivemeta"
	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/voldiscover"
)

func main() {
	root := &cobra.Command{
		Use:          "archiveextract <first-volume> <output-dir>",
		Short:        "Extract stored files from a RAR archive",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE:         run,
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := archivelog.New()
	first, outDir := args[0], args[1]

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	dir := filepath.Dir(first)
	names, err := voldiscover.Volumes(osFS{}, dir, first)
	if err != nil {
		return fmt.Errorf("discovering volumes: %w", err)
	}

	var volumePaths []string
	var blobs [][]byte
	var sizes []uint64
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading volume %s: %w", name, err)
		}
		volumePaths = append(volumePaths, name)
		blobs = append(blobs, data)
		sizes = append(sizes, uint64(len(data)))
	}

	totalSize := int64(0)
	for _, s := range sizes {
		totalSize += int64(s)
	}

	src := bytesource.Concat(blobs)
	entries, err := archivemeta.ListFilesRAR(src, totalSize, sizes)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	for _, e := range entries {
		if e.IsDirectory {
			continue
		}
		if e.CompressionMethod != 0 {
			fmt.Printf("skipping %s (compressed, not stored)\n", e.Path)
			continue
		}
		if err := extractStored(e, volumePaths, outDir); err != nil {
			return err
		}
		log.Info().Str("path", e.Path).Uint64("bytes", e.UncompressedSize).Msg("extracted")
	}

	return nil
}

func extractStored(e archivemeta.RarFileEntry, volumePaths []string, outDir string) error {
	outPath := filepath.Join(outDir, e.Path)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir for %s: %w", e.Path, err)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	parts := e.SplitParts
	if len(parts) == 0 {
		parts = []archivemeta.SplitPart{{
			VolumeIndex:       e.VolumeIndex,
			DataStartPosition: e.DataPosition,
			DataSize:          e.CompressedSize,
		}}
	}

	for _, p := range parts {
		if int(p.VolumeIndex) >= len(volumePaths) {
			return fmt.Errorf("%s: split part references volume %d beyond %d known volumes", e.Path, p.VolumeIndex, len(volumePaths))
		}
		volPath := volumePaths[p.VolumeIndex]
		vf, err := os.Open(volPath)
		if err != nil {
			return fmt.Errorf("open volume %s: %w", volPath, err)
		}

		// Volume boundaries are absolute within the concatenated
		// stream; DataStartPosition must be translated back to an
		// offset within this single volume file.
		localOffset := p.DataStartPosition - cumulativeSize(volumePaths, p.VolumeIndex)
		if _, err := vf.Seek(int64(localOffset), io.SeekStart); err != nil {
			vf.Close()
			return fmt.Errorf("seek %s: %w", volPath, err)
		}
		if _, err := io.CopyN(out, vf, int64(p.DataSize)); err != nil {
			vf.Close()
			return fmt.Errorf("copy part of %s from %s: %w", e.Path, volPath, err)
		}
		vf.Close()
	}
	return nil
}

func cumulativeSize(volumePaths []string, upTo uint32) uint64 {
	var sum uint64
	for i := uint32(0); i < upTo && int(i) < len(volumePaths); i++ {
		info, err := os.Stat(volumePaths[i])
		if err != nil {
			continue
		}
		sum += uint64(info.Size())
	}
	return sum
}

type osFS struct{}

func (osFS) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}
