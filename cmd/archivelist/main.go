// Command archivelist prints the file entries of a RAR or 7z archive
// (including all of its volumes) as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/javi11/archivemeta"
	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/rarfmt"
	"github.com/javi11/archivemeta/internal/voldiscover"
)

var (
	jsonOutput bool
	par2Path   string
)

func main() {
	root := &cobra.Command{
		Use:          "archivelist <first-volume>",
		Short:        "List file entries in a RAR or 7z archive",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}
	root.Flags().BoolVar(&jsonOutput, "json", true, "emit machine-readable JSON")
	root.Flags().StringVar(&par2Path, "par2", "", "optional PAR2 index file for obfuscated-name resolution")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := archivelog.New()
	first := args[0]
	dir := filepath.Dir(first)

	names, err := voldiscover.Volumes(osFS{}, dir, first)
	if err != nil {
		return fmt.Errorf("discovering volumes: %w", err)
	}

	var descriptors []archivemeta.VolumeDescriptor
	var blobs [][]byte
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading volume %s: %w", name, err)
		}
		head := data
		if len(head) > 16*1024 {
			head = head[:16*1024]
		}
		descriptors = append(descriptors, archivemeta.VolumeDescriptor{
			Filename:  filepath.Base(name),
			Size:      uint64(len(data)),
			First16KB: head,
		})
		blobs = append(blobs, data)
	}

	var par2Bytes []byte
	if par2Path != "" {
		par2Bytes, err = os.ReadFile(par2Path)
		if err != nil {
			return fmt.Errorf("reading PAR2 index: %w", err)
		}
	}

	src := bytesource.Concat(blobs)
	entries, err := archivemeta.ListFiles(src, descriptors, par2Bytes)
	if err != nil {
		return err
	}

	log.Info().Int("file_count", len(entries)).Str("first_volume", first).Msg("parsed archive")

	return printEntries(entries)
}

func printEntries(entries []archivemeta.FileEntry) error {
	if !jsonOutput {
		for _, e := range entries {
			fmt.Printf("%s\n", e.Path())
		}
		return nil
	}

	type rarView struct {
		Kind string                `json:"kind"`
		Info rarfmt.ArchiveFileInfo `json:"info"`
	}
	type zipView struct {
		Kind string                       `json:"kind"`
		Info archivemeta.SevenZipFileEntry `json:"info"`
	}

	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Rar != nil:
			out = append(out, rarView{Kind: "rar", Info: rarfmt.ToArchiveFileInfo(*e.Rar)})
		case e.SevenZip != nil:
			out = append(out, zipView{Kind: "7z", Info: *e.SevenZip})
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// osFS adapts the local filesystem to voldiscover.FS.
type osFS struct{}

func (osFS) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}
