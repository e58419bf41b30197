package archivemeta

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"
)

// knownExtension matches filenames this module can dispatch without
// PAR2-based name recovery (spec.md section 4.6).
var knownExtension = regexp.MustCompile(`(?i)\.(part\d+\.rar|rar|r\d{2}|s\d{2}|7z|7z\.\d{3})$`)

// ListFiles is the dispatcher entry point: it optionally resolves
// obfuscated volume names via PAR2, detects the archive format, and
// invokes the matching parser over the concatenated stream.
//
// volumes must be in archive order; their Size fields determine the
// total concatenated size and, for RAR formats, enable split-position
// inference. par2Bytes may be nil when no side-channel data is
// available.
func ListFiles(src ByteSource, volumes []VolumeDescriptor, par2Bytes []byte) ([]FileEntry, error) {
	resolved, err := resolveNames(volumes, par2Bytes)
	if err != nil {
		return nil, err
	}

	archiveType, err := detectFromDescriptors(src, resolved)
	if err != nil {
		return nil, err
	}

	totalSize := int64(0)
	volumeSizes := make([]uint64, len(resolved))
	for i, v := range resolved {
		totalSize += int64(v.Size)
		volumeSizes[i] = v.Size
	}

	switch archiveType {
	case ArchiveRAR4, ArchiveRAR5:
		rarEntries, err := ListFilesRAR(src, totalSize, volumeSizes)
		if err != nil {
			return nil, err
		}
		out := make([]FileEntry, len(rarEntries))
		for i := range rarEntries {
			e := rarEntries[i]
			out[i] = FileEntry{Rar: &e}
		}
		return out, nil
	case ArchiveSevenZip:
		zEntries, err := ListFiles7z(src)
		if err != nil {
			return nil, err
		}
		out := make([]FileEntry, len(zEntries))
		for i := range zEntries {
			e := zEntries[i]
			out[i] = FileEntry{SevenZip: &e}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unrecognized archive type", ErrTypeUnknown)
	}
}

// resolveNames rewrites volume filenames using PAR2 FileDesc packets
// when at least one descriptor lacks a known archive extension
// (spec.md section 4.6 step 1).
func resolveNames(volumes []VolumeDescriptor, par2Bytes []byte) ([]VolumeDescriptor, error) {
	if len(par2Bytes) == 0 {
		return volumes, nil
	}

	needsResolution := false
	for _, v := range volumes {
		if !knownExtension.MatchString(v.Filename) {
			needsResolution = true
			break
		}
	}
	if !needsResolution {
		return volumes, nil
	}

	info, err := ParsePar2(par2Bytes)
	if err != nil {
		return nil, err
	}

	byHash16k := make(map[string]string, len(info.Files))
	for _, f := range info.Files {
		byHash16k[hex.EncodeToString(f.Hash16k[:])] = f.Filename
	}

	out := make([]VolumeDescriptor, len(volumes))
	copy(out, volumes)

	// Hashing each descriptor's first 16KB is independent work; fan it
	// out so resolving a large obfuscated volume set doesn't serialize
	// on MD5 of every candidate.
	var g errgroup.Group
	for i := range out {
		i := i
		if len(out[i].First16KB) == 0 {
			continue
		}
		g.Go(func() error {
			sum := md5.Sum(out[i].First16KB)
			if name, ok := byHash16k[hex.EncodeToString(sum[:])]; ok {
				out[i].Filename = name
			}
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

// detectFromDescriptors follows spec.md section 4.6 step 2: filename
// extension first, then magic bytes from the stream itself.
func detectFromDescriptors(src ByteSource, volumes []VolumeDescriptor) (ArchiveType, error) {
	if len(volumes) > 0 {
		name := strings.ToLower(volumes[0].Filename)
		switch {
		case strings.HasSuffix(name, ".7z") || strings.Contains(name, ".7z."):
			return ArchiveSevenZip, nil
		case strings.HasSuffix(name, ".rar"), isOldStyleRARVolume(name):
			// Extension says RAR; still confirm RAR4 vs RAR5 by magic
			// below since the extension alone can't distinguish them.
		}
		if len(volumes[0].First16KB) > 0 {
			if t, _ := DetectType(volumes[0].First16KB); t != ArchiveUnknown {
				return t, nil
			}
		}
	}

	if err := src.Seek(0); err != nil {
		return ArchiveUnknown, fmt.Errorf("seek to start for detection: %w", err)
	}
	head := make([]byte, 32)
	n, err := src.Read(head)
	if err != nil && n == 0 {
		return ArchiveUnknown, fmt.Errorf("%w: reading magic bytes: %v", ErrTruncatedInput, err)
	}
	if err := src.Seek(0); err != nil {
		return ArchiveUnknown, fmt.Errorf("rewinding after detection probe: %w", err)
	}

	t, _ := DetectType(head[:n])
	if t == ArchiveUnknown {
		return ArchiveUnknown, fmt.Errorf("%w: no matching filename extension or magic", ErrTypeUnknown)
	}
	return t, nil
}

var oldStyleRARPattern = regexp.MustCompile(`(?i)\.[rs]\d{2}$`)

func isOldStyleRARVolume(name string) bool {
	return oldStyleRARPattern.MatchString(name)
}
