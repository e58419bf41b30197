// Package voldiscover implements the volume filename discovery
// collaborator spec.md section 6 calls out as external but describes:
// given one archive filename, find the rest of its set by directory
// listing and naming convention.
package voldiscover

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	partPattern   = regexp.MustCompile(`(?i)^(.*)\.part(\d+)\.rar$`)
	rarExtPattern = regexp.MustCompile(`(?i)^(.*)\.rar$`)
	oldStylePattern = regexp.MustCompile(`(?i)^(.*)\.([rst])(\d{2})$`)
	sevenZPattern = regexp.MustCompile(`(?i)^(.*)\.7z\.(\d{3})$`)
)

// FS is the minimal directory-reading capability this package needs: the
// ReadDir method of fs.ReadDirFS. The commands satisfy it with a thin
// wrapper over os.ReadDir.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
}

// Volumes returns every sibling volume file belonging to the same
// archive set as first, sorted in volume order, including first
// itself. If first does not match a known multi-volume convention, the
// result is just {first}.
func Volumes(fsys FS, dir, first string) ([]string, error) {
	base := filepath.Base(first)

	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var prefix string
	var kind string
	switch {
	case partPattern.MatchString(base):
		prefix = partPattern.FindStringSubmatch(base)[1]
		kind = "part"
	case sevenZPattern.MatchString(base):
		prefix = sevenZPattern.FindStringSubmatch(base)[1]
		kind = "7z"
	case oldStylePattern.MatchString(base):
		m := oldStylePattern.FindStringSubmatch(base)
		prefix = m[1]
		kind = "old"
	case rarExtPattern.MatchString(base):
		prefix = rarExtPattern.FindStringSubmatch(base)[1]
		kind = "rarplain"
	default:
		return []string{first}, nil
	}

	type candidate struct {
		name string
		sort int
	}
	var candidates []candidate

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch kind {
		case "part":
			if m := partPattern.FindStringSubmatch(name); m != nil && m[1] == prefix {
				n, _ := strconv.Atoi(m[2])
				candidates = append(candidates, candidate{name, n})
			}
		case "7z":
			if m := sevenZPattern.FindStringSubmatch(name); m != nil && m[1] == prefix {
				n, _ := strconv.Atoi(m[2])
				candidates = append(candidates, candidate{name, n})
			}
		case "old":
			if name == prefix+".rar" {
				candidates = append(candidates, candidate{name, 0})
				continue
			}
			if m := oldStylePattern.FindStringSubmatch(name); m != nil && m[1] == prefix {
				letter := strings.ToLower(m[2])[0]
				n, _ := strconv.Atoi(m[3])
				candidates = append(candidates, candidate{name, (int(letter-'r')+1)*1000 + n})
			}
		case "rarplain":
			if name == prefix+".rar" {
				candidates = append(candidates, candidate{name, 0})
				continue
			}
			if m := oldStylePattern.FindStringSubmatch(name); m != nil && m[1] == prefix {
				letter := strings.ToLower(m[2])[0]
				n, _ := strconv.Atoi(m[3])
				candidates = append(candidates, candidate{name, (int(letter-'r')+1)*1000 + n})
			}
		}
	}

	if len(candidates) == 0 {
		return []string{first}, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sort < candidates[j].sort })

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = filepath.Join(dir, c.name)
	}
	return out, nil
}
