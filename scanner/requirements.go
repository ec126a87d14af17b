package scanner

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// Declaration is one dependency as declared by an application, before
// identity normalization
type Declaration struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// OpenRequirements wraps r with the decompressor matching the file name
// suffix. Plain files are passed through unchanged.
func OpenRequirements(filename string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(filename, ".gz"):
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, nil
	case strings.HasSuffix(filename, ".xz"):
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xzReader, nil
	default:
		return r, nil
	}
}

// ParseRequirements extracts package declarations from requirements.txt
// content. Comments and blank lines are skipped. Lines without an exact
// "==" pin keep an empty version and resolve to an unresolved entry
// later, since the external source needs an exact version.
func ParseRequirements(r io.Reader) ([]Declaration, error) {
	var declarations []Declaration

	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if idx := strings.Index(line, "=="); idx >= 0 {
			declarations = append(declarations, Declaration{
				Name:    strings.TrimSpace(line[:idx]),
				Version: strings.TrimSpace(line[idx+2:]),
			})
		} else {
			declarations = append(declarations, Declaration{
				Name: line,
			})
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requirements: %w", err)
	}

	return declarations, nil
}
