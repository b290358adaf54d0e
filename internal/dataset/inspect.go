// Package dataset reads repository package databases (<repo>.db.tar.*).
package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/mirrorcheck/internal/safety"
)

// MaxDecompressedSize bounds how much a single database may expand to.
const MaxDecompressedSize int64 = 512 << 20

// Compression names the container format of a database archive.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionXZ   Compression = "xz"
	CompressionZstd Compression = "zstd"
)

// Package is one entry of a package database.
type Package struct {
	Name    string
	Version string
}

// Summary describes a decoded package database.
type Summary struct {
	Compression Compression
	Packages    []Package
}

// Detect identifies the compression format by magic number.
func Detect(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return CompressionZstd
	case bytes.HasPrefix(data, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		return CompressionXZ
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// Decompress returns the tar stream inside data. Uncompressed input is
// returned as-is.
func Decompress(data []byte) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	kind := Detect(data)
	switch kind {
	case CompressionZstd:
		dec, derr := zstd.NewReader(bytes.NewReader(data))
		if derr != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", derr)
		}
		defer dec.Close()
		r = dec
	case CompressionXZ:
		r, err = xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
	case CompressionGzip:
		gz, gerr := gzip.NewReader(bytes.NewReader(data))
		if gerr != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", gerr)
		}
		defer func() {
			_ = gz.Close()
		}()
		r = gz
	default:
		return data, nil
	}

	out, err := safety.ReadAllWithLimit(r, MaxDecompressedSize)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%s payload exceeded %d bytes after decompression: %w", kind, MaxDecompressedSize, err)
		}
		return nil, fmt.Errorf("decompressing %s: %w", kind, err)
	}
	return out, nil
}

// Inspect decodes a package database and lists the packages it describes,
// sorted by name.
func Inspect(data []byte) (*Summary, error) {
	raw, err := Decompress(data)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Compression: Detect(data)}
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading database archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != "desc" {
			continue
		}
		pkg, err := parseDesc(tr)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", hdr.Name, err)
		}
		if pkg.Name == "" {
			return nil, fmt.Errorf("parsing %s: missing %%NAME%%", hdr.Name)
		}
		summary.Packages = append(summary.Packages, pkg)
	}

	sort.Slice(summary.Packages, func(i, j int) bool {
		return summary.Packages[i].Name < summary.Packages[j].Name
	})
	return summary, nil
}

// parseDesc reads the %NAME% and %VERSION% sections of a desc file.
// Each section is a %KEY% line followed by values up to a blank line.
func parseDesc(r io.Reader) (Package, error) {
	var pkg Package
	section := ""
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			section = ""
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") && len(line) > 2:
			section = line
		case section == "%NAME%" && pkg.Name == "":
			pkg.Name = line
		case section == "%VERSION%" && pkg.Version == "":
			pkg.Version = line
		}
	}
	return pkg, sc.Err()
}
