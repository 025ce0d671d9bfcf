// Package zip bundles stored request results into a single archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Asset is one file in the archive.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// Write streams assets into w. Duplicate names get a numeric suffix and
// already-compressed media is stored rather than deflated.
func Write(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(seen, asset.Filename)
		hdr := &zip.FileHeader{Name: name, Method: methodFor(asset.MIME), Modified: asset.Modified}
		if hdr.Modified.IsZero() {
			hdr.Modified = time.Now().UTC()
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// ArchiveAssets returns the archive as bytes.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := Write(buf, assets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func methodFor(mime string) uint16 {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "image/jpeg"), strings.HasPrefix(mime, "image/png"),
		strings.HasPrefix(mime, "image/webp"), strings.HasPrefix(mime, "image/gif"):
		return zip.Store
	}
	return zip.Deflate
}

func uniqueName(seen map[string]int, name string) string {
	name = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if name == "" || name == "." {
		name = "file"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
