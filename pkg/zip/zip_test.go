package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssetsRoundTrip(t *testing.T) {
	raw, err := ArchiveAssets([]Asset{
		{Filename: "01-bold.png", MIME: "image/png", Data: []byte("png-bytes")},
		{Filename: "01-bold.png", MIME: "image/png", Data: []byte("second")},
		{Filename: "../captions/02.txt", MIME: "text/plain", Data: []byte("hello")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets() error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]string{
		"01-bold.png":     "png-bytes",
		"01-bold-2.png":   "second",
		"captions/02.txt": "hello",
	}
	if len(zr.File) != len(want) {
		t.Fatalf("files = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		body, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected entry %q", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		got, _ := io.ReadAll(rc)
		rc.Close()
		if string(got) != body {
			t.Fatalf("%s = %q, want %q", f.Name, got, body)
		}
		if f.Name == "01-bold.png" && f.Method != zip.Store {
			t.Fatalf("png should be stored, method=%d", f.Method)
		}
	}
}
