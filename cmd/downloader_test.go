package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airframesio/sf-file-export/cmd/compressors"
	"github.com/airframesio/sf-file-export/cmd/salesforce"
	"github.com/pierrec/lz4/v4"
)

type stubBlobs struct {
	bodies map[string]string
	reader io.Reader // served for every locator when set
}

func (s *stubBlobs) BlobURL(locator string) string {
	return "https://acme.my.salesforce.com" + locator
}

func (s *stubBlobs) Get(_ context.Context, url string) (*http.Response, error) {
	if s.reader != nil {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(s.reader)}, nil
	}
	locator := strings.TrimPrefix(url, "https://acme.my.salesforce.com")
	body, ok := s.bodies[locator]
	if !ok {
		return nil, &salesforce.APIError{StatusCode: http.StatusNotFound, URL: url}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestDownloaderWritesFile(t *testing.T) {
	dir := t.TempDir()
	blobs := &stubBlobs{bodies: map[string]string{"/v/068A": "quarterly numbers"}}
	d := NewDownloader(blobs, PathBuilder{Dir: dir, Dialect: DialectPOSIX}, nil, 0, nil, newTestLogger())

	meta := AttachmentMetadata{ID: "069A", Title: "Q3: report", FileExtension: "pdf", PayloadLocator: "/v/068A"}
	outcome := d.Download(context.Background(), meta)

	if !outcome.Success {
		t.Fatalf("download failed: %v", outcome.Err)
	}
	wantPath := filepath.Join(dir, "069A_Q3 report.pdf")
	if outcome.Path != wantPath {
		t.Errorf("expected path %s, got %s", wantPath, outcome.Path)
	}
	if outcome.URL != "https://acme.my.salesforce.com/v/068A" {
		t.Errorf("unexpected URL %s", outcome.URL)
	}
	if outcome.StatusCode != http.StatusOK || outcome.Bytes != int64(len("quarterly numbers")) {
		t.Errorf("unexpected outcome %+v", outcome)
	}

	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "quarterly numbers" {
		t.Errorf("unexpected content %q", data)
	}
	info, _ := os.Stat(wantPath)
	if info.Mode().Perm() != 0o644 {
		t.Errorf("expected mode 0644, got %v", info.Mode().Perm())
	}
}

func TestDownloaderOverwrites(t *testing.T) {
	dir := t.TempDir()
	paths := PathBuilder{Dir: dir, Dialect: DialectPOSIX}
	meta := AttachmentMetadata{ID: "069A", Title: "notes", FileExtension: "txt", PayloadLocator: "/v/1"}

	existing := paths.Path(meta.ID, meta.Title, meta.FileExtension)
	if err := os.WriteFile(existing, []byte("stale and much longer content"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDownloader(&stubBlobs{bodies: map[string]string{"/v/1": "fresh"}}, paths, nil, 0, nil, newTestLogger())
	if outcome := d.Download(context.Background(), meta); !outcome.Success {
		t.Fatalf("download failed: %v", outcome.Err)
	}

	data, _ := os.ReadFile(existing)
	if string(data) != "fresh" {
		t.Errorf("expected file to be replaced, got %q", data)
	}
}

func TestDownloaderNotFound(t *testing.T) {
	dir := t.TempDir()
	d := NewDownloader(&stubBlobs{}, PathBuilder{Dir: dir}, nil, 0, nil, newTestLogger())

	outcome := d.Download(context.Background(), AttachmentMetadata{ID: "069X", Title: "gone", FileExtension: "pdf", PayloadLocator: "/v/404"})

	if outcome.Success {
		t.Fatal("expected failure")
	}
	if outcome.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", outcome.StatusCode)
	}
	var failure *DownloadFailure
	if !errors.As(outcome.Err, &failure) || failure.AttachmentID != "069X" {
		t.Fatalf("expected DownloadFailure for 069X, got %v", outcome.Err)
	}
	if !strings.Contains(outcome.Reason(), "https://acme.my.salesforce.com/v/404") {
		t.Errorf("expected the URL in the reason, got %q", outcome.Reason())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files after a failed download, found %d", len(entries))
	}
}

func TestDownloaderReadFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	blobs := &stubBlobs{reader: io.MultiReader(strings.NewReader("partial"), failingReader{})}
	d := NewDownloader(blobs, PathBuilder{Dir: dir}, nil, 0, nil, newTestLogger())

	outcome := d.Download(context.Background(), AttachmentMetadata{ID: "069A", Title: "big", FileExtension: "bin", PayloadLocator: "/v/1"})

	if outcome.Success || outcome.Err == nil {
		t.Fatal("expected failure when the body cannot be read")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected partial and temp files to be removed, found %d entries", len(entries))
	}
}

func TestDownloaderCompresses(t *testing.T) {
	dir := t.TempDir()
	payload := strings.Repeat("row,value\n", 1000)
	compressor := compressors.NewLZ4Compressor()
	paths := PathBuilder{Dir: dir, Dialect: DialectPOSIX, Suffix: compressor.Extension()}
	mirror := &recordingMirror{}

	d := NewDownloader(&stubBlobs{bodies: map[string]string{"/v/1": payload}}, paths, compressor, compressor.DefaultLevel(), mirror, newTestLogger())
	outcome := d.Download(context.Background(), AttachmentMetadata{ID: "069A", Title: "export", FileExtension: "csv", PayloadLocator: "/v/1"})

	if !outcome.Success {
		t.Fatalf("download failed: %v", outcome.Err)
	}
	if !strings.HasSuffix(outcome.Path, "069A_export.csv.lz4") {
		t.Errorf("unexpected path %s", outcome.Path)
	}
	if outcome.Bytes != int64(len(payload)) {
		t.Errorf("expected uncompressed byte count %d, got %d", len(payload), outcome.Bytes)
	}
	if outcome.MirrorKey == "" {
		t.Error("expected the file to be mirrored")
	}

	stored, err := os.ReadFile(outcome.Path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(lz4.NewReader(bytes.NewReader(stored)))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Error("decompressed payload does not match")
	}
}
