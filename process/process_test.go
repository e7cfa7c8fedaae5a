package process

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/takeoutfix/takeoutfix/takeout"
)

const testPrefix = "Takeout/Google Photos/"

const sidecarJSON = `{
  "title": "photo.jpg",
  "description": "A test photo",
  "photoTakenTime": {"timestamp": "1563032119", "formatted": "Jul 13, 2019, 3:35:19 PM UTC"},
  "geoData": {"latitude": 46.7234, "longitude": 7.9871, "altitude": 150.5, "latitudeSpan": 0.0, "longitudeSpan": 0.0}
}`

type archiveEntry struct {
	name string
	data []byte
}

// fixtureEntries is one album with a photo that has a sidecar and a video
// that does not. The photo bytes are deliberately not a valid JPEG, so the
// tag-embedding step degrades to a verbatim copy and the output is the same
// regardless of container kind.
func fixtureEntries() []archiveEntry {
	return []archiveEntry{
		{name: "Takeout/Google Photos/Album/photo.jpg", data: []byte("jpeg bytes")},
		{name: "Takeout/Google Photos/Album/photo.jpg.supplemental-metadata.json", data: []byte(sidecarJSON)},
		{name: "Takeout/Google Photos/Album/clip.mp4", data: []byte("video bytes")},
	}
}

func writeZipArchive(t *testing.T, archivePath string, entries []archiveEntry) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := zw.Create(entry.name)
		if err != nil {
			t.Fatalf("creating zip entry %s: %v", entry.name, err)
		}
		if _, err := w.Write(entry.data); err != nil {
			t.Fatalf("writing zip entry %s: %v", entry.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip writer: %v", err)
	}
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTarGzArchive(t *testing.T, archivePath string, entries []archiveEntry) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, entry := range entries {
		hdr := &tar.Header{Name: entry.name, Mode: 0o644, Size: int64(len(entry.data))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header %s: %v", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			t.Fatalf("writing tar entry %s: %v", entry.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runArchive(t *testing.T, archivePath string, opts Options) Stats {
	t.Helper()

	ctx := context.Background()
	tk := takeout.New()
	if err := takeout.LoadArchive(ctx, tk, archivePath, testPrefix); err != nil {
		t.Fatalf("LoadArchive failed: %v", err)
	}

	stats, err := Run(ctx, tk, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return stats
}

// readTree returns every file under root keyed by slash-separated relative
// path.
func readTree(t *testing.T, root string) map[string][]byte {
	t.Helper()

	tree := make(map[string][]byte)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return tree
}

func checkFixtureStats(t *testing.T, stats Stats) {
	t.Helper()

	if stats.MediaProcessed != 2 {
		t.Errorf("MediaProcessed = %d, want 2", stats.MediaProcessed)
	}
	if stats.ImagesWithMetadata != 1 {
		t.Errorf("ImagesWithMetadata = %d, want 1", stats.ImagesWithMetadata)
	}
	if stats.MetadataApplied != 1 {
		t.Errorf("MetadataApplied = %d, want 1", stats.MetadataApplied)
	}
	if stats.VideosCopied != 1 {
		t.Errorf("VideosCopied = %d, want 1", stats.VideosCopied)
	}
	if stats.CopiedWithoutMetadata != 1 {
		t.Errorf("CopiedWithoutMetadata = %d, want 1", stats.CopiedWithoutMetadata)
	}
	if stats.UnusedMetadataFiles != 0 {
		t.Errorf("UnusedMetadataFiles = %d, want 0", stats.UnusedMetadataFiles)
	}
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
}

func TestRunZipArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "takeout-001.zip")
	writeZipArchive(t, archivePath, fixtureEntries())

	output := filepath.Join(dir, "out")
	stats := runArchive(t, archivePath, Options{OutputDir: output, PathPrefix: testPrefix})
	checkFixtureStats(t, stats)

	tree := readTree(t, output)
	if string(tree["Album/photo.jpg"]) != "jpeg bytes" {
		t.Errorf("photo content: %q", tree["Album/photo.jpg"])
	}
	if string(tree["Album/clip.mp4"]) != "video bytes" {
		t.Errorf("video content: %q", tree["Album/clip.mp4"])
	}
	if len(tree) != 2 {
		t.Errorf("output tree has %d files, want 2: %v", len(tree), tree)
	}
}

func TestRunContainerKindsAgree(t *testing.T) {
	// the same takeout delivered as zip or tar.gz must produce the same
	// output tree and the same counters
	dir := t.TempDir()

	zipPath := filepath.Join(dir, "takeout-001.zip")
	writeZipArchive(t, zipPath, fixtureEntries())
	zipOut := filepath.Join(dir, "out-zip")
	zipStats := runArchive(t, zipPath, Options{OutputDir: zipOut, PathPrefix: testPrefix})

	tarPath := filepath.Join(dir, "takeout-001.tar.gz")
	writeTarGzArchive(t, tarPath, fixtureEntries())
	tarOut := filepath.Join(dir, "out-tar")
	tarStats := runArchive(t, tarPath, Options{OutputDir: tarOut, PathPrefix: testPrefix})

	checkFixtureStats(t, zipStats)
	if zipStats != tarStats {
		t.Errorf("stats differ: zip %+v, tar.gz %+v", zipStats, tarStats)
	}

	zipTree := readTree(t, zipOut)
	tarTree := readTree(t, tarOut)
	if len(zipTree) != len(tarTree) {
		t.Fatalf("tree sizes differ: zip %d, tar.gz %d", len(zipTree), len(tarTree))
	}
	for rel, data := range zipTree {
		if !bytes.Equal(data, tarTree[rel]) {
			t.Errorf("content of %s differs between container kinds", rel)
		}
	}
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "takeout-001.zip")
	writeZipArchive(t, archivePath, fixtureEntries())

	output := filepath.Join(dir, "out")
	stats := runArchive(t, archivePath, Options{OutputDir: output, PathPrefix: testPrefix, DryRun: true})
	checkFixtureStats(t, stats)

	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("dry run must not create the output directory; stat err = %v", err)
	}
}

func TestRunUnusedSidecar(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "takeout-001.zip")
	writeZipArchive(t, archivePath, []archiveEntry{
		{name: "Takeout/Google Photos/Album/clip.mp4", data: []byte("video bytes")},
		{name: "Takeout/Google Photos/Album/gone.jpg.supplemental-metadata.json", data: []byte(`{"title": "gone.jpg"}`)},
	})

	output := filepath.Join(dir, "out")
	stats := runArchive(t, archivePath, Options{OutputDir: output, PathPrefix: testPrefix})

	if stats.UnusedMetadataFiles != 1 {
		t.Errorf("UnusedMetadataFiles = %d, want 1", stats.UnusedMetadataFiles)
	}
	// an orphaned sidecar is a warning, not an error
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.VideosCopied != 1 {
		t.Errorf("VideosCopied = %d, want 1", stats.VideosCopied)
	}
}

func TestRunBadSidecarCountsError(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "takeout-001.zip")
	writeZipArchive(t, archivePath, []archiveEntry{
		{name: "Takeout/Google Photos/Album/photo.jpg", data: []byte("jpeg bytes")},
		{name: "Takeout/Google Photos/Album/photo.jpg.supplemental-metadata.json",
			data: []byte(`{"title": "photo.jpg", "futureField": true}`)},
	})

	output := filepath.Join(dir, "out")
	stats := runArchive(t, archivePath, Options{OutputDir: output, PathPrefix: testPrefix})

	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.MetadataApplied != 0 {
		t.Errorf("MetadataApplied = %d, want 0", stats.MetadataApplied)
	}
	if _, err := os.Stat(filepath.Join(output, "Album")); !os.IsNotExist(err) {
		t.Errorf("failed file must not leave an album directory behind; stat err = %v", err)
	}
}

func TestAlbumPath(t *testing.T) {
	for _, test := range []struct {
		archivePath string
		expect      string
	}{
		{"Takeout/Google Photos/Album/photo.jpg", "Album"},
		{"Takeout/Google Photos/Album/Nested/photo.jpg", "Album/Nested"},
		{"Takeout/Google Photos/photo.jpg", ""},
	} {
		if actual := albumPath(test.archivePath, testPrefix); actual != test.expect {
			t.Errorf("albumPath(%q) = %q, want %q", test.archivePath, actual, test.expect)
		}
	}
}

func TestMediaClassification(t *testing.T) {
	for path, expect := range map[string]bool{
		"photo.jpg":  true,
		"photo.HEIC": true,
		"clip.mp4":   true,
		"clip.MOV":   true,
		"notes.json": false,
		"index.html": false,
	} {
		if actual := isMediaFile(path); actual != expect {
			t.Errorf("isMediaFile(%q) = %v, want %v", path, actual, expect)
		}
	}
	if isImageFile("clip.mp4") {
		t.Error("video classified as image")
	}
	if !isVideoFile("clip.webm") {
		t.Error("webm not classified as video")
	}
}
