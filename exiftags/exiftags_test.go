package exiftags

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	exif "github.com/dsoprea/go-exif/v3"
)

func TestFormatForPath(t *testing.T) {
	for p, expect := range map[string]Format{
		"photo.jpg":        FormatJPEG,
		"photo.JPG":        FormatJPEG,
		"photo.jpeg":       FormatJPEG,
		"screenshot.png":   FormatPNG,
		"screenshot.PNG":   FormatPNG,
		"clip.mp4":         FormatOther,
		"animation.gif":    FormatOther,
		"photo.heic":       FormatOther,
		"no-extension":     FormatOther,
		"album/photo.jpeg": FormatJPEG,
	} {
		if actual := FormatForPath(p); actual != expect {
			t.Errorf("FormatForPath(%q) = %v, want %v", p, actual, expect)
		}
	}
}

func TestParseGarbageStillUsable(t *testing.T) {
	// an unparseable container still yields a tag set the translator can
	// write into; only embedding is unavailable
	tags := Parse("photo.jpg", []byte("definitely not a jpeg"))
	if tags == nil {
		t.Fatal("Parse returned nil")
	}

	if err := tags.SetDescription("a description"); err != nil {
		t.Errorf("SetDescription failed: %v", err)
	}
	if err := tags.SetDateTimeOriginal("2019:07:13 15:35:19"); err != nil {
		t.Errorf("SetDateTimeOriginal failed: %v", err)
	}
	lat := DMS{{46, 1}, {43, 1}, {24240, 1000}}
	lon := DMS{{7, 1}, {59, 1}, {13560, 1000}}
	if err := tags.SetGPSPosition("N", lat, "E", lon); err != nil {
		t.Errorf("SetGPSPosition failed: %v", err)
	}
	if err := tags.SetGPSAltitude(false, Rational{150500, 1000}); err != nil {
		t.Errorf("SetGPSAltitude failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.jpg")
	if err := tags.WriteFile(dest); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("WriteFile = %v, want ErrUnsupportedFormat", err)
	}
}

func TestWriteFileEmbedsTags(t *testing.T) {
	// a real (if tiny) JPEG, so the tags actually land in the output file
	// and can be read back out of it
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil); err != nil {
		t.Fatalf("encoding fixture image: %v", err)
	}

	tags := Parse("photo.jpg", buf.Bytes())
	if err := tags.SetDescription("A test photo"); err != nil {
		t.Fatalf("SetDescription failed: %v", err)
	}
	if err := tags.SetDateTimeOriginal("2019:07:13 15:35:19"); err != nil {
		t.Fatalf("SetDateTimeOriginal failed: %v", err)
	}
	lat := DMS{{46, 1}, {43, 1}, {24240, 1000}}
	lon := DMS{{7, 1}, {59, 1}, {13560, 1000}}
	if err := tags.SetGPSPosition("N", lat, "E", lon); err != nil {
		t.Fatalf("SetGPSPosition failed: %v", err)
	}
	if err := tags.SetGPSAltitude(false, Rational{150500, 1000}); err != nil {
		t.Fatalf("SetGPSAltitude failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out.jpg")
	if err := tags.WriteFile(dest); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		t.Fatalf("output has no EXIF block: %v", err)
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		t.Fatalf("reading tags back: %v", err)
	}

	found := make(map[string]string)
	for _, entry := range entries {
		found[entry.TagName] = entry.Formatted
	}
	for name, want := range map[string]string{
		"ImageDescription": "A test photo",
		"DateTimeOriginal": "2019:07:13 15:35:19",
		"GPSLatitudeRef":   "N",
		"GPSLongitudeRef":  "E",
	} {
		if found[name] != want {
			t.Errorf("%s = %q, want %q", name, found[name], want)
		}
	}
}

func TestWriteFileUnsupportedFormat(t *testing.T) {
	tags := Parse("photo.webp", []byte("webp bytes"))

	dest := filepath.Join(t.TempDir(), "out.webp")
	if err := tags.WriteFile(dest); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("WriteFile = %v, want ErrUnsupportedFormat", err)
	}
}
