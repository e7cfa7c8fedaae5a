/*
	Takeoutfix
	Copyright (c) 2025

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package exiftags embeds EXIF tag assignments into image files. It wraps
// the container surgery (JPEG segment lists, PNG chunk lists) so the rest
// of the program only deals in "set this tag" and "write the tags into
// that file".
package exiftags

import (
	"bytes"
	"errors"
	"os"
	"path"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	pngstructure "github.com/dsoprea/go-png-image-structure/v2"
)

// Format identifies the image container a tag set can be embedded into.
type Format int

const (
	FormatJPEG Format = iota
	FormatPNG
	FormatOther
)

// FormatForPath guesses the container format from the file extension.
func FormatForPath(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	default:
		return FormatOther
	}
}

// Rational is an unsigned EXIF rational value.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// DMS is a degrees/minutes/seconds triple as stored in GPS tags.
type DMS [3]Rational

// ErrUnsupportedFormat is returned by WriteFile for image formats without
// a supported tag container.
var ErrUnsupportedFormat = errors.New("image format does not support tag embedding")

// Tags is a mutable set of EXIF tag assignments bound to the image bytes it
// was parsed from. Setting tags never clears unrelated tags the image
// already carried.
type Tags struct {
	format Format
	jpeg   *jpegstructure.SegmentList
	png    *pngstructure.ChunkSlice
	rootIb *exif.IfdBuilder
}

// Parse reads any existing EXIF data out of image bytes. It is best-effort
// and never fails: an image whose container cannot be parsed still yields an
// empty, usable tag set; only embedding into the output file (WriteFile)
// will be unavailable for it.
func Parse(imagePath string, data []byte) *Tags {
	t := &Tags{format: FormatForPath(imagePath)}

	switch t.format {
	case FormatJPEG:
		if intfc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data); err == nil {
			t.jpeg = intfc.(*jpegstructure.SegmentList)
			if ib, err := t.jpeg.ConstructExifBuilder(); err == nil {
				t.rootIb = ib
			}
		}
	case FormatPNG:
		if intfc, err := pngstructure.NewPngMediaParser().ParseBytes(data); err == nil {
			t.png = intfc.(*pngstructure.ChunkSlice)
			if ib, err := t.png.ConstructExifBuilder(); err == nil {
				t.rootIb = ib
			}
		}
	}

	if t.rootIb == nil {
		t.rootIb = newRootBuilder()
	}
	return t
}

// newRootBuilder returns a fresh root IFD builder for images that carried
// no parseable EXIF block.
func newRootBuilder() *exif.IfdBuilder {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		// the standard IFD table is compiled in; this cannot fail at runtime
		panic(err)
	}
	return exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
}

// SetDescription sets the image description tag.
func (t *Tags) SetDescription(description string) error {
	ib, err := exif.GetOrCreateIbFromRootIb(t.rootIb, "IFD0")
	if err != nil {
		return err
	}
	return ib.SetStandardWithName("ImageDescription", description)
}

// SetDateTimeOriginal sets the capture-time tag. The value must already be
// in EXIF datetime form ("YYYY:MM:DD HH:MM:SS").
func (t *Tags) SetDateTimeOriginal(value string) error {
	ib, err := exif.GetOrCreateIbFromRootIb(t.rootIb, "IFD/Exif")
	if err != nil {
		return err
	}
	return ib.SetStandardWithName("DateTimeOriginal", value)
}

// SetGPSPosition sets the latitude and longitude tags along with their
// hemisphere references ("N"/"S" and "E"/"W").
func (t *Tags) SetGPSPosition(latRef string, lat DMS, lonRef string, lon DMS) error {
	ib, err := exif.GetOrCreateIbFromRootIb(t.rootIb, "IFD/GPSInfo")
	if err != nil {
		return err
	}
	if err := ib.SetStandardWithName("GPSLatitudeRef", latRef); err != nil {
		return err
	}
	if err := ib.SetStandardWithName("GPSLatitude", exifRationals(lat)); err != nil {
		return err
	}
	if err := ib.SetStandardWithName("GPSLongitudeRef", lonRef); err != nil {
		return err
	}
	return ib.SetStandardWithName("GPSLongitude", exifRationals(lon))
}

// SetGPSAltitude sets the altitude tag and its reference byte (0 = above
// sea level, 1 = below).
func (t *Tags) SetGPSAltitude(belowSeaLevel bool, altitude Rational) error {
	ib, err := exif.GetOrCreateIbFromRootIb(t.rootIb, "IFD/GPSInfo")
	if err != nil {
		return err
	}
	ref := []byte{0}
	if belowSeaLevel {
		ref[0] = 1
	}
	if err := ib.SetStandardWithName("GPSAltitudeRef", ref); err != nil {
		return err
	}
	value := []exifcommon.Rational{{Numerator: altitude.Numerator, Denominator: altitude.Denominator}}
	return ib.SetStandardWithName("GPSAltitude", value)
}

func exifRationals(dms DMS) []exifcommon.Rational {
	out := make([]exifcommon.Rational, len(dms))
	for i, r := range dms {
		out[i] = exifcommon.Rational{Numerator: r.Numerator, Denominator: r.Denominator}
	}
	return out
}

// WriteFile re-renders the image container with the current tag set and
// writes it to destPath. Parse must have seen the original bytes first;
// formats without container support return ErrUnsupportedFormat.
func (t *Tags) WriteFile(destPath string) error {
	buf := new(bytes.Buffer)

	switch {
	case t.jpeg != nil:
		if err := t.jpeg.SetExif(t.rootIb); err != nil {
			return err
		}
		if err := t.jpeg.Write(buf); err != nil {
			return err
		}
	case t.png != nil:
		if err := t.png.SetExif(t.rootIb); err != nil {
			return err
		}
		if err := t.png.WriteTo(buf); err != nil {
			return err
		}
	default:
		return ErrUnsupportedFormat
	}

	return os.WriteFile(destPath, buf.Bytes(), 0o644)
}
