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

// Package metadata parses the sidecar JSON that Google Takeout ships next
// to each media file and translates it into EXIF tag assignments.
package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/takeoutfix/takeoutfix/exiftags"
)

// Timestamp is a point in time in Google's sidecar format.
type Timestamp struct {
	// Unix timestamp in seconds, as a decimal string
	Timestamp string `json:"timestamp"`
	// Human-readable formatted date
	Formatted string `json:"formatted"`
}

// GeoData is a coordinate record in Google's sidecar format. Google writes
// (0, 0) when a photo has no location, so a zero coordinate pair means
// "absent" rather than the Gulf of Guinea.
type GeoData struct {
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Altitude      float64 `json:"altitude"`
	LatitudeSpan  float64 `json:"latitudeSpan"`
	LongitudeSpan float64 `json:"longitudeSpan"`
}

// Supplemental is the Google Photos sidecar metadata schema. Parsing is
// strict: an unrecognized top-level field fails with *UnknownFieldError so
// that format changes on Google's side surface loudly instead of dropping
// data silently. Fields typed as json.RawMessage are accepted for schema
// completeness but never translated into tags.
type Supplemental struct {
	Title              *string         `json:"title"`
	Description        string          `json:"description"`
	ImageViews         string          `json:"imageViews"`
	CreationTime       *Timestamp      `json:"creationTime"`
	PhotoTakenTime     *Timestamp      `json:"photoTakenTime"`
	GeoData            *GeoData        `json:"geoData"`
	GeoDataExif        *GeoData        `json:"geoDataExif"`
	URL                string          `json:"url"`
	GooglePhotosOrigin json.RawMessage `json:"googlePhotosOrigin"`
	People             json.RawMessage `json:"people"`
	Enrichments        json.RawMessage `json:"enrichments"`
	Favorited          bool            `json:"favorited"`
	Archived           bool            `json:"archived"`
	Trashed            bool            `json:"trashed"`
	AppSource          json.RawMessage `json:"appSource"`
}

// ParseError is a generic failure to parse sidecar JSON. It carries the
// full offending JSON so it can be attached to a bug report.
type ParseError struct {
	Message string
	JSON    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing supplemental metadata: %s; this may be a new Takeout format -- offending JSON follows\n%s",
		e.Message, e.JSON)
}

// UnknownFieldError means the sidecar JSON contained a top-level field this
// schema does not know about. It names the field and carries the full JSON
// so the schema can be extended for future export-format changes.
type UnknownFieldError struct {
	Field string
	JSON  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in supplemental metadata; the schema may need updating for a new Takeout format -- offending JSON follows\n%s",
		e.Field, e.JSON)
}

// TagWriter is the capability the translator writes into. The concrete
// implementation (exiftags.Tags) owns the binary container details.
type TagWriter interface {
	SetDescription(description string) error
	SetDateTimeOriginal(value string) error
	SetGPSPosition(latRef string, lat exiftags.DMS, lonRef string, lon exiftags.DMS) error
	SetGPSAltitude(belowSeaLevel bool, altitude exiftags.Rational) error
}

// Parse decodes sidecar JSON into the strict schema.
func Parse(jsonText string) (*Supplemental, error) {
	dec := json.NewDecoder(strings.NewReader(jsonText))
	dec.DisallowUnknownFields()

	var meta Supplemental
	if err := dec.Decode(&meta); err != nil {
		if field, ok := unknownFieldName(err); ok {
			return nil, &UnknownFieldError{Field: field, JSON: jsonText}
		}
		return nil, &ParseError{Message: err.Error(), JSON: jsonText}
	}
	if meta.Title == nil {
		return nil, &ParseError{Message: `missing field "title"`, JSON: jsonText}
	}
	return &meta, nil
}

// unknownFieldName digs the field name out of encoding/json's unknown-field
// error, which is reported only as message text.
func unknownFieldName(err error) (string, bool) {
	const marker = `unknown field "`
	msg := err.Error()
	start := strings.Index(msg, marker)
	if start < 0 {
		return "", false
	}
	rest := msg[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// Apply parses sidecar JSON and writes the tags it implies into w. Tags
// already present on w are only touched where the sidecar provides a value;
// everything else is left alone so translation composes with whatever the
// image already carried.
func Apply(jsonText string, w TagWriter) error {
	meta, err := Parse(jsonText)
	if err != nil {
		return err
	}
	return meta.Apply(w)
}

// Apply writes the tag assignments this metadata implies into w.
func (m *Supplemental) Apply(w TagWriter) error {
	if m.Description != "" {
		if err := w.SetDescription(m.Description); err != nil {
			return err
		}
	}

	if m.PhotoTakenTime != nil {
		// a timestamp that doesn't parse as an integer skips only this tag
		if unix, err := strconv.ParseInt(m.PhotoTakenTime.Timestamp, 10, 64); err == nil {
			if err := w.SetDateTimeOriginal(ExifDateTime(unix)); err != nil {
				return err
			}
		}
	}

	if geo := m.GeoData; geo != nil && (geo.Latitude != 0 || geo.Longitude != 0) {
		latRef, lat := DegreesToDMS(geo.Latitude, true)
		lonRef, lon := DegreesToDMS(geo.Longitude, false)
		if err := w.SetGPSPosition(latRef, lat, lonRef, lon); err != nil {
			return err
		}

		if geo.Altitude != 0 {
			altitude := exiftags.Rational{
				Numerator:   uint32(math.Abs(geo.Altitude) * 1000), //nolint:gosec
				Denominator: 1000,
			}
			if err := w.SetGPSAltitude(geo.Altitude < 0, altitude); err != nil {
				return err
			}
		}
	}

	return nil
}

// ExifDateTime formats a Unix-epoch second count as an EXIF datetime string
// ("YYYY:MM:DD HH:MM:SS"), always in UTC.
func ExifDateTime(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format("2006:01:02 15:04:05")
}

// DegreesToDMS converts decimal degrees to the EXIF degree/minute/second
// rationals plus the hemisphere reference ("N"/"S" for latitude, "E"/"W"
// for longitude; non-negative values are "N"/"E"). Seconds keep 3 decimal
// places (scaled x1000 over denominator 1000) so the fractional remainder
// isn't lost to rounding.
func DegreesToDMS(decimal float64, isLatitude bool) (ref string, dms exiftags.DMS) {
	if isLatitude {
		ref = "N"
		if decimal < 0 {
			ref = "S"
		}
	} else {
		ref = "E"
		if decimal < 0 {
			ref = "W"
		}
	}

	abs := math.Abs(decimal)
	degrees := math.Floor(abs)
	minutesFloat := (abs - degrees) * 60
	minutes := math.Floor(minutesFloat)
	seconds := (minutesFloat - minutes) * 60

	dms = exiftags.DMS{
		{Numerator: uint32(degrees), Denominator: 1},
		{Numerator: uint32(minutes), Denominator: 1},
		{Numerator: uint32(math.Round(seconds * 1000)), Denominator: 1000},
	}
	return ref, dms
}
