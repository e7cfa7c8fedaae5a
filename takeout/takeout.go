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

// Package takeout indexes the contents of a Google Takeout export that may
// span several archive files, and knows how to get bytes back out of those
// archives regardless of whether the container supports random access.
package takeout

import (
	"fmt"
	"path"
	"strings"
)

// ArchiveKind distinguishes containers that can serve any entry on demand
// from containers that can only be read front to back.
type ArchiveKind int

const (
	// KindSeekable containers (zip) serve entries by index in any order.
	KindSeekable ArchiveKind = iota

	// KindSequential containers (gzipped tar) are a compressed stream; once
	// an entry has gone by it cannot be revisited, so entries must be
	// collected during a single forward pass.
	KindSequential
)

func (k ArchiveKind) String() string {
	if k == KindSequential {
		return "sequential"
	}
	return "seekable"
}

// ArchiveFile is one file found inside one source archive. It is created
// during the scan phase and never modified afterward.
type ArchiveFile struct {
	// ArchivePath is the path of the entry as recorded inside its container,
	// e.g. "Takeout/Google Photos/Album/photo.jpg". It is the unique key of
	// the whole takeout.
	ArchivePath string

	// SourceArchive is the on-disk path of the archive containing the entry.
	SourceArchive string

	// Kind is the container kind of SourceArchive.
	Kind ArchiveKind

	// Index is the position of the entry within its archive. For seekable
	// archives it is used for random-access retrieval; for sequential
	// archives it is informational only and entries are re-located by path
	// during a forward pass.
	Index int

	// Size is the declared (uncompressed) byte length.
	Size int64
}

// FileName returns the last component of the archive path.
func (f *ArchiveFile) FileName() string {
	return path.Base(f.ArchivePath)
}

// ParentPath returns the directory portion of the archive path, without a
// trailing slash, or "" for a top-level entry.
func (f *ArchiveFile) ParentPath() string {
	dir := path.Dir(f.ArchivePath)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// IsMetadata reports whether the entry is a JSON metadata file of any sort.
func (f *ArchiveFile) IsMetadata() bool {
	return strings.HasSuffix(strings.ToLower(f.ArchivePath), ".json")
}

// IsSupplementalMetadata reports whether the entry is a sidecar metadata
// file for a media file.
func (f *ArchiveFile) IsSupplementalMetadata() bool {
	return IsSupplementalMetadata(f.ArchivePath)
}

// DuplicateFileError is returned when two archives contain an entry with the
// same path. This is a hard failure: it means the input archives cover
// overlapping export ranges, and picking one silently would drop data
// inconsistently.
type DuplicateFileError struct {
	Path            string
	ExistingArchive string
	NewArchive      string
}

func (e *DuplicateFileError) Error() string {
	return fmt.Sprintf("duplicate file %q found in archives %q and %q",
		e.Path, e.ExistingArchive, e.NewArchive)
}

// SourceArchive identifies one input archive contributing to a takeout.
type SourceArchive struct {
	Path string
	Kind ArchiveKind
}

// Takeout is the in-memory catalog of every file found across all input
// archives, keyed by in-archive path. Paths are unique across the whole
// takeout, even across different source archives.
type Takeout struct {
	files map[string]*ArchiveFile

	// lowerKeys maps the lowercased archive path to the canonical key so
	// that sidecar lookups can be case-insensitive without weakening the
	// case-exact uniqueness invariant.
	lowerKeys map[string]string

	sourceArchives []SourceArchive
}

// New returns an empty takeout index.
func New() *Takeout {
	return &Takeout{
		files:     make(map[string]*ArchiveFile),
		lowerKeys: make(map[string]string),
	}
}

// AddSourceArchive registers an archive as contributing to this takeout.
// Registering the same path twice is a no-op.
func (t *Takeout) AddSourceArchive(archivePath string, kind ArchiveKind) {
	for _, src := range t.sourceArchives {
		if src.Path == archivePath {
			return
		}
	}
	t.sourceArchives = append(t.sourceArchives, SourceArchive{Path: archivePath, Kind: kind})
}

// SourceArchives returns the registered input archives in registration order.
func (t *Takeout) SourceArchives() []SourceArchive {
	return t.sourceArchives
}

// Insert adds an entry to the index. It fails with a *DuplicateFileError if
// an entry with the same archive path already exists.
func (t *Takeout) Insert(f *ArchiveFile) error {
	if existing, ok := t.files[f.ArchivePath]; ok {
		return &DuplicateFileError{
			Path:            f.ArchivePath,
			ExistingArchive: existing.SourceArchive,
			NewArchive:      f.SourceArchive,
		}
	}
	t.files[f.ArchivePath] = f
	// paths differing only in case are distinct entries; the first one
	// indexed claims the case-insensitive key, so lookup results don't
	// depend on which archive happened to load last
	lower := strings.ToLower(f.ArchivePath)
	if _, ok := t.lowerKeys[lower]; !ok {
		t.lowerKeys[lower] = f.ArchivePath
	}
	return nil
}

// Get returns the entry with the exact archive path, or nil.
func (t *Takeout) Get(archivePath string) *ArchiveFile {
	return t.files[archivePath]
}

// Len returns the number of indexed entries.
func (t *Takeout) Len() int {
	return len(t.files)
}

// Files returns all indexed entries in no particular order.
func (t *Takeout) Files() []*ArchiveFile {
	all := make([]*ArchiveFile, 0, len(t.files))
	for _, f := range t.files {
		all = append(all, f)
	}
	return all
}

// SupplementalMetadataFiles returns all sidecar metadata entries in no
// particular order.
func (t *Takeout) SupplementalMetadataFiles() []*ArchiveFile {
	var metas []*ArchiveFile
	for _, f := range t.files {
		if f.IsSupplementalMetadata() {
			metas = append(metas, f)
		}
	}
	return metas
}

// FilesInDirectory returns all entries whose path is below the given
// directory path within the archive.
func (t *Takeout) FilesInDirectory(dirPath string) []*ArchiveFile {
	prefix := dirPath
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var files []*ArchiveFile
	for _, f := range t.files {
		if strings.HasPrefix(f.ArchivePath, prefix) {
			files = append(files, f)
		}
	}
	return files
}

// FindMetadataFor returns the sidecar metadata entry for a media file, or
// nil if the takeout has none. Google's exporter truncates the sidecar
// filename at an arbitrary length, so every known truncation variant is
// tried, longest first; matching is case-insensitive.
func (t *Takeout) FindMetadataFor(mediaPath string) *ArchiveFile {
	lowerMedia := strings.ToLower(mediaPath)
	for _, suffix := range supplementalSuffixes {
		candidate := lowerMedia + suffix + "json"
		if key, ok := t.lowerKeys[candidate]; ok {
			return t.files[key]
		}
	}
	return nil
}
