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

package takeout

import (
	"archive/zip"
	"context"
	"fmt"
	"io"

	"github.com/mholt/archives"
)

// Fetcher fetches the bytes of an indexed entry.
type Fetcher interface {
	Fetch(*ArchiveFile) ([]byte, error)
}

// ReaderCache keeps each seekable source archive open for the remainder of
// a run, since random lookups may arrive in any order. It is owned by the
// orchestrator for the duration of one run and is not safe for concurrent
// use.
type ReaderCache struct {
	zips map[string]*zip.ReadCloser
}

// NewReaderCache returns an empty cache. Close must be called when the run
// is over.
func NewReaderCache() *ReaderCache {
	return &ReaderCache{zips: make(map[string]*zip.ReadCloser)}
}

// Fetch returns the bytes of an entry in a seekable archive, opening the
// archive on first access. Entries of sequential archives cannot be fetched
// on demand; they must be captured during a forward pass instead (see
// BuildSidecarCache).
func (c *ReaderCache) Fetch(f *ArchiveFile) ([]byte, error) {
	if f.Kind != KindSeekable {
		return nil, fmt.Errorf("entry %s lives in a sequential archive and cannot be fetched at random", f.ArchivePath)
	}

	zr, ok := c.zips[f.SourceArchive]
	if !ok {
		var err error
		zr, err = zip.OpenReader(f.SourceArchive)
		if err != nil {
			return nil, fmt.Errorf("opening archive %s: %w", f.SourceArchive, err)
		}
		c.zips[f.SourceArchive] = zr
	}

	if f.Index < 0 || f.Index >= len(zr.File) {
		return nil, fmt.Errorf("entry index %d out of range for archive %s", f.Index, f.SourceArchive)
	}

	rc, err := zr.File[f.Index].Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry %s: %w", f.ArchivePath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading entry %s: %w", f.ArchivePath, err)
	}
	return data, nil
}

// Close closes every archive the cache opened.
func (c *ReaderCache) Close() error {
	var firstErr error
	for archivePath, zr := range c.zips {
		if err := zr.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing archive %s: %w", archivePath, err)
		}
		delete(c.zips, archivePath)
	}
	return firstErr
}

// BuildSidecarCache resolves the JSON text of every sidecar metadata entry
// ahead of media processing, so the per-file loops can look metadata up by
// path no matter which kind of container it came from. Sidecars in seekable
// archives are fetched directly; each sequential archive gets one dedicated
// forward pass that collects only the wanted paths and skips everything
// else.
func BuildSidecarCache(ctx context.Context, t *Takeout, cache *ReaderCache) (map[string]string, error) {
	sidecars := make(map[string]string)
	wanted := make(map[string]map[string]struct{}) // sequential archive path -> sidecar paths in it

	for _, meta := range t.SupplementalMetadataFiles() {
		switch meta.Kind {
		case KindSeekable:
			data, err := cache.Fetch(meta)
			if err != nil {
				return nil, err
			}
			sidecars[meta.ArchivePath] = string(data)
		case KindSequential:
			set, ok := wanted[meta.SourceArchive]
			if !ok {
				set = make(map[string]struct{})
				wanted[meta.SourceArchive] = set
			}
			set[meta.ArchivePath] = struct{}{}
		}
	}

	for _, src := range t.SourceArchives() {
		want := wanted[src.Path]
		if src.Kind != KindSequential || len(want) == 0 {
			continue
		}

		err := ScanSequential(ctx, src.Path, func(_ context.Context, info archives.FileInfo) error {
			if !info.Mode().IsRegular() {
				return nil
			}
			if _, ok := want[info.NameInArchive]; !ok {
				return nil
			}
			rc, err := info.Open()
			if err != nil {
				return fmt.Errorf("opening entry %s: %w", info.NameInArchive, err)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("reading entry %s: %w", info.NameInArchive, err)
			}
			sidecars[info.NameInArchive] = string(data)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return sidecars, nil
}
