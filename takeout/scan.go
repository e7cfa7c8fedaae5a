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
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"go.uber.org/zap"
)

// LoadArchive scans one input archive and adds every file entry under
// pathPrefix to the index. The archive's container kind is detected from
// its header bytes and filename; zip archives are indexed for later
// random access, tar.gz archives are walked in a single forward pass.
// Any failure here is fatal for the run: an unreadable input archive
// means the takeout as a whole cannot be trusted.
func LoadArchive(ctx context.Context, t *Takeout, archivePath, pathPrefix string) error {
	kind, err := identifyArchive(ctx, archivePath)
	if err != nil {
		return err
	}

	t.AddSourceArchive(archivePath, kind)

	switch kind {
	case KindSeekable:
		return loadSeekable(t, archivePath, pathPrefix)
	default:
		return loadSequential(ctx, t, archivePath, pathPrefix)
	}
}

// identifyArchive sniffs the container kind of an archive file.
func identifyArchive(ctx context.Context, archivePath string) (ArchiveKind, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, filepath.Base(archivePath), f)
	if err != nil {
		return 0, fmt.Errorf("unsupported archive format %s: %w", filepath.Base(archivePath), err)
	}

	if _, ok := format.(archives.Zip); ok {
		return KindSeekable, nil
	}
	if _, ok := format.(archives.Extractor); ok {
		return KindSequential, nil
	}
	return 0, fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
}

func loadSeekable(t *Takeout, archivePath, pathPrefix string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("reading zip archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	count := 0
	for i, entry := range zr.File {
		if !strings.HasPrefix(entry.Name, pathPrefix) || entry.FileInfo().IsDir() {
			continue
		}

		af := &ArchiveFile{
			ArchivePath:   entry.Name,
			SourceArchive: archivePath,
			Kind:          KindSeekable,
			Index:         i,
			Size:          int64(entry.UncompressedSize64),
		}
		Log.Debug("found entry",
			zap.String("archive", archivePath),
			zap.String("path", entry.Name))

		if err := t.Insert(af); err != nil {
			return err
		}
		count++
	}

	Log.Info("loaded archive",
		zap.String("archive", archivePath),
		zap.String("kind", KindSeekable.String()),
		zap.Int("files", count))
	return nil
}

func loadSequential(ctx context.Context, t *Takeout, archivePath, pathPrefix string) error {
	count, index := 0, 0
	err := ScanSequential(ctx, archivePath, func(_ context.Context, info archives.FileInfo) error {
		entryIndex := index
		index++

		if !info.Mode().IsRegular() || !strings.HasPrefix(info.NameInArchive, pathPrefix) {
			return nil
		}

		af := &ArchiveFile{
			ArchivePath:   info.NameInArchive,
			SourceArchive: archivePath,
			Kind:          KindSequential,
			Index:         entryIndex,
			Size:          info.Size(),
		}
		Log.Debug("found entry",
			zap.String("archive", archivePath),
			zap.String("path", info.NameInArchive))

		if err := t.Insert(af); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	Log.Info("loaded archive",
		zap.String("archive", archivePath),
		zap.String("kind", KindSequential.String()),
		zap.Int("files", count))
	return nil
}

// ScanSequential opens a sequential-only archive and streams its entries to
// the handler in physical order. Each call is a full pass over the stream;
// entries the handler does not open are skipped without decompressing their
// contents more than the stream demands.
func ScanSequential(ctx context.Context, archivePath string, handler archives.FileHandler) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	format, stream, err := archives.Identify(ctx, filepath.Base(archivePath), f)
	if err != nil {
		return fmt.Errorf("identifying archive %s: %w", archivePath, err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok {
		return fmt.Errorf("archive %s does not support streaming extraction", archivePath)
	}

	if err := extractor.Extract(ctx, stream, handler); err != nil {
		return fmt.Errorf("reading entries from %s: %w", archivePath, err)
	}
	return nil
}
