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

// Package process drives one end-to-end run over an indexed takeout:
// sidecar prefetch, per-file processing, output writing, and statistics.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"github.com/mholt/archives"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/takeoutfix/takeoutfix/exiftags"
	"github.com/takeoutfix/takeoutfix/metadata"
	"github.com/takeoutfix/takeoutfix/takeout"
)

// Stats aggregates the counters of a single run. It is owned by Run for the
// run's duration and returned by value at the end.
type Stats struct {
	MediaProcessed        int
	ImagesWithMetadata    int
	ImagesWithoutMetadata int
	VideosCopied          int
	MetadataApplied       int
	CopiedWithoutMetadata int
	UnusedMetadataFiles   int
	Errors                int
}

// record accumulates the outcome of one media file.
func (s *Stats) record(isImage, hadMetadata bool) {
	s.MediaProcessed++
	if hadMetadata {
		s.MetadataApplied++
		if isImage {
			s.ImagesWithMetadata++
		}
		return
	}
	s.CopiedWithoutMetadata++
	if isImage {
		s.ImagesWithoutMetadata++
	} else {
		s.VideosCopied++
	}
}

// Options configures a run.
type Options struct {
	// OutputDir is the root of the output tree.
	OutputDir string

	// PathPrefix is the in-archive prefix media files must live under,
	// e.g. "Takeout/Google Photos/". It is stripped when deriving the
	// album directory of the output tree.
	PathPrefix string

	// DryRun reports intended actions and updates counters without
	// writing anything.
	DryRun bool

	// Progress renders a progress bar over the media-file loop.
	Progress bool

	Log *zap.Logger
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".heic": true, ".heif": true, ".tiff": true, ".tif": true, ".bmp": true,
}

// video (and anything else non-image) is copied verbatim, never rewritten
var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".m4v": true, ".3gp": true, ".wmv": true,
}

func isImageFile(archivePath string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(archivePath))]
}

func isVideoFile(archivePath string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(archivePath))]
}

func isMediaFile(archivePath string) bool {
	return isImageFile(archivePath) || isVideoFile(archivePath)
}

// albumPath returns the album directory of an entry: its containing
// directory with the photo prefix stripped.
func albumPath(archivePath, pathPrefix string) string {
	relative := strings.TrimPrefix(archivePath, pathPrefix)
	if i := strings.LastIndex(relative, "/"); i >= 0 {
		return relative[:i]
	}
	return ""
}

// Run processes every media file in the takeout and writes the output tree.
// Per-file failures are logged and counted, never fatal; failures that
// leave a sequential stream in an unknown state abort the run.
func Run(ctx context.Context, t *takeout.Takeout, opts Options) (Stats, error) {
	logger := opts.Log
	if logger == nil {
		logger = takeout.Log.Named("process")
	}

	var stats Stats
	usedMetadata := make(map[string]struct{})

	cache := takeout.NewReaderCache()
	defer cache.Close()

	sidecars, err := takeout.BuildSidecarCache(ctx, t, cache)
	if err != nil {
		return stats, err
	}

	var seekableMedia []*takeout.ArchiveFile
	totalMedia := 0
	for _, f := range t.Files() {
		if !isMediaFile(f.ArchivePath) {
			continue
		}
		totalMedia++
		if f.Kind == takeout.KindSeekable {
			seekableMedia = append(seekableMedia, f)
		}
	}

	// natural sort keeps the processing order (and therefore the logs)
	// stable across runs; map iteration order would reshuffle every time
	sort.Slice(seekableMedia, func(i, j int) bool {
		return natural.Less(seekableMedia[i].ArchivePath, seekableMedia[j].ArchivePath)
	})

	logger.Info("processing media files", zap.Int("count", totalMedia))
	bar := newProgressBar(totalMedia, opts.Progress)

	for _, f := range seekableMedia {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		meta := t.FindMetadataFor(f.ArchivePath)
		if meta != nil {
			usedMetadata[meta.ArchivePath] = struct{}{}
		}

		if opts.DryRun {
			dryRunReport(logger, f.ArchivePath, destPath(opts, f.ArchivePath), meta != nil)
			stats.record(isImageFile(f.ArchivePath), meta != nil)
			barAdd(bar)
			continue
		}

		jsonText := ""
		if meta != nil {
			jsonText = sidecars[meta.ArchivePath]
		}

		data, err := cache.Fetch(f)
		if err != nil {
			logger.Error("reading media file",
				zap.String("file", f.ArchivePath),
				zap.Error(err))
			stats.Errors++
			barAdd(bar)
			continue
		}

		hadMetadata, err := writeMedia(logger, f.ArchivePath, data, jsonText, destPath(opts, f.ArchivePath))
		if err != nil {
			logger.Error("processing media file",
				zap.String("file", f.ArchivePath),
				zap.Error(err))
			stats.Errors++
		} else {
			stats.record(isImageFile(f.ArchivePath), hadMetadata)
		}
		barAdd(bar)
	}

	// sequential archives: everything happens in one forward pass per
	// archive, in physical stream order
	for _, src := range t.SourceArchives() {
		if src.Kind != takeout.KindSequential {
			continue
		}

		err := takeout.ScanSequential(ctx, src.Path, func(_ context.Context, info archives.FileInfo) error {
			if !info.Mode().IsRegular() {
				return nil
			}
			entryPath := info.NameInArchive
			if !strings.HasPrefix(entryPath, opts.PathPrefix) || !isMediaFile(entryPath) {
				return nil
			}

			meta := t.FindMetadataFor(entryPath)
			if meta != nil {
				usedMetadata[meta.ArchivePath] = struct{}{}
			}

			if opts.DryRun {
				dryRunReport(logger, entryPath, destPath(opts, entryPath), meta != nil)
				stats.record(isImageFile(entryPath), meta != nil)
				barAdd(bar)
				return nil
			}

			jsonText := ""
			if meta != nil {
				jsonText = sidecars[meta.ArchivePath]
			}

			// a read failure here leaves the stream cursor in an unknown
			// state, so it is fatal for the rest of the archive
			rc, err := info.Open()
			if err != nil {
				return fmt.Errorf("opening entry %s: %w", entryPath, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("reading entry %s: %w", entryPath, err)
			}

			hadMetadata, err := writeMedia(logger, entryPath, data, jsonText, destPath(opts, entryPath))
			if err != nil {
				logger.Error("processing media file",
					zap.String("file", entryPath),
					zap.Error(err))
				stats.Errors++
			} else {
				stats.record(isImageFile(entryPath), hadMetadata)
			}
			barAdd(bar)
			return nil
		})
		if err != nil {
			return stats, err
		}
	}

	barFinish(bar)

	reportUnused(logger, t, usedMetadata, &stats)

	return stats, nil
}

func destPath(opts Options, archivePath string) string {
	album := albumPath(archivePath, opts.PathPrefix)
	filename := archivePath[strings.LastIndex(archivePath, "/")+1:]
	return filepath.Join(opts.OutputDir, filepath.FromSlash(album), filename)
}

func dryRunReport(logger *zap.Logger, archivePath, dest string, hasMetadata bool) {
	action := "copy (no metadata)"
	if hasMetadata {
		action = "process"
	}
	logger.Info("dry run",
		zap.String("action", action),
		zap.String("file", archivePath),
		zap.String("destination", dest))
}

// writeMedia writes one media file to dest. Images get the sidecar tags
// translated and embedded; videos and other media are copied verbatim.
// The returned bool reports whether sidecar metadata was applied.
func writeMedia(logger *zap.Logger, archivePath string, data []byte, jsonText, dest string) (bool, error) {
	if !isImageFile(archivePath) {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return false, fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return false, fmt.Errorf("writing output file: %w", err)
		}
		return false, nil
	}

	tags := exiftags.Parse(archivePath, data)
	if jsonText != "" {
		if err := metadata.Apply(jsonText, tags); err != nil {
			return false, err
		}
	}

	// directories appear only once translation has succeeded, so a failed
	// file never leaves an empty album behind
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("creating output directory: %w", err)
	}

	// the original bytes always land on disk first; embedding the tags
	// afterward is best-effort and only warns on failure
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return false, fmt.Errorf("writing output file: %w", err)
	}
	if jsonText != "" {
		if err := tags.WriteFile(dest); err != nil {
			logger.Warn("could not embed tags; file delivered without them",
				zap.String("file", archivePath),
				zap.Error(err))
		}
	}

	return jsonText != "", nil
}

// reportUnused warns about sidecar entries that never matched a media file.
// A sidecar without media is legitimate in a partial export, so this is a
// warning, not an error.
func reportUnused(logger *zap.Logger, t *takeout.Takeout, used map[string]struct{}, stats *Stats) {
	var unused []string
	for _, f := range t.SupplementalMetadataFiles() {
		if _, ok := used[f.ArchivePath]; !ok {
			unused = append(unused, f.ArchivePath)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return natural.Less(unused[i], unused[j]) })

	stats.UnusedMetadataFiles = len(unused)
	if len(unused) == 0 {
		return
	}

	logger.Warn("supplemental metadata files not matched to any media file",
		zap.Int("count", len(unused)))
	for _, archivePath := range unused {
		logger.Warn("unused metadata", zap.String("file", archivePath))
	}
}

func newProgressBar(total int, enabled bool) *progressbar.ProgressBar {
	if !enabled {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("processing media"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func barAdd(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}

func barFinish(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Finish()
	}
}
