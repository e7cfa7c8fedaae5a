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

// Package tfcmd facilitates the command line interface (CLI)
// and implements the main().
package tfcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/takeoutfix/takeoutfix/process"
	"github.com/takeoutfix/takeoutfix/takeout"
)

func Main() {
	var dryRun bool
	debug := flag.Bool("debug", false, "turn on debug logging")
	flag.BoolVar(&dryRun, "n", false, "dry run - show what would be done without making changes")
	flag.BoolVar(&dryRun, "dry-run", false, "dry run - show what would be done without making changes")
	photoDir := flag.String("photo-dir", "Google Photos", "photo directory name inside the archive")
	output := flag.String("output", "takeout-fixed", "output directory for fixed files")
	noProgress := flag.Bool("no-progress", false, "disable the progress bar")
	flag.Parse()

	if *debug {
		takeout.LogLevel.SetLevel(zap.DebugLevel)
		takeout.Log.Debug("debug mode enabled")
	}
	if dryRun {
		takeout.Log.Info("dry run mode - no changes will be made")
	}

	args := flag.Args()
	if len(args) < 2 || args[0] != "fix" {
		fmt.Fprintln(os.Stderr, "usage: takeoutfix [flags] fix <archive|dir|glob> ...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if !dryRun {
		if _, err := os.Stat(*output); err == nil {
			takeout.Log.Fatal("output directory already exists; remove it or choose another with -output",
				zap.String("directory", *output))
		}
	}

	archivePaths, err := expandPaths(args[1:])
	if err != nil {
		takeout.Log.Fatal("expanding input paths", zap.Error(err))
	}

	pathPrefix := "Takeout/" + *photoDir + "/"
	takeout.Log.Info("processing archives",
		zap.Int("count", len(archivePaths)),
		zap.String("photo_path_prefix", pathPrefix))

	ctx := context.Background()

	t := takeout.New()
	for _, archivePath := range archivePaths {
		takeout.Log.Info("reading archive", zap.String("archive", archivePath))
		if err := takeout.LoadArchive(ctx, t, archivePath, pathPrefix); err != nil {
			takeout.Log.Fatal("loading archive",
				zap.String("archive", archivePath),
				zap.Error(err))
		}
	}
	takeout.Log.Info("takeout indexed",
		zap.Int("total_files", t.Len()),
		zap.Int("source_archives", len(t.SourceArchives())))

	stats, err := process.Run(ctx, t, process.Options{
		OutputDir:  *output,
		PathPrefix: pathPrefix,
		DryRun:     dryRun,
		Progress:   !*noProgress,
	})
	if err != nil {
		takeout.Log.Fatal("processing takeout", zap.Error(err))
	}

	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Total media processed: %d\n", stats.MediaProcessed)
	fmt.Printf("Images with metadata applied: %d\n", stats.ImagesWithMetadata)
	fmt.Printf("Images without metadata: %d\n", stats.ImagesWithoutMetadata)
	fmt.Printf("Videos copied: %d\n", stats.VideosCopied)
	fmt.Printf("Metadata applied: %d\n", stats.MetadataApplied)
	fmt.Printf("Copied without metadata: %d\n", stats.CopiedWithoutMetadata)
	if stats.UnusedMetadataFiles > 0 {
		fmt.Printf("Unused metadata files: %d\n", stats.UnusedMetadataFiles)
	}
	if stats.Errors > 0 {
		fmt.Printf("Errors: %d\n", stats.Errors)
	}
	if !dryRun {
		fmt.Printf("\nOutput written to: %s\n", *output)
	}

	// completed-with-errors is distinct from a fatal abort (exit 1 above)
	if stats.Errors > 0 {
		os.Exit(2)
	}
}

func isArchiveFile(name string) bool {
	return strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tar.gz")
}

// expandPaths turns the positional arguments (archive files, directories
// containing archives, or glob patterns) into a sorted list of archive
// paths.
func expandPaths(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		if strings.ContainsAny(arg, "*?[{") {
			matches, err := doublestar.FilepathGlob(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid glob pattern %q: %w", arg, err)
			}
			found := 0
			for _, match := range matches {
				if isArchiveFile(match) {
					files = append(files, match)
					found++
				}
			}
			if found == 0 {
				return nil, fmt.Errorf("no .zip or .tar.gz files matched pattern: %s", arg)
			}
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %s", arg)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(arg)
			if err != nil {
				return nil, fmt.Errorf("reading directory %s: %w", arg, err)
			}
			found := 0
			for _, entry := range entries {
				if !entry.IsDir() && isArchiveFile(entry.Name()) {
					files = append(files, filepath.Join(arg, entry.Name()))
					found++
				}
			}
			if found == 0 {
				return nil, fmt.Errorf("no .zip or .tar.gz files found in directory: %s", arg)
			}
			continue
		}
		if !isArchiveFile(arg) {
			return nil, fmt.Errorf("file must be a .zip or .tar.gz file: %s", arg)
		}
		files = append(files, arg)
	}

	if len(files) == 0 {
		return nil, errors.New("no files to process")
	}

	// consistent ordering no matter how the shell hands us arguments
	sort.Strings(files)
	return files, nil
}
