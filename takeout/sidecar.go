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

import "strings"

// supplementalToken is the literal Google puts between the media filename
// and ".json" when naming a sidecar file.
const supplementalToken = "supplemental-metadata"

// supplementalSuffixes holds "." + every truncation prefix of the token +
// ".", longest first (the full untruncated form down to a single character).
// Google truncates the token at an arbitrary character boundary when the
// resulting filename would exceed an internal length limit, so a sidecar for
// "photo.jpg" can be named anything from
// "photo.jpg.supplemental-metadata.json" down to "photo.jpg.s.json".
// Candidates are built by appending "json" to each suffix. The order cannot
// affect which paths exist, but longest-first keeps matches readable when
// debugging.
var supplementalSuffixes = func() []string {
	suffixes := make([]string, 0, len(supplementalToken))
	for i := len(supplementalToken); i >= 1; i-- {
		suffixes = append(suffixes, "."+supplementalToken[:i]+".")
	}
	return suffixes
}()

// IsSupplementalMetadata reports whether the path names a sidecar metadata
// file, i.e. it ends in any truncation variant of the supplemental token
// followed by "json". The check is case-insensitive.
func IsSupplementalMetadata(archivePath string) bool {
	lower := strings.ToLower(archivePath)
	for _, suffix := range supplementalSuffixes {
		if strings.HasSuffix(lower, suffix+"json") {
			return true
		}
	}
	return false
}
