package mapreduce

import (
	"path"
	"strings"
)

// NoExtension is the key used for files without an extension.
const NoExtension = "(none)"

// Map generates an extension frequency map for one batch of file paths.
func Map(paths []string) map[string]int {
	counts := make(map[string]int)
	for _, p := range paths {
		counts[Extension(p)]++
	}
	return counts
}

// Extension returns the lowercased extension of the last path segment, without the dot.
func Extension(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	if ext == "" {
		return NoExtension
	}
	return ext
}

// Reduce aggregates a slice of frequency maps into a single map.
func Reduce(intermediate []map[string]int) map[string]int {
	finalResults := make(map[string]int)

	for _, counts := range intermediate {
		for key, count := range counts {
			finalResults[key] += count
		}
	}

	return finalResults
}
