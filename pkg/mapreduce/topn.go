package mapreduce

import (
	"fmt"
	"io"
	"sort"
)

// Count is one key of a frequency map with its count.
type Count struct {
	Key   string `json:"key" yaml:"key"`
	Value int    `json:"count" yaml:"count"`
}

// TopN returns the n most frequent keys, ties broken by key. A non-positive n returns all.
func TopN(counts map[string]int, n int) []Count {
	ss := make([]Count, 0, len(counts))
	for k, v := range counts {
		ss = append(ss, Count{k, v})
	}

	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Value != ss[j].Value {
			return ss[i].Value > ss[j].Value
		}
		return ss[i].Key < ss[j].Key
	})

	if n > 0 && len(ss) > n {
		ss = ss[:n]
	}
	return ss
}

// TopKeys returns the top n keys formatted as "key:count" (e.g., "html:42").
func TopKeys(counts map[string]int, n int) []string {
	top := TopN(counts, n)
	keys := make([]string, len(top))
	for i, c := range top {
		keys[i] = fmt.Sprintf("%s:%d", c.Key, c.Value)
	}
	return keys
}

// PrintTop writes the top n keys as a numbered list.
func PrintTop(w io.Writer, counts map[string]int, n int) {
	for i, c := range TopN(counts, n) {
		fmt.Fprintf(w, "%d. %s: %d\n", i+1, c.Key, c.Value)
	}
}
