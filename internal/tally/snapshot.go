package tally

import (
	"bufio"
	"io"
	"sort"
	"strconv"
)

// Entry is a single kind with its count
type Entry struct {
	Kind  uint64 `json:"kind"`
	Count uint64 `json:"count"`
}

// Snapshot is an ascending-by-kind readout of all counters
type Snapshot []Entry

// Sort orders entries by ascending kind
func (s Snapshot) Sort() {
	sort.Slice(s, func(i, j int) bool { return s[i].Kind < s[j].Kind })
}

// Total sums the counts of all entries
func (s Snapshot) Total() uint64 {
	var total uint64
	for _, e := range s {
		total += e.Count
	}
	return total
}

// Get returns the count for kind, or 0 if it was never recorded.
func (s Snapshot) Get(kind uint64) uint64 {
	for _, e := range s {
		if e.Kind == kind {
			return e.Count
		}
	}
	return 0
}

// WriteTo writes one "<kind>: <count>" line per entry.
func (s Snapshot) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for _, e := range s {
		line := strconv.FormatUint(e.Kind, 10) + ": " + strconv.FormatUint(e.Count, 10) + "\n"
		n, err := bw.WriteString(line)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}
