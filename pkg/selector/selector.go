// Package selector picks, for every canonical identity, the capture closest to the target
// timestamp.
package selector

import (
	"errors"
	"strings"
	"time"

	"github.com/dtnitsch/site-harvest/models"
	"github.com/dtnitsch/site-harvest/pkg/urlnorm"
)

const timestampLayout = "20060102150405"

// ParseTimestamp parses a Wayback timestamp of 4 to 14 digits. Shorter timestamps are
// right-padded, so "2020" is the start of 2020.
func ParseTimestamp(ts string) (time.Time, bool) {
	if len(ts) < 4 || len(ts) > 14 {
		return time.Time{}, false
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}

	b := []byte(ts + strings.Repeat("0", 14-len(ts)))
	// Zero month or day padding means the first one.
	if b[4] == '0' && b[5] == '0' {
		b[5] = '1'
	}
	if b[6] == '0' && b[7] == '0' {
		b[7] = '1'
	}
	padded := string(b)

	t, err := time.Parse(timestampLayout, padded)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Select returns the candidate closest in time to target. Ties go to the earlier candidate
// and unparsable timestamps rank last. The boolean is false only for an empty slice.
func Select(candidates []models.CaptureRecord, target string) (models.CaptureRecord, bool) {
	if len(candidates) == 0 {
		return models.CaptureRecord{}, false
	}
	targetTime, targetOK := ParseTimestamp(target)

	best := -1
	var bestDistance time.Duration
	bestParsed := false
	for i, c := range candidates {
		ts, ok := ParseTimestamp(c.Timestamp)
		if !ok || !targetOK {
			if best == -1 {
				best = i
			}
			continue
		}
		d := ts.Sub(targetTime)
		if d < 0 {
			d = -d
		}
		if !bestParsed || d < bestDistance {
			best, bestDistance, bestParsed = i, d, true
		}
	}
	return candidates[best], true
}

// Selection is the result of grouping a capture listing by identity.
type Selection struct {
	// Order lists identities in first-seen order.
	Order    []urlnorm.Identity
	Chosen   map[urlnorm.Identity]models.CaptureRecord
	Invalid  int
	Excluded int
	Total    int
}

// Group normalizes every record, groups them by identity and selects one capture per
// identity. Invalid and denylisted records are counted, not returned. External identities
// are kept; the caller decides what to do with them.
func Group(records []models.CaptureRecord, n *urlnorm.Normalizer, target string) *Selection {
	sel := &Selection{
		Chosen: make(map[urlnorm.Identity]models.CaptureRecord),
		Total:  len(records),
	}
	groups := make(map[urlnorm.Identity][]models.CaptureRecord)

	for _, rec := range records {
		id, err := n.Normalize(rec.Original)
		switch {
		case errors.Is(err, urlnorm.ErrDenylisted):
			sel.Excluded++
			continue
		case err != nil:
			sel.Invalid++
			continue
		}
		if _, seen := groups[id]; !seen {
			sel.Order = append(sel.Order, id)
		}
		groups[id] = append(groups[id], rec)
	}

	for id, candidates := range groups {
		chosen, _ := Select(candidates, target)
		sel.Chosen[id] = chosen
	}
	return sel
}
