// Package stats counts what happened during one fetch.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type EventType string

const (
	EventTypeFetched      EventType = "fetched"
	EventTypeDecoded      EventType = "decoded"
	EventTypeDecodeFailed EventType = "decode_failed"
	EventTypeError        EventType = "error"
)

type Event struct {
	Type   EventType
	SeqNum uint32
	Err    error
}

type Summary struct {
	Folder       string
	Total        uint32
	Low, High    uint32
	Fetched      int
	Decoded      int
	DecodeFailed int
	Errors       int
	LastError    error
	Duration     time.Duration
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"folder", s.Folder,
		"total", s.Total,
		"range", fmt.Sprintf("%d:%d", s.Low, s.High),
		"fetched", s.Fetched,
		"decoded", s.Decoded,
		"decodeFailed", s.DecodeFailed,
		"errors", s.Errors,
		"duration", s.Duration,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Collector is safe for concurrent use by the per-message decode goroutines.
type Collector struct {
	mu      sync.Mutex
	summary Summary
	started time.Time
}

func NewCollector(folder string) *Collector {
	return &Collector{
		summary: Summary{Folder: folder},
		started: time.Now(),
	}
}

// SetRange records the folder size and the requested window.
func (c *Collector) SetRange(total, low, high uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Total = total
	c.summary.Low = low
	c.summary.High = high
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFetched:
		c.summary.Fetched++
	case EventTypeDecoded:
		c.summary.Decoded++
	case EventTypeDecodeFailed:
		c.summary.DecodeFailed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	summary.Duration = time.Since(c.started)
	return summary
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the limit most frequent keys of m, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop writes the top N most frequent items in a map to w.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
