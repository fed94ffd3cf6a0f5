package sdk

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	// analyticsCapacity bounds the in-memory buffer.
	analyticsCapacity = 1000

	// analyticsDrainTo is the watermark the buffer drops to when full.
	analyticsDrainTo = 500
)

// AnalyticsRecord is one buffered evaluation. The user's attribute map never
// leaves the process; only the hash token is retained.
type AnalyticsRecord struct {
	FlagKey   string    `json:"flag_key"`
	Value     any       `json:"value"`
	Reason    string    `json:"reason"`
	UserToken string    `json:"user_token"`
	Local     bool      `json:"local"`
	Timestamp time.Time `json:"timestamp"`
}

type analyticsBuffer struct {
	mu      sync.Mutex
	records []AnalyticsRecord
}

func newAnalyticsBuffer() *analyticsBuffer {
	return &analyticsBuffer{records: make([]AnalyticsRecord, 0, analyticsDrainTo)}
}

func (b *analyticsBuffer) add(record AnalyticsRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, record)
	if len(b.records) > analyticsCapacity {
		// Drop the oldest down to the watermark.
		b.records = append(b.records[:0:0], b.records[len(b.records)-analyticsDrainTo:]...)
	}
}

func (b *analyticsBuffer) drain() []AnalyticsRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.records
	b.records = make([]AnalyticsRecord, 0, analyticsDrainTo)
	return out
}

func (b *analyticsBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// userToken derives a stable non-cryptographic token from the context. The
// raw attribute values feed the hash but are never stored.
func userToken(user models.UserContext) string {
	h := fnv.New32a()
	h.Write([]byte(user.Identifier()))

	attrs := user.MergedAttributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, attrs[k])
	}

	return fmt.Sprintf("%08x", h.Sum32())
}
