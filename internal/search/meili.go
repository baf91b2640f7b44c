package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxAudit = "steward_audit"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the audit index. The
// caller should proceed without it if the instance is down; the health loop
// reconfigures on recovery.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxAudit,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxAudit, err)
	}

	index := m.client.Index(idxAudit)
	filterable := []interface{}{"projectKey", "eventType", "actor"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxAudit, err)
	}
	searchable := []string{"detail", "actor", "proposalId", "revision"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxAudit, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Index pushes one audit record into the index.
func (m *Meili) Index(rec Record) error {
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxAudit).AddDocuments([]Record{rec}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("meilisearch add document: %w", err)
	}
	return nil
}

// Search queries the audit index.
func (m *Meili) Search(q Query) ([]Record, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		Limit: limit,
	}
	var filters []string
	if q.ProjectKey != "" {
		filters = append(filters, fmt.Sprintf("projectKey = %q", q.ProjectKey))
	}
	if q.EventType != "" {
		filters = append(filters, fmt.Sprintf("eventType = %q", q.EventType))
	}
	if q.Actor != "" {
		filters = append(filters, fmt.Sprintf("actor = %q", q.Actor))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.Index(idxAudit).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Record, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToRecord(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToRecord(hit meili.Hit) Record {
	rec := Record{
		ID:         decodeString(hit, "id"),
		ProjectKey: decodeString(hit, "projectKey"),
		EventType:  decodeString(hit, "eventType"),
		Actor:      decodeString(hit, "actor"),
		ProposalID: decodeString(hit, "proposalId"),
		Revision:   decodeString(hit, "revision"),
		Detail:     decodeString(hit, "detail"),
	}
	if raw, ok := hit["timestamp"]; ok {
		var ts time.Time
		if err := json.Unmarshal(raw, &ts); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
