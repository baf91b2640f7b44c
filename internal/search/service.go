package search

import (
	"log"

	"steward/core/internal/audit"
)

// Service fronts the two backends. Meilisearch answers when it is up;
// otherwise the ledger scan does, so callers never get a hard failure
// just because the index is down.
type Service struct {
	primary  *Meili // nil when unconfigured
	fallback *Scan
}

func NewService(primary *Meili, fallback *Scan) *Service {
	return &Service{primary: primary, fallback: fallback}
}

// Search runs the query against the healthiest backend.
func (s *Service) Search(q Query) (Response, error) {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: results, Total: total, Query: q.Text}, nil
		}
		log.Printf("search: primary failed, falling back to ledger scan: %v", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: results, Total: total, Query: q.Text}, nil
}

// IndexEvent pushes an audit event into the primary index. Indexing is
// best-effort; the ledger scan covers anything the index misses.
func (s *Service) IndexEvent(ev audit.Event) {
	if s.primary == nil {
		return
	}
	rec := recordFromEvent(ev)
	go func() {
		if err := s.primary.Index(rec); err != nil {
			log.Printf("search: index event %s seq %d: %v", rec.ProjectKey, ev.Seq, err)
		}
	}()
}

// Close releases backend resources.
func (s *Service) Close() {
	if s.primary != nil {
		s.primary.Close()
	}
}
