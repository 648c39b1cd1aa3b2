package search

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban/api/internal/metrics"
)

const indexQueueSize = 256

type engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexBoards(boards []BoardRecord) error
	IndexCards(cards []CardRecord) error
	DeleteBoard(id string) error
	DeleteCards(ids []string) error
}

type fallback interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context) ([]BoardRecord, []CardRecord, error)
}

type indexJob struct {
	what string
	run  func(engine) error
}

// Service answers searches from Meilisearch when it is healthy and from
// Postgres full-text search otherwise. Index updates are applied in order by
// a single background worker.
type Service struct {
	engine   engine
	fallback fallback
	closer   func()

	mu     sync.RWMutex
	closed bool
	jobs   chan indexJob
	wg     sync.WaitGroup
}

// NewService wires the backends. Either may be nil.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	var e engine
	var closer func()
	if meili != nil {
		e, closer = meili, meili.Close
	}
	var fb fallback
	if pgfts != nil {
		fb = pgfts
	}
	s := newService(e, fb)
	s.closer = closer
	return s
}

func newService(e engine, fb fallback) *Service {
	s := &Service{engine: e, fallback: fb}
	if e != nil {
		s.jobs = make(chan indexJob, indexQueueSize)
		s.wg.Add(1)
		go s.work()
	}
	return s
}

func (s *Service) work() {
	defer s.wg.Done()
	for job := range s.jobs {
		if !s.engine.Healthy() {
			log.WithField("job", job.what).Debug("search: engine down, skipping index update")
			continue
		}
		if err := job.run(s.engine); err != nil {
			log.WithError(err).WithField("job", job.what).Warn("search: index update failed")
		}
	}
}

// Close drains queued index updates and stops the engine's health monitor.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.jobs != nil {
		close(s.jobs)
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.closer != nil {
		s.closer()
	}
}

func (s *Service) enqueue(what string, run func(engine) error) {
	if s == nil || s.jobs == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- indexJob{what: what, run: run}:
	default:
		metrics.SearchIndexDropped.Inc()
		log.WithField("job", what).Warn("search: index queue full, update dropped")
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	empty := Response{Results: []Result{}, Query: q.Text}
	if s == nil {
		return empty
	}

	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			metrics.SearchRequests.WithLabelValues("meilisearch").Inc()
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("search: meilisearch failed, using postgres")
	}

	if s.fallback == nil {
		return empty
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.WithError(err).Error("search: postgres full-text search failed")
		return empty
	}
	metrics.SearchRequests.WithLabelValues("postgres").Inc()
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexBoard(board BoardRecord) {
	s.enqueue("index board "+board.ID, func(e engine) error {
		return e.IndexBoards([]BoardRecord{board})
	})
}

func (s *Service) IndexCards(cards ...CardRecord) {
	if len(cards) == 0 {
		return
	}
	s.enqueue("index cards", func(e engine) error {
		return e.IndexCards(cards)
	})
}

// RemoveBoard drops a board and the given card ids from the index.
func (s *Service) RemoveBoard(boardID string, cardIDs []string) {
	s.enqueue("remove board "+boardID, func(e engine) error {
		if err := e.DeleteBoard(boardID); err != nil {
			return err
		}
		return e.DeleteCards(cardIDs)
	})
}

func (s *Service) RemoveCards(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.enqueue("remove cards", func(e engine) error {
		return e.DeleteCards(ids)
	})
}

// ReindexAllFromPG queues every board and card in Postgres for indexing.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s == nil || s.engine == nil || s.fallback == nil {
		return
	}
	boards, cards, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		log.WithError(err).Error("search: load records for reindex")
		return
	}
	s.enqueue("reindex", func(e engine) error {
		if err := e.IndexBoards(boards); err != nil {
			return err
		}
		if err := e.IndexCards(cards); err != nil {
			return err
		}
		log.WithFields(log.Fields{"boards": len(boards), "cards": len(cards)}).Info("search: reindexed from postgres")
		return nil
	})
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
