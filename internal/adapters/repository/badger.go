package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
	"github.com/okian/proctor/pkg/logger"
)

// Key prefixes for namespacing in BadgerDB.
const (
	sessionKeyPrefix = "session:"
	mockKeyPrefix    = "mock:"
	answerKeyPrefix  = "answer:"
)

func sessionKey(id string) []byte            { return []byte(sessionKeyPrefix + id) }
func mockKey(mockID, id string) []byte       { return []byte(mockKeyPrefix + mockID + ":" + id) }
func mockPrefix(mockID string) []byte        { return []byte(mockKeyPrefix + mockID + ":") }
func answerKey(id, questionID string) []byte { return []byte(answerKeyPrefix + id + ":" + questionID) }
func answerPrefix(id string) []byte          { return []byte(answerKeyPrefix + id + ":") }

// BadgerStore persists aggregates in BadgerDB. The peak risk ranking is kept
// in memory and rebuilt from disk on open.
type BadgerStore struct {
	db         *badger.DB
	index      *RiskIndex
	logger     logger.Logger
	gcInterval time.Duration
	syncWrites bool

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a store under path. An empty path opens an
// in-memory database.
func OpenBadger(path string, opts ...Option) (*BadgerStore, error) {
	s := newBadgerStore(opts...)

	bopts := badger.DefaultOptions(path).WithLogger(nil).WithSyncWrites(s.syncWrites)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	} else {
		bopts.ValueLogFileSize = 64 << 20
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	s.db = db

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if path != "" && s.gcInterval > 0 {
		s.wg.Add(1)
		go s.runGC()
	}
	return s, nil
}

func newBadgerStore(opts ...Option) *BadgerStore {
	s := &BadgerStore{
		index:      NewRiskIndex(),
		gcInterval: defaultGCInterval,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}
	return s
}

func (s *BadgerStore) rebuildIndex() error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var agg model.Aggregate
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &agg)
			}); err != nil {
				return err
			}
			s.index.UpdatePeak(agg.SessionID, agg.MockID, agg.PeakRisk, agg.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild risk index: %w", err)
	}
	return nil
}

func (s *BadgerStore) runGC() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to reclaim.
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn(context.Background(), "value log gc failed", logger.Error(err))
			}
		}
	}
}

func getAggregate(txn *badger.Txn, id string) (model.Aggregate, error) {
	var agg model.Aggregate
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return agg, ErrNotFound
	}
	if err != nil {
		return agg, fmt.Errorf("get session: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &agg)
	})
	if err != nil {
		return agg, fmt.Errorf("decode session: %w", err)
	}
	return agg, nil
}

func putAggregate(txn *badger.Txn, agg *model.Aggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := txn.Set(sessionKey(agg.SessionID), data); err != nil {
		return err
	}
	return txn.Set(mockKey(agg.MockID, agg.SessionID), []byte(agg.SessionID))
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) StartSession(ctx context.Context, sess model.Session) (model.Aggregate, error) { //nolint:gocritic // hugeParam
	if err := validSession(sess); err != nil {
		return model.Aggregate{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Aggregate{}, err
	}
	agg := newAggregate(sess)
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, err := getAggregate(txn, sess.ID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case prev.MockID != sess.MockID:
			if err := txn.Delete(mockKey(prev.MockID, prev.SessionID)); err != nil {
				return err
			}
		}
		if err := deletePrefix(txn, answerPrefix(sess.ID)); err != nil {
			return err
		}
		return putAggregate(txn, &agg)
	})
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("start session: %w", err)
	}
	s.index.Remove(sess.ID)
	s.index.UpdatePeak(sess.ID, sess.MockID, 0, sess.StartedAt)
	return agg, nil
}

func (s *BadgerStore) SaveAggregate(ctx context.Context, agg model.Aggregate) error { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return err
	}
	agg.Closed = false
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getAggregate(txn, agg.SessionID)
		if err != nil {
			return err
		}
		if cur.Closed {
			return ErrSessionClosed
		}
		return putAggregate(txn, &agg)
	})
	if err != nil {
		return err
	}
	s.index.UpdatePeak(agg.SessionID, agg.MockID, agg.PeakRisk, agg.UpdatedAt)
	return nil
}

func (s *BadgerStore) CloseSession(ctx context.Context, agg model.Aggregate) (bool, error) { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return false, err
	}
	agg.Closed = true
	written := false
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getAggregate(txn, agg.SessionID)
		if err != nil {
			return err
		}
		if cur.Closed {
			return nil
		}
		written = true
		return putAggregate(txn, &agg)
	})
	if err != nil {
		return false, err
	}
	if written {
		s.index.UpdatePeak(agg.SessionID, agg.MockID, agg.PeakRisk, agg.UpdatedAt)
	}
	return written, nil
}

func (s *BadgerStore) Get(_ context.Context, sessionID string) (model.Aggregate, error) {
	var agg model.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		agg, err = getAggregate(txn, sessionID)
		return err
	})
	return agg, err
}

func (s *BadgerStore) ListByMock(_ context.Context, mockID string) ([]model.Aggregate, error) {
	out := make([]model.Aggregate, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := mockPrefix(mockID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			agg, err := getAggregate(txn, string(id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, agg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *BadgerStore) AttachAnswer(ctx context.Context, a model.AnswerSnapshot) error { //nolint:gocritic // hugeParam
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(a.SessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Set(answerKey(a.SessionID, a.QuestionID), data)
	})
}

func (s *BadgerStore) Answers(_ context.Context, sessionID string) ([]model.AnswerSnapshot, error) {
	out := make([]model.AnswerSnapshot, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := answerPrefix(sessionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a model.AnswerSnapshot
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBySubmission(out)
	return out, nil
}

func (s *BadgerStore) Statistics(_ context.Context) (types.Statistics, error) {
	var aggs []model.Aggregate
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var agg model.Aggregate
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &agg)
			}); err != nil {
				return err
			}
			aggs = append(aggs, agg)
		}
		return nil
	})
	if err != nil {
		return types.Statistics{}, fmt.Errorf("scan sessions: %w", err)
	}
	return computeStatistics(aggs), nil
}

func (s *BadgerStore) TopN(_ context.Context, n int) ([]types.Entry, error) {
	return s.index.TopN(n)
}

func (s *BadgerStore) Rank(_ context.Context, sessionID string) (types.Entry, error) {
	return s.index.Rank(sessionID)
}

func (s *BadgerStore) Count(_ context.Context) int {
	return s.index.Len()
}

// Close stops the collector and closes the database. It is safe to call
// more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
