// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"sync"

	log "github.com/golang/glog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/latticeql/horn/ast"
	"github.com/latticeql/horn/factstore"
	"github.com/latticeql/horn/redundancy"
	"github.com/latticeql/horn/seminaive"
)

// DefaultChunkSize is the number of facts batched into one work item when
// a caller does not set WithChunkSize.
const DefaultChunkSize = 64

// Option configures a Saturator via the functional-options pattern.
type Option func(*Saturator)

// WithWorkers sets the size of the worker pool. The default is 1, which
// makes a Saturator behave like a strictly serial evaluator; pass more for
// genuine concurrency.
func WithWorkers(w int) Option {
	return func(s *Saturator) {
		if w > 0 {
			s.workers = w
		}
	}
}

// WithChunkSize sets how many newly derived facts are batched into one
// work item before it is submitted to the pool.
func WithChunkSize(k int) Option {
	return func(s *Saturator) {
		if k > 0 {
			s.chunkSize = k
		}
	}
}

// WithVerbose enables glog V(1) logging of stratum boundaries and
// worker-pool shutdown. Disabled by default, so importing this package
// never prints anything unless a caller explicitly opts in.
func WithVerbose(v bool) Option {
	return func(s *Saturator) { s.verbose = v }
}

// Saturator computes the bottom-up fixed point of one stratum's annotated
// clauses over a fact indexer, using a pool of workers that consume chunks
// of newly derived facts and resubmit whatever they derive in turn, until
// no worker has outstanding work.
type Saturator struct {
	workers   int
	chunkSize int
	verbose   bool

	index *factstore.Store
	trie  *redundancy.Trie
	// predToClauses indexes this stratum's annotated delta variants by the
	// predicate whose delta fact triggers them.
	predToClauses map[ast.PredicateSym][]seminaive.Clause
	oneShots      []seminaive.Clause
}

// NewSaturator constructs a Saturator over index and trie (typically
// shared across strata, since later strata read facts derived by earlier
// ones), driven by the given stratum's annotated clauses.
func NewSaturator(index *factstore.Store, trie *redundancy.Trie, clauses []seminaive.Clause, opts ...Option) *Saturator {
	s := &Saturator{
		workers:       1,
		chunkSize:     DefaultChunkSize,
		index:         index,
		trie:          trie,
		predToClauses: make(map[ast.PredicateSym][]seminaive.Clause),
	}
	for _, c := range clauses {
		if c.IsOneShot() {
			s.oneShots = append(s.oneShots, c)
			continue
		}
		s.predToClauses[c.DeltaPred] = append(s.predToClauses[c.DeltaPred], c)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// workQueue is an unbounded FIFO of fact chunks with a pending-count that
// reaches zero exactly when there is no more outstanding work anywhere in
// the pool -- the semi-naive fixed-point condition for this stratum.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]ast.Atom
	pending atomic.Int64
	closed  bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *workQueue) submit(chunk []ast.Atom) {
	if len(chunk) == 0 {
		return
	}
	q.pending.Add(1)
	q.mu.Lock()
	q.items = append(q.items, chunk)
	q.cond.Signal()
	q.mu.Unlock()
}

// done marks one previously submitted chunk as fully processed. When the
// pending count reaches zero, every worker is released: there is nothing
// left to derive.
func (q *workQueue) done() {
	if q.pending.Sub(1) == 0 {
		q.closeAndBroadcast()
	}
}

func (q *workQueue) closeAndBroadcast() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *workQueue) next() ([]ast.Atom, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Saturate runs this stratum's annotated clauses to a fixed point: it
// seeds the work queue with seedFacts (facts already present for the
// predicates of this stratum's delta atoms: initial facts, or facts
// derived by lower strata),
// evaluates one-shot clauses once up front, then lets W workers drain the
// queue, each resubmitting a chunk of whatever it derives, until pending
// work reaches zero.
func (s *Saturator) Saturate(ctx context.Context, seedFacts []ast.Atom) error {
	for _, c := range s.oneShots {
		if err := evalOneShot(c, s.index, s.trie, func(a ast.Atom) {
			if s.index.Add(a) {
				seedFacts = append(seedFacts, a)
			}
		}); err != nil {
			return err
		}
	}

	q := newWorkQueue()
	var chunk []ast.Atom
	for _, f := range seedFacts {
		chunk = append(chunk, f)
		if len(chunk) >= s.chunkSize {
			q.submit(chunk)
			chunk = nil
		}
	}
	q.submit(chunk)
	if q.pending.Load() == 0 {
		return nil // nothing to do: no seed facts at all.
	}

	if s.verbose {
		log.V(1).Infof("saturator: starting %d workers, chunk size %d, %d seed facts", s.workers, s.chunkSize, len(seedFacts))
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			err := s.runWorker(gctx, q)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return err
		})
	}
	g.Wait()

	if s.verbose {
		log.V(1).Infof("saturator: stratum done, %d facts in indexer", s.index.EstimateFactCount())
	}
	return errs
}

func (s *Saturator) runWorker(ctx context.Context, q *workQueue) error {
	for {
		chunk, ok := q.next()
		if !ok {
			return nil
		}
		var derived []ast.Atom
		for _, f := range chunk {
			for _, c := range s.predToClauses[f.Predicate] {
				if err := evalDelta(c, f, s.index, s.trie, func(h ast.Atom) {
					if s.index.Add(h) {
						derived = append(derived, h)
						if len(derived) >= s.chunkSize {
							q.submit(append([]ast.Atom(nil), derived...))
							derived = derived[:0]
						}
					}
				}); err != nil {
					q.closeAndBroadcast()
					return err
				}
			}
		}
		q.submit(derived)
		q.done()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
