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

// Package factstore contains the interface and a concurrent implementation
// for access to facts (atoms that are ground, i.e. contain no variables).
// A fact store is indexed by predicate and, within a predicate, by the
// hash of each argument position, so that a lookup with at least one bound
// argument does not scan every fact of that predicate.
package factstore

import (
	"strings"
	"sync"

	"github.com/latticeql/horn/ast"
)

// ReadOnlyFactStore provides read access to a set of facts.
type ReadOnlyFactStore interface {
	// GetFacts streams facts that match a given atom (pattern) to the
	// callback. Constants in the pattern act as filters; variables match
	// anything. If the callback returns an error, scanning stops and that
	// error is returned.
	GetFacts(ast.Atom, func(ast.Atom) error) error

	// Contains returns true if the given ground atom is already present.
	Contains(ast.Atom) bool

	// ListPredicates lists predicates available in this store.
	ListPredicates() []ast.PredicateSym

	// EstimateFactCount returns the estimated number of facts in the store.
	EstimateFactCount() int
}

// FactStore provides access to a set of facts, including insertion.
type FactStore interface {
	ReadOnlyFactStore

	// Add adds an atom to a store and returns true if it was absent before.
	Add(ast.Atom) bool

	// Merge merges the contents of another store into this one.
	Merge(ReadOnlyFactStore)
}

// Matches reports whether args matches pattern: every constant in pattern
// must equal the corresponding argument; variables in pattern match
// anything.
func Matches(pattern []ast.BaseTerm, args []ast.BaseTerm) bool {
	for i, t := range pattern {
		if _, ok := t.(ast.Constant); ok && !t.Equals(args[i]) {
			return false
		}
	}
	return true
}

// predicateShard holds all facts for one predicate, indexed by the hash of
// each argument position so a lookup with any bound argument narrows to a
// small bucket. Guarded by its own mutex so unrelated predicates never
// contend with each other -- this is what lets Add and IndexInto be called
// concurrently from multiple worker goroutines.
type predicateShard struct {
	mu sync.RWMutex

	// Arity 0 ("proposition") fact, if any.
	prop   ast.Atom
	hasArg bool

	// byArg[i][hash-of-arg-i][hash-of-whole-atom] -> matching facts.
	// A fact is reachable by any of its argument positions, so a lookup
	// picks whichever bound position it has and scans only that bucket.
	byArg []map[uint64]map[uint64][]*ast.Atom
}

func newPredicateShard(arity int) *predicateShard {
	s := &predicateShard{byArg: make([]map[uint64]map[uint64][]*ast.Atom, arity)}
	for i := range s.byArg {
		s.byArg[i] = make(map[uint64]map[uint64][]*ast.Atom)
	}
	return s
}

func (s *predicateShard) add(a ast.Atom) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(a.Args) == 0 {
		if s.hasArg {
			return false
		}
		s.prop = a
		s.hasArg = true
		return true
	}
	aHash := a.Hash()
	added := false
	for i, arg := range a.Args {
		iHash := arg.Hash()
		bucket, ok := s.byArg[i][iHash]
		if !ok {
			bucket = make(map[uint64][]*ast.Atom)
			s.byArg[i][iHash] = bucket
		}
		if existing, ok := bucket[aHash]; ok {
			dup := false
			for _, f := range existing {
				if f.Equals(a) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
		}
		bucket[aHash] = append(bucket[aHash], &a)
		added = true
	}
	return added
}

func (s *predicateShard) contains(a ast.Atom) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(a.Args) == 0 {
		return s.hasArg
	}
	bucket, ok := s.byArg[0][a.Args[0].Hash()]
	if !ok {
		return false
	}
	for _, f := range bucket[a.Hash()] {
		if f.Equals(a) {
			return true
		}
	}
	return false
}

func (s *predicateShard) getFacts(pattern ast.Atom, fn func(ast.Atom) error) error {
	s.mu.RLock()
	// Snapshot the candidate set under the lock, then invoke the callback
	// (which may be arbitrary caller code) outside of it.
	var candidates []*ast.Atom
	if len(pattern.Args) == 0 {
		if s.hasArg {
			candidates = []*ast.Atom{&s.prop}
		}
		s.mu.RUnlock()
	} else {
		boundIdx := -1
		for i, arg := range pattern.Args {
			if _, ok := arg.(ast.Variable); !ok {
				boundIdx = i
				break
			}
		}
		if boundIdx >= 0 {
			bucket := s.byArg[boundIdx][pattern.Args[boundIdx].Hash()]
			for _, facts := range bucket {
				candidates = append(candidates, facts...)
			}
		} else if len(s.byArg) > 0 {
			for _, bucket := range s.byArg[0] {
				for _, facts := range bucket {
					candidates = append(candidates, facts...)
				}
			}
		}
		s.mu.RUnlock()
	}
	for _, fact := range candidates {
		if !Matches(pattern.Args, fact.Args) {
			continue
		}
		if err := fn(*fact); err != nil {
			return err
		}
	}
	return nil
}

func (s *predicateShard) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byArg) == 0 {
		if s.hasArg {
			return 1
		}
		return 0
	}
	c := 0
	for _, bucket := range s.byArg[0] {
		for _, facts := range bucket {
			c += len(facts)
		}
	}
	return c
}

// Store is a concurrent, indexed, in-memory FactStore. Concurrent Add and
// GetFacts calls are safe; a fact added before a GetFacts call begins is
// guaranteed visible to it, matching the Fact Indexer contract.
type Store struct {
	mu     sync.RWMutex // guards the shards map itself (new predicates)
	shards map[ast.PredicateSym]*predicateShard
}

// NewStore constructs a new, empty Store.
func NewStore() *Store {
	return &Store{shards: make(map[ast.PredicateSym]*predicateShard)}
}

func (s *Store) shardFor(pred ast.PredicateSym, createIfMissing bool) *predicateShard {
	s.mu.RLock()
	shard, ok := s.shards[pred]
	s.mu.RUnlock()
	if ok || !createIfMissing {
		return shard
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if shard, ok := s.shards[pred]; ok {
		return shard
	}
	shard = newPredicateShard(pred.Arity)
	s.shards[pred] = shard
	return shard
}

// Add implements FactStore.
func (s *Store) Add(a ast.Atom) bool {
	return s.shardFor(a.Predicate, true).add(a)
}

// Contains implements FactStore.
func (s *Store) Contains(a ast.Atom) bool {
	shard := s.shardFor(a.Predicate, false)
	if shard == nil {
		return false
	}
	return shard.contains(a)
}

// GetFacts implements FactStore.
func (s *Store) GetFacts(pattern ast.Atom, fn func(ast.Atom) error) error {
	shard := s.shardFor(pattern.Predicate, false)
	if shard == nil {
		return nil
	}
	return shard.getFacts(pattern, fn)
}

// IndexInto returns every fact matching pattern, where variables in
// pattern that are bound by subst are treated as their bound value. It
// is the join primitive the clause evaluator uses to extend a partial
// substitution across one more positive atom.
func (s *Store) IndexInto(pattern ast.Atom, subst ast.Subst) ([]ast.Atom, error) {
	bound := pattern.ApplySubst(subst).(ast.Atom)
	var out []ast.Atom
	err := s.GetFacts(bound, func(a ast.Atom) error {
		out = append(out, a)
		return nil
	})
	return out, err
}

// EstimateFactCount implements FactStore.
func (s *Store) EstimateFactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := 0
	for _, shard := range s.shards {
		c += shard.count()
	}
	return c
}

// ListPredicates implements FactStore.
func (s *Store) ListPredicates() []ast.PredicateSym {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := make([]ast.PredicateSym, 0, len(s.shards))
	for p := range s.shards {
		r = append(r, p)
	}
	return r
}

// Merge adds all facts from other to this fact store.
func (s *Store) Merge(other ReadOnlyFactStore) {
	for _, pred := range other.ListPredicates() {
		other.GetFacts(ast.NewQuery(pred), func(fact ast.Atom) error {
			s.Add(fact)
			return nil
		})
	}
}

// String returns a readable debug string for this store.
func (s *Store) String() string {
	var sb strings.Builder
	for _, pred := range s.ListPredicates() {
		s.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
			sb.WriteString(a.String())
			sb.WriteRune(' ')
			return nil
		})
		sb.WriteRune('\n')
	}
	return sb.String()
}
