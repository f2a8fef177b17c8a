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

// Package redundancy implements a concurrent set of derivation
// fingerprints, used by the clause evaluator to deduplicate work across
// saturator workers. It is structured as a trie keyed per level by
// constant hash, over arbitrary ast.Constant sequences, and is safe for
// concurrent use.
package redundancy

import (
	"sync"

	"github.com/latticeql/horn/ast"
)

type trieNode struct {
	mu   sync.Mutex
	next map[uint64]*trieNode
	end  bool
}

func newTrieNode() *trieNode {
	return &trieNode{next: make(map[uint64]*trieNode)}
}

// Trie is a concurrent set of constant sequences ("fingerprints"). The
// zero value is not usable; construct with New.
type Trie struct {
	root *trieNode
}

// New constructs a new, empty Trie.
func New() *Trie {
	return &Trie{root: newTrieNode()}
}

// Add inserts fingerprint into the trie. It returns true if the
// fingerprint was absent before this call (the caller should proceed with
// the derivation), and false if it was already present (the caller should
// skip it). Add is safe to call concurrently; exactly one caller observes
// true for any given fingerprint, which is what makes this the
// linearization point for "who derived this fact first".
func (t *Trie) Add(fingerprint []ast.Constant) bool {
	node := t.root
	for _, c := range fingerprint {
		h := c.Hash()
		node.mu.Lock()
		next, ok := node.next[h]
		if !ok {
			next = newTrieNode()
			node.next[h] = next
		}
		node.mu.Unlock()
		node = next
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.end {
		return false
	}
	node.end = true
	return true
}

// Contains reports whether fingerprint has already been added, without
// adding it.
func (t *Trie) Contains(fingerprint []ast.Constant) bool {
	node := t.root
	for _, c := range fingerprint {
		h := c.Hash()
		node.mu.Lock()
		next, ok := node.next[h]
		node.mu.Unlock()
		if !ok {
			return false
		}
		node = next
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.end
}

// Fingerprint builds the derivation fingerprint for a ground atom: a
// constant naming its predicate (symbol and arity), followed by the
// sequence of its constant arguments. Two derivations of the same ground
// atom (from possibly different clauses) collapse to the same fingerprint,
// while atoms of different predicates stay distinct even when their
// arguments agree, which is exactly the set-semantics the fact indexer
// requires.
func Fingerprint(a ast.Atom) []ast.Constant {
	return append([]ast.Constant{ast.String(a.Predicate.String())}, a.ConstantArgs()...)
}
