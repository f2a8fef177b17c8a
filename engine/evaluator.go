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

// Package engine evaluates annotated clauses against a fact indexer,
// bottom-up, to a fixed point: the clause evaluator (this file) computes
// the facts entailed by a single annotated clause, and the saturator
// (saturator.go) drives that evaluator, stratum by stratum, across a pool
// of concurrent workers.
package engine

import (
	"fmt"

	"github.com/latticeql/horn/ast"
	"github.com/latticeql/horn/factstore"
	"github.com/latticeql/horn/redundancy"
	"github.com/latticeql/horn/seminaive"
	"github.com/latticeql/horn/unionfind"
)

// evalDelta evaluates one annotated clause against a single newly derived
// (delta) fact: it unifies f with the clause's delta atom, joins the
// remaining positive atoms against index, checks negation/(dis)unification
// premises in the clause's fixed schedule, and reports every newly
// distinct derived head fact to reportFact. It never evaluates a one-shot
// clause (IsOneShot()); callers route those through evalOneShot instead.
func evalDelta(c seminaive.Clause, f ast.Atom, index *factstore.Store, trie *redundancy.Trie, reportFact func(ast.Atom)) error {
	base, ok := unifyDelta(c, f)
	if !ok {
		return nil
	}
	return evalFrom(c, []unionfind.UnionFind{base}, index, trie, reportFact)
}

// evalOneShot evaluates a clause with no positive IDB atom: every positive
// atom is EDB, so there is no delta fact to seed from, and the join starts
// from the empty substitution.
func evalOneShot(c seminaive.Clause, index *factstore.Store, trie *redundancy.Trie, reportFact func(ast.Atom)) error {
	return evalFrom(c, []unionfind.UnionFind{unionfind.New()}, index, trie, reportFact)
}

func unifyDelta(c seminaive.Clause, f ast.Atom) (unionfind.UnionFind, bool) {
	for _, ba := range c.Positives {
		if ba.Role == seminaive.RoleDelta {
			uf, err := unionfind.UnifyTermsExtend(ba.Atom.Args, f.Args, unionfind.New())
			return uf, err == nil
		}
	}
	return unionfind.UnionFind{}, false
}

// evalFrom joins the clause's non-delta positive atoms, then walks its
// scheduled Rest premises, expanding start into the set of solutions that
// satisfy the whole body, and reports the resulting ground head facts.
func evalFrom(c seminaive.Clause, start []unionfind.UnionFind, index *factstore.Store, trie *redundancy.Trie, reportFact func(ast.Atom)) error {
	solutions := start
	for _, ba := range c.Positives {
		if ba.Role == seminaive.RoleDelta {
			continue // already consumed by the caller's delta fact
		}
		var next []unionfind.UnionFind
		for _, s := range solutions {
			facts, err := index.IndexInto(ba.Atom, s)
			if err != nil {
				return err
			}
			for _, fact := range facts {
				if ns, err := unionfind.UnifyTermsExtend(ba.Atom.Args, fact.Args, s); err == nil {
					next = append(next, ns)
				}
			}
		}
		solutions = next
		if len(solutions) == 0 {
			return nil
		}
	}
	for _, term := range c.Rest {
		var next []unionfind.UnionFind
		for _, s := range solutions {
			ok, ns, err := evalRestPremise(term, s, index)
			if err != nil {
				return err
			}
			if ok {
				next = append(next, ns)
			}
		}
		solutions = next
		if len(solutions) == 0 {
			return nil
		}
	}
	for _, s := range solutions {
		head, ok := c.Head.ApplySubst(s).(ast.Atom)
		if !ok || !head.IsGround() {
			continue
		}
		if trie.Add(redundancy.Fingerprint(head)) {
			reportFact(head)
		}
	}
	return nil
}

// evalRestPremise evaluates one negation/equality/disequality premise
// against a single partial solution, in the clause's fixed schedule: a
// negated atom is ground-resolved and must be absent from the indexer;
// an equality binds or checks; a disequality requires both sides ground
// and distinct.
func evalRestPremise(term ast.Term, s unionfind.UnionFind, index *factstore.Store) (bool, unionfind.UnionFind, error) {
	switch p := term.(type) {
	case ast.NegAtom:
		grounded, ok := p.Atom.ApplySubst(s).(ast.Atom)
		if !ok || !grounded.IsGround() {
			return false, s, fmt.Errorf("negated atom %v not ground after substitution", p.Atom)
		}
		return !index.Contains(grounded), s, nil
	case ast.Eq:
		left := p.Left.ApplySubstBase(s)
		right := p.Right.ApplySubstBase(s)
		ns, err := unionfind.UnifyTermsExtend([]ast.BaseTerm{left}, []ast.BaseTerm{right}, s)
		if err != nil {
			return false, s, nil
		}
		return true, ns, nil
	case ast.Ineq:
		left := p.Left.ApplySubstBase(s)
		right := p.Right.ApplySubstBase(s)
		lc, lIsConst := left.(ast.Constant)
		rc, rIsConst := right.(ast.Constant)
		if !lIsConst || !rIsConst {
			return false, s, fmt.Errorf("disequality %v != %v not ground", left, right)
		}
		return !lc.Equals(rc), s, nil
	default:
		return true, s, nil
	}
}
