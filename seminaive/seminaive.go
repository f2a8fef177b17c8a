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

// Package seminaive annotates validated clauses for semi-naive bottom-up
// evaluation: each positive IDB atom position in a rule becomes the seed of
// its own annotated variant, fired whenever a new ("delta") fact for that
// position's predicate is derived, while the rule's other positive IDB
// atoms are looked up against the full ("old") extension built so far.
package seminaive

import "github.com/latticeql/horn/ast"

// Role classifies how a positive body atom participates in one annotated
// variant of a clause.
type Role int

const (
	// RoleEDB atoms are looked up directly against the indexer regardless
	// of which variant is running; their predicate never changes across
	// a stratum's fixed point via this rule.
	RoleEDB Role = iota
	// RoleDelta marks the one atom, per variant, whose binding comes from
	// the newly derived fact that triggered this evaluation.
	RoleDelta
	// RoleOld marks every other positive IDB atom; it is looked up against
	// the accumulated extension, not the delta.
	RoleOld
)

// BodyAtom is one positive atom premise, tagged with its role in a
// particular annotated variant.
type BodyAtom struct {
	Atom ast.Atom
	Role Role
}

// Clause is one annotated variant of a source rule. Positives holds every
// positive atom premise in original left-to-right order (exactly one of
// which has Role == RoleDelta, unless this is a one-shot variant). Rest
// holds every ast.NegAtom/ast.Eq/ast.Ineq premise, reordered so that each
// one runs only once every variable it touches is already bound -- either
// by a positive atom, or by an earlier premise in Rest that bound it via
// equality with a constant.
type Clause struct {
	Head      ast.Atom
	Positives []BodyAtom
	Rest      []ast.Term
	// DeltaPred is the predicate of this variant's delta atom. It is the
	// zero PredicateSym for a one-shot variant (no positive IDB atom at
	// all), which runs exactly once per stratum rather than per delta fact.
	DeltaPred ast.PredicateSym
}

// IsOneShot reports whether this variant has no delta atom: the clause had
// no positive IDB atom to begin with, so it is evaluated once against
// whatever EDB facts and lower-stratum results are already present.
func (c Clause) IsOneShot() bool {
	return c.DeltaPred == (ast.PredicateSym{})
}

// Annotate rewrites a single validated rule into its annotated variants:
// one per position where a positive IDB atom occurs, or, if the rule has
// no positive IDB atom at all, a single one-shot variant.
func Annotate(clause ast.Clause, idb map[ast.PredicateSym]struct{}) []Clause {
	var positiveIdx []int
	for i, p := range clause.Premises {
		if a, ok := p.(ast.Atom); ok {
			if _, isIdb := idb[a.Predicate]; isIdb {
				positiveIdx = append(positiveIdx, i)
			}
		}
	}
	if len(positiveIdx) == 0 {
		return []Clause{variant(clause, idb, -1)}
	}
	variants := make([]Clause, len(positiveIdx))
	for k, i := range positiveIdx {
		variants[k] = variant(clause, idb, i)
	}
	return variants
}

// AnnotateAll annotates every rule in rules, concatenating their variants.
func AnnotateAll(rules []ast.Clause, idb map[ast.PredicateSym]struct{}) []Clause {
	var out []Clause
	for _, rule := range rules {
		out = append(out, Annotate(rule, idb)...)
	}
	return out
}

func variant(clause ast.Clause, idb map[ast.PredicateSym]struct{}, deltaIdx int) Clause {
	var (
		positives []BodyAtom
		rest      []ast.Term
		deltaPred ast.PredicateSym
	)
	for i, p := range clause.Premises {
		a, ok := p.(ast.Atom)
		if !ok {
			rest = append(rest, p)
			continue
		}
		role := RoleEDB
		if _, isIdb := idb[a.Predicate]; isIdb {
			if i == deltaIdx {
				role = RoleDelta
				deltaPred = a.Predicate
			} else {
				role = RoleOld
			}
		}
		positives = append(positives, BodyAtom{Atom: a, Role: role})
	}
	return Clause{Head: clause.Head, Positives: positives, Rest: schedule(rest, positives), DeltaPred: deltaPred}
}

// schedule reorders Rest premises so that each one runs only after every
// variable it touches is bound. Positive atoms are assumed to have already
// run (and bound all of their variables) by the time Rest starts; within
// Rest, an equality between a bound term and a free variable binds that
// variable for any premise scheduled after it.
func schedule(rest []ast.Term, positives []BodyAtom) []ast.Term {
	if len(rest) == 0 {
		return nil
	}
	bound := make(map[ast.Variable]bool)
	for _, ba := range positives {
		ast.AddVars(ba.Atom, bound)
	}
	remaining := append([]ast.Term(nil), rest...)
	var out []ast.Term
	for len(remaining) > 0 {
		var next []ast.Term
		progressed := false
		for _, p := range remaining {
			if ready, introduces := readiness(p, bound); ready {
				out = append(out, p)
				for v := range introduces {
					bound[v] = true
				}
				progressed = true
			} else {
				next = append(next, p)
			}
		}
		remaining = next
		if !progressed {
			// Nothing became ready this pass -- e.g. an equality between
			// two variables neither of which is bound by anything else.
			// Emit the rest in original order as a best effort; the
			// validator only accepts such a clause when some other
			// binding path (a union-find chain to a constant) makes it
			// safe, which the evaluator resolves at unification time.
			out = append(out, remaining...)
			break
		}
	}
	return out
}

func readiness(p ast.Term, bound map[ast.Variable]bool) (bool, map[ast.Variable]bool) {
	resolved := func(t ast.BaseTerm) bool {
		switch x := t.(type) {
		case ast.Constant:
			return true
		case ast.Variable:
			return bound[x]
		}
		return false
	}
	switch p := p.(type) {
	case ast.Eq:
		lr, rr := resolved(p.Left), resolved(p.Right)
		switch {
		case lr && rr:
			return true, nil
		case lr:
			if v, ok := p.Right.(ast.Variable); ok {
				return true, map[ast.Variable]bool{v: true}
			}
		case rr:
			if v, ok := p.Left.(ast.Variable); ok {
				return true, map[ast.Variable]bool{v: true}
			}
		}
		return false, nil
	case ast.Ineq:
		return resolved(p.Left) && resolved(p.Right), nil
	case ast.NegAtom:
		for _, arg := range p.Atom.Args {
			if !resolved(arg) {
				return false, nil
			}
		}
		return true, nil
	default:
		return true, nil
	}
}
