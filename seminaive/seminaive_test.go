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

package seminaive

import (
	"testing"

	"github.com/latticeql/horn/ast"
)

func v(name string) ast.Variable { return ast.Variable{Symbol: name} }

func idbOf(syms ...ast.PredicateSym) map[ast.PredicateSym]struct{} {
	m := make(map[ast.PredicateSym]struct{})
	for _, s := range syms {
		m[s] = struct{}{}
	}
	return m
}

func TestAnnotateOneVariantPerPositiveIDBAtom(t *testing.T) {
	tcPred := ast.PredicateSym{Symbol: "tc", Arity: 2}
	clause := ast.NewClause(
		ast.NewAtom("tc", v("X"), v("Z")),
		[]ast.Term{ast.NewAtom("tc", v("X"), v("Y")), ast.NewAtom("tc", v("Y"), v("Z"))},
	)
	got := Annotate(clause, idbOf(tcPred))
	if len(got) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(got))
	}
	for i, variant := range got {
		if variant.IsOneShot() {
			t.Fatalf("variant %d: expected a delta variant, got one-shot", i)
		}
		deltas := 0
		for _, ba := range variant.Positives {
			if ba.Role == RoleDelta {
				deltas++
			}
		}
		if deltas != 1 {
			t.Errorf("variant %d: expected exactly one delta-tagged atom, got %d", i, deltas)
		}
	}
	if got[0].Positives[0].Role != RoleDelta || got[0].Positives[1].Role != RoleOld {
		t.Errorf("variant 0: expected [delta, old], got %v", got[0].Positives)
	}
	if got[1].Positives[0].Role != RoleOld || got[1].Positives[1].Role != RoleDelta {
		t.Errorf("variant 1: expected [old, delta], got %v", got[1].Positives)
	}
}

func TestAnnotateEDBAtomNeverDelta(t *testing.T) {
	edgePred := ast.PredicateSym{Symbol: "edge", Arity: 2}
	clause := ast.NewClause(
		ast.NewAtom("path", v("X"), v("Y")),
		[]ast.Term{ast.NewAtom("edge", v("X"), v("Y"))},
	)
	got := Annotate(clause, idbOf())
	if len(got) != 1 || !got[0].IsOneShot() {
		t.Fatalf("expected a single one-shot variant, got %v", got)
	}
	if got[0].Positives[0].Role != RoleEDB {
		t.Errorf("expected the edge atom to be tagged EDB, got %v", got[0].Positives[0].Role)
	}
	_ = edgePred
}

func TestAnnotateZeroPositiveIDBAtomsIsOneShot(t *testing.T) {
	clause := ast.NewClause(ast.NewAtom("p", v("X"), ast.String("b")), []ast.Term{ast.Eq{Left: v("X"), Right: ast.String("a")}})
	got := Annotate(clause, idbOf())
	if len(got) != 1 || !got[0].IsOneShot() {
		t.Fatalf("expected a single one-shot variant, got %v", got)
	}
	if len(got[0].Positives) != 0 {
		t.Errorf("expected no positive atoms, got %v", got[0].Positives)
	}
	if len(got[0].Rest) != 1 {
		t.Fatalf("expected one Rest premise, got %v", got[0].Rest)
	}
}

func TestScheduleReordersOnBindingPoint(t *testing.T) {
	qPred := ast.PredicateSym{Symbol: "q", Arity: 1}
	// not q(X), X=5 -- the negation's variable is bound only by the
	// equality that textually follows it.
	clause := ast.NewClause(
		ast.NewAtom("p", v("X")),
		[]ast.Term{ast.NewNegAtom("q", v("X")), ast.Eq{Left: v("X"), Right: ast.Number(5)}},
	)
	got := Annotate(clause, idbOf(qPred))
	if len(got) != 1 || !got[0].IsOneShot() {
		t.Fatalf("expected one one-shot variant (q is EDB here), got %v", got)
	}
	rest := got[0].Rest
	if len(rest) != 2 {
		t.Fatalf("expected 2 scheduled premises, got %d", len(rest))
	}
	if _, ok := rest[0].(ast.Eq); !ok {
		t.Errorf("expected the binding equality to be scheduled first, got %v", rest[0])
	}
	if _, ok := rest[1].(ast.NegAtom); !ok {
		t.Errorf("expected the negation to be scheduled second, got %v", rest[1])
	}
}

func TestScheduleKeepsPositivesBeforeNegationsAndDisequalities(t *testing.T) {
	tcPred := ast.PredicateSym{Symbol: "tc", Arity: 2}
	// X != Y, tc(X,Y) -- written with the disequality first in source.
	clause := ast.NewClause(
		ast.NewAtom("noncycle", v("X"), v("Y")),
		[]ast.Term{ast.Ineq{Left: v("X"), Right: v("Y")}, ast.NewAtom("tc", v("X"), v("Y"))},
	)
	got := Annotate(clause, idbOf(tcPred))
	if len(got) != 1 {
		t.Fatalf("expected 1 variant, got %d", len(got))
	}
	if len(got[0].Positives) != 1 || got[0].Positives[0].Role != RoleDelta {
		t.Fatalf("expected a single delta positive, got %v", got[0].Positives)
	}
	if len(got[0].Rest) != 1 {
		t.Fatalf("expected the disequality in Rest, got %v", got[0].Rest)
	}
}
