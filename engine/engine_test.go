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
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/latticeql/horn/analysis"
	"github.com/latticeql/horn/ast"
)

func factStrings(t *testing.T, info *analysis.ProgramInfo, pred ast.PredicateSym, opts ...Option) []string {
	t.Helper()
	store, err := EvalProgram(info, opts...)
	if err != nil {
		t.Fatalf("EvalProgram: %v", err)
	}
	var got []string
	store.GetFacts(ast.NewQuery(pred), func(a ast.Atom) error {
		got = append(got, a.String())
		return nil
	})
	sort.Strings(got)
	return got
}

func TestEvalProgramTransitiveClosureAcrossWorkerCounts(t *testing.T) {
	clauses := []ast.Clause{
		ast.NewClause(ast.NewAtom("edge", name("a"), name("b")), nil),
		ast.NewClause(ast.NewAtom("edge", name("b"), name("c")), nil),
		ast.NewClause(ast.NewAtom("edge", name("c"), name("d")), nil),
		ast.NewClause(ast.NewAtom("tc", v("X"), v("Y")), []ast.Term{ast.NewAtom("edge", v("X"), v("Y"))}),
		ast.NewClause(ast.NewAtom("tc", v("X"), v("Z")),
			[]ast.Term{ast.NewAtom("edge", v("X"), v("Y")), ast.NewAtom("tc", v("Y"), v("Z"))}),
	}
	info, err := analysis.Analyze(clauses)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := []string{"tc(/a,/b)", "tc(/a,/c)", "tc(/a,/d)", "tc(/b,/c)", "tc(/b,/d)", "tc(/c,/d)"}
	tcPred := ast.PredicateSym{Symbol: "tc", Arity: 2}

	for _, workers := range []int{1, 2, 8} {
		got := factStrings(t, info, tcPred, WithWorkers(workers), WithChunkSize(1))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("workers=%d: unexpected result (-want +got):\n%s", workers, diff)
		}
	}
}

func TestEvalProgramStratifiedNegation(t *testing.T) {
	clauses := []ast.Clause{
		ast.NewClause(ast.NewAtom("node", name("a")), nil),
		ast.NewClause(ast.NewAtom("node", name("b")), nil),
		ast.NewClause(ast.NewAtom("node", name("c")), nil),
		ast.NewClause(ast.NewAtom("edge", name("a"), name("b")), nil),
		ast.NewClause(ast.NewAtom("path", v("X"), v("Y")), []ast.Term{ast.NewAtom("edge", v("X"), v("Y"))}),
		ast.NewClause(ast.NewAtom("path", v("X"), v("Z")),
			[]ast.Term{ast.NewAtom("edge", v("X"), v("Y")), ast.NewAtom("path", v("Y"), v("Z"))}),
		ast.NewClause(ast.NewAtom("unreached", v("X")),
			[]ast.Term{ast.NewAtom("node", v("X")), ast.NewNegAtom("path", name("a"), v("X")), ast.Ineq{Left: v("X"), Right: name("a")}}),
	}
	info, err := analysis.Analyze(clauses)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	got := factStrings(t, info, ast.PredicateSym{Symbol: "unreached", Arity: 1}, WithWorkers(4))
	want := []string{"unreached(/c)"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestSaturatorLeavesNoGoroutinesBehind(t *testing.T) {
	defer goleak.VerifyNone(t)
	clauses := []ast.Clause{
		ast.NewClause(ast.NewAtom("edge", name("a"), name("b")), nil),
		ast.NewClause(ast.NewAtom("tc", v("X"), v("Y")), []ast.Term{ast.NewAtom("edge", v("X"), v("Y"))}),
	}
	info, err := analysis.Analyze(clauses)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := EvalProgram(info, WithWorkers(4)); err != nil {
		t.Fatalf("EvalProgram: %v", err)
	}
}
