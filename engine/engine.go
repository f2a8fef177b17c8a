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
	"fmt"

	log "github.com/golang/glog"

	"github.com/latticeql/horn/analysis"
	"github.com/latticeql/horn/ast"
	"github.com/latticeql/horn/factstore"
	"github.com/latticeql/horn/redundancy"
	"github.com/latticeql/horn/seminaive"
)

// EvalProgram runs every stratum of a validated program to its bottom-up
// fixed point and returns a fact store holding every EDB fact and every
// fact derived along the way. Strata run in increasing order: a
// stratum's rules may only depend on lower strata through negation, so
// each stratum's saturation must fully complete before the next begins.
func EvalProgram(info *analysis.ProgramInfo, opts ...Option) (*factstore.Store, error) {
	store := factstore.NewStore()
	trie := redundancy.New()
	for _, f := range info.InitialFacts {
		store.Add(f)
	}

	strata, predToStratum, err := analysis.Stratify(analysis.Program{
		EdbPredicates: info.EdbPredicates,
		IdbPredicates: info.IdbPredicates,
		Rules:         info.Rules,
	})
	if err != nil {
		return nil, fmt.Errorf("stratification: %w", err)
	}

	rulesByStratum := make([][]ast.Clause, len(strata))
	for _, rule := range info.Rules {
		st, ok := predToStratum[rule.Head.Predicate]
		if !ok {
			return nil, fmt.Errorf("evalProgram: predicate %v was not assigned a stratum", rule.Head.Predicate)
		}
		rulesByStratum[st] = append(rulesByStratum[st], rule)
	}

	for i, rules := range rulesByStratum {
		clauses := seminaive.AnnotateAll(rules, info.IdbPredicates)
		seed := seedFactsFor(clauses, store)
		sat := NewSaturator(store, trie, clauses, opts...)
		if sat.verbose {
			log.V(1).Infof("evalProgram: stratum %d, %d rules, %d seed facts", i, len(rules), len(seed))
		}
		if err := sat.Saturate(context.Background(), seed); err != nil {
			return nil, fmt.Errorf("stratum %d: %w", i, err)
		}
	}
	return store, nil
}

// seedFactsFor collects every fact already in store whose predicate drives
// at least one of clauses' delta variants: these are the facts that were
// present before this stratum started (initial facts of those IDB
// predicates, or facts derived by a lower stratum) and must be treated
// as the first delta
// batch so the rules that read them fire at all.
func seedFactsFor(clauses []seminaive.Clause, store *factstore.Store) []ast.Atom {
	seen := make(map[ast.PredicateSym]bool)
	var seed []ast.Atom
	for _, c := range clauses {
		if c.IsOneShot() || seen[c.DeltaPred] {
			continue
		}
		seen[c.DeltaPred] = true
		store.GetFacts(ast.NewQuery(c.DeltaPred), func(a ast.Atom) error {
			seed = append(seed, a)
			return nil
		})
	}
	return seed
}
