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

// Package magic implements the magic-set program transformation: given a
// query and a validated rule set, it rewrites the rules so that
// evaluating them bottom-up only derives facts relevant to the query's
// bound arguments, instead of the whole extension of every IDB predicate
// the query transitively depends on.
//
// The transformation adorns each predicate occurrence with a bound/free
// pattern (derived from the query's constant arguments, propagated
// left-to-right through rule bodies), generates one supplementary
// predicate per positive IDB atom in an adorned rule body to carry the
// join of the variables bound so far, and seeds the whole rewritten program with an "input" fact built
// from the query's own constant arguments.
package magic

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/creachadair/stringset"
	"golang.org/x/exp/maps"

	"github.com/latticeql/horn/analysis"
	"github.com/latticeql/horn/ast"
)

// Adornment is a per-argument bound/free pattern, one byte per argument:
// 'b' for bound, 'f' for free.
type Adornment string

// adornedPred is a predicate together with the adornment it was reached
// under; the worklist is a queue of these.
type adornedPred struct {
	base      ast.PredicateSym
	adornment Adornment
}

func (p adornedPred) key() string { return fmt.Sprintf("%s/%d<%s>", p.base.Symbol, p.base.Arity, p.adornment) }

// adornmentFromArgs computes the bound/free pattern of args against the
// set of variables already known to be bound (bound is nil for a
// top-level query, where only constants count as bound).
func adornmentFromArgs(args []ast.BaseTerm, bound map[ast.Variable]bool) Adornment {
	var sb strings.Builder
	for _, arg := range args {
		switch t := arg.(type) {
		case ast.Constant:
			sb.WriteByte('b')
		case ast.Variable:
			if bound[t] {
				sb.WriteByte('b')
			} else {
				sb.WriteByte('f')
			}
		}
	}
	return Adornment(sb.String())
}

func adornedName(base ast.PredicateSym, a Adornment) ast.PredicateSym {
	return ast.PredicateSym{Symbol: fmt.Sprintf("%sq_%s_%s", ast.ReservedMagicPrefix, base.Symbol, a), Arity: base.Arity}
}

// nameGen hands out fresh supplementary/input predicate names, using the
// reserved magic prefix so generated predicates can never collide with a
// user-written one.
type nameGen struct{ n int }

func (g *nameGen) inputPred(base ast.PredicateSym, a Adornment, boundArity int) ast.PredicateSym {
	return ast.PredicateSym{Symbol: fmt.Sprintf("%sinput_%s_%s", ast.ReservedMagicPrefix, base.Symbol, a), Arity: boundArity}
}

func (g *nameGen) supPred(base ast.PredicateSym, a Adornment, arity int) ast.PredicateSym {
	g.n++
	return ast.PredicateSym{Symbol: fmt.Sprintf("%ssup%d_%s_%s", ast.ReservedMagicPrefix, g.n, base.Symbol, a), Arity: arity}
}

// Result is the outcome of Transform: a rewritten rule set and seed facts
// ready to hand to engine.EvalProgram once their predicates are classified
// as EDB/IDB (EvalProgram restratifies them, since magic predicates form
// their own dependency structure), plus the predicate whose extension
// answers the original query.
type Result struct {
	Rules      []ast.Clause
	Facts      []ast.Atom
	AnswerPred ast.PredicateSym
}

// Transform rewrites info's rules for evaluation seeded by query. EDB
// predicates and their facts pass through unchanged: there is nothing to
// adorn, since they are looked up directly against the indexer
// regardless of binding pattern.
func Transform(query ast.Atom, info *analysis.ProgramInfo) (*Result, error) {
	gen := &nameGen{}
	rulesByHead := make(map[ast.PredicateSym][]ast.Clause)
	for _, r := range info.Rules {
		rulesByHead[r.Head.Predicate] = append(rulesByHead[r.Head.Predicate], r)
	}
	factsByHead := make(map[ast.PredicateSym][]ast.Atom)
	for _, f := range info.InitialFacts {
		factsByHead[f.Predicate] = append(factsByHead[f.Predicate], f)
	}

	queryAdornment := adornmentFromArgs(query.Args, nil)
	start := adornedPred{base: query.Predicate, adornment: queryAdornment}

	seen := stringset.New()
	worklist := []adornedPred{start}

	var outRules []ast.Clause
	var outFacts []ast.Atom

	for len(worklist) > 0 {
		ap := worklist[0]
		worklist = worklist[1:]
		if seen.Contains(ap.key()) {
			continue
		}
		seen.Add(ap.key())

		for _, rule := range rulesByHead[ap.base] {
			rewritten, referenced, err := adornRule(rule, ap.adornment, info.EdbPredicates, gen)
			if err != nil {
				return nil, fmt.Errorf("magic: adorning %v: %w", ap.base, err)
			}
			outRules = append(outRules, rewritten...)
			for _, r := range referenced {
				if !seen.Contains(r.key()) {
					worklist = append(worklist, r)
				}
			}
		}
		for _, fact := range factsByHead[ap.base] {
			outFacts = append(outFacts, ast.Atom{Predicate: adornedName(ap.base, ap.adornment), Args: fact.Args})
		}
	}

	// Seed the top-level query's own bound arguments: unlike a recursive
	// adorned subgoal (whose input tuples are produced by whichever rule
	// invokes it), the query itself has no caller, so its input fact is
	// built directly from the query's constant arguments.
	boundArgs := boundArgsAt(query.Args, queryAdornment)
	answerPred := adornedName(query.Predicate, queryAdornment)
	inputPred := gen.inputPred(query.Predicate, queryAdornment, len(boundArgs))
	outFacts = append(outFacts, ast.Atom{Predicate: inputPred, Args: boundArgs})

	return &Result{Rules: outRules, Facts: outFacts, AnswerPred: answerPred}, nil
}

// adornRule rewrites one rule under headAdornment, producing the final
// adorned rule plus zero or more supplementary clauses that carry the
// join of variables bound so far between consecutive IDB subgoals.
// referenced lists every adorned predicate this rewrite newly depends on,
// so the caller can grow the worklist.
func adornRule(rule ast.Clause, headAdornment Adornment, edb map[ast.PredicateSym]struct{}, gen *nameGen) ([]ast.Clause, []adornedPred, error) {
	if len(headAdornment) != len(rule.Head.Args) {
		return nil, nil, fmt.Errorf("adornment %q does not match arity of %v", headAdornment, rule.Head.Predicate)
	}
	bound := make(map[ast.Variable]bool)
	for i, arg := range rule.Head.Args {
		if headAdornment[i] == 'b' {
			if v, ok := arg.(ast.Variable); ok {
				bound[v] = true
			}
		}
	}

	// The input relation's shape is positional, one column per 'b' in the
	// adornment (duplicates and constants included), since it must match
	// exactly between every rule that defines this predicate under this
	// adornment and every call site that feeds it.
	headBoundArgs := boundArgsAt(rule.Head.Args, headAdornment)
	inputPred := gen.inputPred(rule.Head.Predicate, headAdornment, len(headBoundArgs))
	supAtom := ast.Atom{Predicate: inputPred, Args: headBoundArgs}

	var rules []ast.Clause
	var referenced []adornedPred
	var pending []ast.Term // premises accumulated since the last supplementary boundary

	for _, premise := range rule.Premises {
		atom, ok := premise.(ast.Atom)
		if !ok {
			pending = append(pending, premise)
			continue
		}
		if _, isEDB := edb[atom.Predicate]; isEDB {
			pending = append(pending, atom)
			ast.AddVars(atom, bound)
			continue
		}

		// A positive IDB atom: adorn it against the currently bound
		// variables, close out the supplementary clause accumulated so
		// far, and start a fresh one rooted at this atom.
		atomAdornment := adornmentFromArgs(atom.Args, bound)
		adornedAtom := ast.Atom{Predicate: adornedName(atom.Predicate, atomAdornment), Args: atom.Args}
		referenced = append(referenced, adornedPred{base: atom.Predicate, adornment: atomAdornment})

		callContext := append([]ast.Term{supAtom}, pending...)

		// The magic rule: every time this call site is reached, it seeds
		// the callee's own input relation with the arguments the caller
		// has bound for it. Without this, a recursive subgoal would only
		// ever see the top-level query's seed and never fire again.
		calleeBoundArgs := boundArgsAt(atom.Args, atomAdornment)
		calleeInputPred := gen.inputPred(atom.Predicate, atomAdornment, len(calleeBoundArgs))
		magicHead := ast.Atom{Predicate: calleeInputPred, Args: calleeBoundArgs}
		rules = append(rules, ast.NewClause(magicHead, append([]ast.Term(nil), callContext...)))

		body := append(append([]ast.Term{}, callContext...), adornedAtom)
		ast.AddVars(atom, bound)
		nextVars := boundVarsInOrder(bound)
		nextSupPred := gen.supPred(rule.Head.Predicate, headAdornment, len(nextVars))
		nextSupHead := ast.Atom{Predicate: nextSupPred, Args: varsToBaseTerms(nextVars)}
		rules = append(rules, ast.NewClause(nextSupHead, body))

		supAtom = ast.Atom{Predicate: nextSupPred, Args: varsToBaseTerms(nextVars)}
		pending = nil
	}

	finalHead := ast.Atom{Predicate: adornedName(rule.Head.Predicate, headAdornment), Args: rule.Head.Args}
	finalBody := append([]ast.Term{supAtom}, pending...)
	rules = append(rules, ast.NewClause(finalHead, finalBody))
	return rules, referenced, nil
}

// boundArgsAt returns the arguments at positions a marks bound, in
// positional order, duplicates and constants included.
func boundArgsAt(args []ast.BaseTerm, a Adornment) []ast.BaseTerm {
	var out []ast.BaseTerm
	for i, arg := range args {
		if a[i] == 'b' {
			out = append(out, arg)
		}
	}
	return out
}

// boundVarsInOrder returns the variables of bound sorted by name, giving
// a deterministic argument order for generated supplementary/input atoms.
func boundVarsInOrder(bound map[ast.Variable]bool) []ast.Variable {
	vars := maps.Keys(bound)
	sort.Slice(vars, func(i, j int) bool { return vars[i].Symbol < vars[j].Symbol })
	return vars
}

func varsToBaseTerms(vars []ast.Variable) []ast.BaseTerm {
	out := make([]ast.BaseTerm, len(vars))
	for i, v := range vars {
		out[i] = v
	}
	return out
}
