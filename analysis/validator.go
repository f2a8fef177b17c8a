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

// Package analysis validates a set of clauses before they are handed to the
// evaluator: range restriction of every variable, arity agreement across all
// occurrences of a predicate, rejection of reserved names appearing in user
// source, and stratification of negation.
package analysis

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/latticeql/horn/ast"
	"github.com/latticeql/horn/unionfind"
)

// Kind classifies why a clause was rejected.
type Kind int

const (
	// UnsafeVariable: a variable appears in the head or in a negated/disequality
	// premise without ever being bound by a positive atom or an equality with
	// a bound term.
	UnsafeVariable Kind = iota
	// Unstratified: the dependency graph has a cycle through negation.
	Unstratified
	// UselessUnification: an equality or disequality whose both sides are the
	// same variable, e.g. "X = X" or "X != X".
	UselessUnification
	// UnknownPredicate: a premise refers to a predicate that never appears as
	// the head of any clause.
	UnknownPredicate
	// ArityMismatch: two occurrences of the same predicate symbol disagree on
	// the number of arguments.
	ArityMismatch
	// DisallowedFeature: the clause uses a name or construct reserved for
	// internal use, such as the magic-set mangling prefix.
	DisallowedFeature
)

func (k Kind) String() string {
	switch k {
	case UnsafeVariable:
		return "unsafe-variable"
	case Unstratified:
		return "unstratified"
	case UselessUnification:
		return "useless-unification"
	case UnknownPredicate:
		return "unknown-predicate"
	case ArityMismatch:
		return "arity-mismatch"
	case DisallowedFeature:
		return "disallowed-feature"
	default:
		return "unknown"
	}
}

// ValidationError reports why a clause failed validation.
type ValidationError struct {
	Kind   Kind
	Clause ast.Clause
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s in %v", e.Kind, e.Msg, e.Clause)
}

func newErr(kind Kind, clause ast.Clause, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Clause: clause, Msg: fmt.Sprintf(format, args...)}
}

// ProgramInfo is the result of a successful Analyze: the clauses partitioned
// into facts and rules, and the EDB/IDB predicate classification that
// stratification and evaluation both need.
type ProgramInfo struct {
	// EdbPredicates are symbols that never appear as the head of a clause
	// with a non-empty body; their extension is whatever facts were supplied.
	EdbPredicates map[ast.PredicateSym]struct{}
	// IdbPredicates are symbols that appear as the head of at least one rule.
	IdbPredicates map[ast.PredicateSym]struct{}
	// Rules are the clauses with a non-empty body.
	Rules []ast.Clause
	// InitialFacts are the clauses with an empty body (ground head atoms).
	InitialFacts []ast.Atom
}

// Analyze validates every clause and returns the partitioned program. It
// checks, in order: rejection of reserved (generated) predicate names in
// clause heads together with arity agreement across all occurrences of
// each predicate, range restriction of every rule, that every premise
// predicate is defined by some clause, and stratification of negation. Range-restriction failures are collected across all rules via
// multierr before returning, so a caller sees every offending clause at
// once instead of fixing them one at a time.
func Analyze(clauses []ast.Clause) (*ProgramInfo, error) {
	info := &ProgramInfo{
		EdbPredicates: make(map[ast.PredicateSym]struct{}),
		IdbPredicates: make(map[ast.PredicateSym]struct{}),
	}
	arities := make(map[string]ast.PredicateSym)
	for _, clause := range clauses {
		if clause.Head.Predicate.IsInternalPredicate() {
			return nil, newErr(DisallowedFeature, clause, "predicate name %q uses a reserved prefix", clause.Head.Predicate.Symbol)
		}
		if err := checkArity(clause.Head.Predicate, arities, clause); err != nil {
			return nil, err
		}
		for _, premise := range clause.Premises {
			if err := checkPremiseArity(premise, arities, clause); err != nil {
				return nil, err
			}
		}
		if len(clause.Premises) == 0 {
			if err := checkArityOf(clause.Head, clause); err != nil {
				return nil, err
			}
			info.InitialFacts = append(info.InitialFacts, clause.Head)
			if _, ok := info.IdbPredicates[clause.Head.Predicate]; !ok {
				info.EdbPredicates[clause.Head.Predicate] = struct{}{}
			}
			continue
		}
		delete(info.EdbPredicates, clause.Head.Predicate)
		info.IdbPredicates[clause.Head.Predicate] = struct{}{}
		info.Rules = append(info.Rules, clause)
	}
	var errs error
	for _, clause := range info.Rules {
		if err := checkRule(clause); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	for _, clause := range clauses {
		for _, premise := range clause.Premises {
			sym, ok := premiseSym(premise)
			if !ok {
				continue
			}
			if _, ok := info.EdbPredicates[sym]; ok {
				continue
			}
			if _, ok := info.IdbPredicates[sym]; ok {
				continue
			}
			return nil, newErr(UnknownPredicate, clause, "predicate %v is never defined", sym)
		}
	}
	if _, _, err := Stratify(Program{info.EdbPredicates, info.IdbPredicates, info.Rules}); err != nil {
		return nil, newErr(Unstratified, ast.Clause{}, "%v", err)
	}
	return info, nil
}

func premiseSym(premise ast.Term) (ast.PredicateSym, bool) {
	switch p := premise.(type) {
	case ast.Atom:
		return p.Predicate, true
	case ast.NegAtom:
		return p.Atom.Predicate, true
	default:
		return ast.PredicateSym{}, false
	}
}

func checkArityOf(atom ast.Atom, clause ast.Clause) error {
	if atom.Predicate.Arity != len(atom.Args) {
		return newErr(ArityMismatch, clause, "%s expects %d arguments but has %d", atom.Predicate.Symbol, atom.Predicate.Arity, len(atom.Args))
	}
	return nil
}

func checkArity(sym ast.PredicateSym, seen map[string]ast.PredicateSym, clause ast.Clause) error {
	if prior, ok := seen[sym.Symbol]; ok {
		if prior.Arity != sym.Arity {
			return newErr(ArityMismatch, clause, "%s used with arity %d and %d", sym.Symbol, prior.Arity, sym.Arity)
		}
		return nil
	}
	seen[sym.Symbol] = sym
	return nil
}

func checkPremiseArity(premise ast.Term, seen map[string]ast.PredicateSym, clause ast.Clause) error {
	switch p := premise.(type) {
	case ast.Atom:
		if err := checkArity(p.Predicate, seen, clause); err != nil {
			return err
		}
		return checkArityOf(p, clause)
	case ast.NegAtom:
		if err := checkArity(p.Atom.Predicate, seen, clause); err != nil {
			return err
		}
		return checkArityOf(p.Atom, clause)
	default:
		return nil
	}
}

// checkRule enforces range restriction: every variable that appears
// anywhere in the clause must be bound, either by
// occurring in a positive atom premise or by being forced equal (directly,
// or transitively through a chain of variable-to-variable equalities) to a
// constant or to a variable that is itself bound. Negated atoms and
// disequalities never bind; they only consume variables bound elsewhere,
// which is what makes negation and disunification safe to evaluate.
func checkRule(clause ast.Clause) error {
	clause = clause.ReplaceWildcards()
	var (
		boundVars = make(map[ast.Variable]bool)
		seenVars  = make(map[ast.Variable]bool)
	)
	ast.AddVars(clause.Head, seenVars)
	uf := unionfind.New()

	for _, premise := range clause.Premises {
		ast.AddVars(premise, seenVars)
		switch p := premise.(type) {
		case ast.Atom:
			ast.AddVars(p, boundVars)
		case ast.NegAtom:
			// Negation never binds; its variables must already be bound.
		case ast.Eq:
			if err := checkEquality(p.Left, p.Right, clause, boundVars, &uf); err != nil {
				return err
			}
		case ast.Ineq:
			if p.Left.Equals(p.Right) {
				if _, isVar := p.Left.(ast.Variable); isVar {
					return newErr(UselessUnification, clause, "%v != %v can never hold", p.Left, p.Right)
				}
			}
		}
	}

	// A variable-to-variable equality class counts as bound when any one of
	// its members is bound, whichever member is its representative.
	boundRoots := make(map[ast.BaseTerm]bool)
	for v := range boundVars {
		boundRoots[uf.Get(v)] = true
	}
	for v := range seenVars {
		if boundVars[v] {
			continue
		}
		if x := uf.Get(v); x != nil {
			if _, isConst := x.(ast.Constant); isConst {
				continue
			}
			if boundRoots[x] {
				continue
			}
		}
		return newErr(UnsafeVariable, clause, "variable %v is not bound by any positive premise", v)
	}
	return nil
}

func checkEquality(left, right ast.BaseTerm, clause ast.Clause, boundVars map[ast.Variable]bool, uf *unionfind.UnionFind) error {
	if left.Equals(right) {
		if _, isVar := left.(ast.Variable); isVar {
			return newErr(UselessUnification, clause, "%v = %v is a tautology", left, right)
		}
	}
	if _, isConst := left.(ast.Constant); isConst {
		if v, isVar := right.(ast.Variable); isVar {
			boundVars[v] = true
			return nil
		}
	}
	if _, isConst := right.(ast.Constant); isConst {
		if v, isVar := left.(ast.Variable); isVar {
			boundVars[v] = true
			return nil
		}
	}
	if _, l := left.(ast.Variable); l {
		if _, r := right.(ast.Variable); r {
			merged, err := unionfind.UnifyTermsExtend([]ast.BaseTerm{left}, []ast.BaseTerm{right}, *uf)
			if err != nil {
				return err
			}
			*uf = merged
		}
	}
	return nil
}
