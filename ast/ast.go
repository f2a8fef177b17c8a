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

// Package ast contains the term, atom and clause representations shared by
// every component of the engine: the validator, the fact indexer, the
// semi-naive annotator, the clause evaluator and the magic-set transformer
// all operate on these types.
package ast

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// TruePredicate is a predicate symbol to represent an
// "unconditionally true" proposition.
var TruePredicate = PredicateSym{"true", 0}

// FalsePredicate is a predicate symbol to represent an
// "unconditionally false" proposition.
var FalsePredicate = PredicateSym{"false", 0}

// FormatNumber turns a number constant into a string.
func FormatNumber(num int64) string {
	return fmt.Sprintf("%d", num)
}

// Term represents the building blocks of Datalog programs: constants,
// variables and atoms, also negated atoms, equality and inequality.
//
// Note that constants are distinguished from variables only by how they
// were constructed (Constant vs Variable), not by any lexical convention;
// callers that build terms programmatically are responsible for choosing
// the right constructor.
type Term interface {
	// Marker method.
	isTerm()

	// Returns a string representation.
	String() string

	// Syntactic (or structural) equality.
	Equals(Term) bool

	// Returns a new term with the substitution applied.
	ApplySubst(s Subst) Term
}

// BaseTerm represents a subset of terms: constants or variables.
// Every BaseTerm also implements Term.
type BaseTerm interface {
	Term

	// Marker method.
	isBaseTerm()

	Hash() uint64

	// Returns a new base term with the substitution applied.
	ApplySubstBase(s Subst) BaseTerm
}

// Subst is the interface for substitutions: a mapping from variable to
// BaseTerm.
type Subst interface {
	// Returns the term the given variable maps to, or nil if the variable is not in domain.
	Get(Variable) BaseTerm
}

// SubstMap is a substitution backed by a map from variables to terms.
type SubstMap map[Variable]BaseTerm

// Get implements the Get method from Subst.
func (m SubstMap) Get(v Variable) BaseTerm {
	return m[v]
}

// ConstSubstMap is a substitution backed by a map from variables to constants.
type ConstSubstMap map[Variable]Constant

// Get implements the Get method from Subst.
func (m ConstSubstMap) Get(v Variable) BaseTerm {
	if c, ok := m[v]; ok {
		return c
	}
	return nil
}

// Domain returns the domain of this substitution.
func (m ConstSubstMap) Domain() []Variable {
	var domain []Variable
	for v := range m {
		domain = append(domain, v)
	}
	return domain
}

// ConstSubstPair represents a (variable, constant) pair.
type ConstSubstPair struct {
	v Variable
	c Constant
}

// ConstSubstList is a substitution backed by a slice of (variable, constant) pairs.
// It preserves insertion order, which is useful when building fingerprints
// for the redundancy trie deterministically.
type ConstSubstList []ConstSubstPair

// Get implements the Get method from Subst.
func (c ConstSubstList) Get(v Variable) BaseTerm {
	for _, x := range c {
		if x.v == v {
			return x.c
		}
	}
	return nil
}

// Extend extends this substitution with a new binding.
func (c ConstSubstList) Extend(v Variable, con Constant) ConstSubstList {
	return append(c, ConstSubstPair{v, con})
}

// Domain returns a slice of variables that form the domain of this substitution.
func (c ConstSubstList) Domain() []Variable {
	var domain []Variable
	for _, x := range c {
		domain = append(domain, x.v)
	}
	return domain
}

// GetRow turns this substitution into a tuple, ordered by domain.
func (c ConstSubstList) GetRow(domain []Variable) []Constant {
	result := make([]Constant, len(domain))
	for i, x := range domain {
		result[i] = c.Get(x).(Constant)
	}
	return result
}

// ConstantType describes the kind of constant. The language has no function
// symbols, so a constant is always one of these three interned shapes.
type ConstantType int

const (
	// NameType is the type of name constants, e.g. /foo/bar.
	NameType ConstantType = iota
	// StringType is the type of (quoted) string constants.
	StringType
	// NumberType is the type of number (int64) constants.
	NumberType
)

// Constant represents an interned constant symbol: a name, a string, or a
// number. Two constants with equal (Type, Symbol, NumValue) are the same
// constant for all purposes (unification, indexing, fingerprinting).
type Constant struct {
	Type ConstantType

	// For NameType and StringType, the symbol text itself.
	Symbol string

	// For NumberType, the number value. For other types, a cached hash.
	NumValue int64
}

// Name constructs a new name constant, checking that the symbol starts with
// '/' and contains no empty path segments.
func Name(symbol string) (Constant, error) {
	switch {
	case len(symbol) <= 1:
		return Constant{}, fmt.Errorf("constant symbol must be a non-empty string starting with '/'")
	case symbol[0] != '/':
		return Constant{}, fmt.Errorf("constant symbol must start with '/'")
	}
	for _, part := range strings.Split(symbol[1:], "/") {
		if part == "" {
			return Constant{}, fmt.Errorf("constant symbol %q contains empty part", symbol)
		}
	}
	return Constant{NameType, symbol, int64(hashBytes([]byte(symbol)))}, nil
}

// String constructs a string constant.
func String(str string) Constant {
	return Constant{StringType, str, int64(hashBytes([]byte(str)))}
}

// Number constructs a constant symbol that contains a number.
func Number(num int64) Constant {
	return Constant{NumberType, "", num}
}

// NameValue returns the name value of this constant, if it is of type name.
func (c Constant) NameValue() (string, error) {
	if c.Type != NameType {
		return "", fmt.Errorf("not a name constant %v", c)
	}
	return c.Symbol, nil
}

// StringValue returns the string value of this constant, if it is of type string.
func (c Constant) StringValue() (string, error) {
	if c.Type != StringType {
		return "", fmt.Errorf("not a string constant %v", c)
	}
	return c.Symbol, nil
}

// NumberValue returns the number (int64) value of this constant, if it is of type number.
func (c Constant) NumberValue() (int64, error) {
	if c.Type != NumberType {
		return 0, fmt.Errorf("not a number constant %v", c)
	}
	return c.NumValue, nil
}

func (c Constant) isBaseTerm() {}

func (c Constant) isTerm() {}

// String returns a string representation of the constant.
func (c Constant) String() string {
	switch c.Type {
	case NameType:
		return c.Symbol
	case StringType:
		return strconv.Quote(c.Symbol)
	case NumberType:
		return FormatNumber(c.NumValue)
	default:
		return "?" // cannot happen
	}
}

// DisplayString is like String but without quoting, used for human-facing
// output of query results.
func (c Constant) DisplayString() string {
	switch c.Type {
	case StringType:
		return c.Symbol
	default:
		return c.String()
	}
}

// Equals returns true if u is the same constant.
func (c Constant) Equals(u Term) bool {
	var uconst Constant
	switch v := u.(type) {
	case Constant:
		uconst = v
	case *Constant:
		uconst = *v
	default:
		return false
	}
	if c.Type != uconst.Type {
		return false
	}
	switch c.Type {
	case NameType, StringType:
		return c.Symbol == uconst.Symbol
	case NumberType:
		return c.NumValue == uconst.NumValue
	}
	return false
}

func hashBytes(s []byte) uint64 {
	h := fnv.New64()
	h.Write(s)
	return h.Sum64()
}

// Szudzik's elegant pairing function (http://szudzik.com/ElegantPairing.pdf).
func szudzikElegantPair(fst, snd uint64) uint64 {
	if fst >= snd {
		return fst*fst + fst + snd
	}
	return snd*snd + fst
}

// HashConstants hashes a slice of constants into a single value by
// folding their hashes together with Szudzik pairing.
func HashConstants(constants []Constant) uint64 {
	if len(constants) == 0 {
		return 0
	}
	h := constants[0].Hash()
	for _, snd := range constants[1:] {
		h = szudzikElegantPair(h, snd.Hash())
	}
	return h
}

// EqualsConstants compares two slices of constants element-wise.
func EqualsConstants(left, right []Constant) bool {
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if !left[i].Equals(right[i]) {
			return false
		}
	}
	return true
}

// Hash returns a hash code for this constant.
func (c Constant) Hash() uint64 {
	switch c.Type {
	case NumberType:
		return uint64(c.NumValue)
	default:
		return uint64(c.NumValue) // cached at construction time
	}
}

// ApplySubst simply returns this constant, for any substitution.
func (c Constant) ApplySubst(s Subst) Term { return c }

// ApplySubstBase simply returns this constant, for any substitution.
func (c Constant) ApplySubstBase(s Subst) BaseTerm { return c }

// PredicateSym represents a predicate symbol with a given arity. Equal
// (Symbol, Arity) pairs are the same predicate everywhere in the engine;
// callers are expected to reuse these values rather than re-derive a kind
// tag, which lives instead in the validator's EDB/IDB partition (see
// package analysis).
type PredicateSym struct {
	Symbol string
	Arity  int
}

// InternalPredicateSuffix gets appended to generated predicate names.
const InternalPredicateSuffix = "__tmp"

// ReservedMagicPrefix is reserved for predicate symbols generated by the
// magic-set transformer (see package magic). The validator rejects any
// source-level predicate symbol that begins with it.
const ReservedMagicPrefix = "$"

// IsInternalPredicate returns true if predicate symbol belongs to a generated predicate name.
func (p PredicateSym) IsInternalPredicate() bool {
	return strings.HasSuffix(p.Symbol, InternalPredicateSuffix) || strings.HasPrefix(p.Symbol, ReservedMagicPrefix)
}

func (p PredicateSym) String() string {
	var sb strings.Builder
	sb.WriteString(p.Symbol)
	sb.WriteRune('(')
	for i := 0; i < p.Arity; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "A%d", i)
	}
	sb.WriteRune(')')
	return sb.String()
}

// Variable represents a variable, identified by name. The anonymous
// variable "_" is handled by callers (the validator rejects it in heads;
// ReplaceWildcards below gives each occurrence a fresh identity).
type Variable struct {
	Symbol string
}

func (v Variable) isBaseTerm() {}

func (v Variable) isTerm() {}

// Hash returns a hash code.
func (v Variable) Hash() uint64 {
	return hashTerm(v.Symbol, nil)
}

// String simply returns the variable's name.
func (v Variable) String() string {
	return v.Symbol
}

// Equals provides syntactic equality for variables.
func (v Variable) Equals(u Term) bool {
	o, ok := u.(Variable)
	return ok && v.Symbol == o.Symbol
}

// ApplySubst returns the result of applying the given substitution.
func (v Variable) ApplySubst(s Subst) Term {
	return v.ApplySubstBase(s)
}

// ApplySubstBase returns the result of applying the given substitution.
func (v Variable) ApplySubstBase(s Subst) BaseTerm {
	if s == nil {
		return v
	}
	if t := s.Get(v); t != nil {
		return t
	}
	return v
}

// Atom represents a predicate symbol applied to base-term arguments, e.g.
// parent(A, B).
type Atom struct {
	Predicate PredicateSym
	Args      []BaseTerm
}

func (a Atom) isTerm() {}

// String returns a string representation for this atom.
func (a Atom) String() string {
	var sb strings.Builder
	sb.WriteString(a.Predicate.Symbol)
	sb.WriteString("(")
	for i, arg := range a.Args {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(arg.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// DisplayString is like String but renders constants without quoting.
func (a Atom) DisplayString() string {
	var sb strings.Builder
	sb.WriteString(a.Predicate.Symbol)
	sb.WriteString("(")
	for i, arg := range a.Args {
		if i > 0 {
			sb.WriteString(",")
		}
		if c, ok := arg.(Constant); ok {
			sb.WriteString(c.DisplayString())
		} else {
			sb.WriteString(arg.String())
		}
	}
	sb.WriteString(")")
	return sb.String()
}

// Equals provides syntactic equality for atoms.
func (a Atom) Equals(u Term) bool {
	o, ok := u.(Atom)
	if !ok {
		return false
	}
	if a.Predicate != o.Predicate || len(a.Args) != len(o.Args) {
		return false
	}
	for i, arg := range a.Args {
		if !arg.Equals(o.Args[i]) {
			return false
		}
	}
	return true
}

// Hash returns a hash code for this atom.
func (a Atom) Hash() uint64 {
	return hashTerm(a.Predicate.Symbol, a.Args)
}

// ApplySubst returns the result of applying given substitution to this atom.
func (a Atom) ApplySubst(s Subst) Term {
	newargs := make([]BaseTerm, len(a.Args))
	for i, t := range a.Args {
		newargs[i] = t.ApplySubstBase(s)
	}
	return Atom{a.Predicate, newargs}
}

// IsGround returns true if all arguments are constants.
func (a Atom) IsGround() bool {
	for _, term := range a.Args {
		if _, ok := term.(Constant); !ok {
			return false
		}
	}
	return true
}

// ConstantArgs returns the arguments as constants; only valid for a ground atom.
func (a Atom) ConstantArgs() []Constant {
	out := make([]Constant, len(a.Args))
	for i, arg := range a.Args {
		out[i] = arg.(Constant)
	}
	return out
}

// NewAtom is a convenience constructor for Atom.
func NewAtom(predicateSym string, args ...BaseTerm) Atom {
	return Atom{PredicateSym{predicateSym, len(args)}, args}
}

// NewQuery is a convenience constructor for constructing a goal atom whose
// arguments are all distinct fresh variables.
func NewQuery(predicate PredicateSym) Atom {
	vars := make([]BaseTerm, predicate.Arity)
	for i := 0; i < predicate.Arity; i++ {
		vars[i] = Variable{fmt.Sprintf("X%d", i)}
	}
	return Atom{predicate, vars}
}

// NegAtom represents a negated atom, "not p(...)".
type NegAtom struct {
	Atom Atom
}

func (a NegAtom) isTerm() {}

// String returns a string representation for this negated atom.
func (a NegAtom) String() string {
	return fmt.Sprintf("not %s", a.Atom.String())
}

// Equals returns true if u is syntactically the same negated atom.
func (a NegAtom) Equals(u Term) bool {
	o, ok := u.(NegAtom)
	return ok && a.Atom.Equals(o.Atom)
}

// ApplySubst returns the result of applying given substitution to this atom.
func (a NegAtom) ApplySubst(s Subst) Term {
	return NegAtom{a.Atom.ApplySubst(s).(Atom)}
}

// IsGround returns true if all arguments are constants.
func (a NegAtom) IsGround() bool {
	return a.Atom.IsGround()
}

// NewNegAtom is a convenience constructor for NegAtom.
func NewNegAtom(predicateSym string, args ...BaseTerm) NegAtom {
	return NegAtom{NewAtom(predicateSym, args...)}
}

// Eq represents an equality (unification) premise X = Y.
type Eq struct {
	Left  BaseTerm
	Right BaseTerm
}

func (e Eq) isTerm() {}

// String returns a string representation for this premise.
func (e Eq) String() string {
	return fmt.Sprintf("%s = %s", e.Left, e.Right)
}

// Equals provides syntactic equality for Eq(left, right) terms.
func (e Eq) Equals(u Term) bool {
	o, ok := u.(Eq)
	return ok && e.Left.Equals(o.Left) && e.Right.Equals(o.Right)
}

// ApplySubst returns the result of applying given substitution to this equality.
func (e Eq) ApplySubst(s Subst) Term {
	return Eq{e.Left.ApplySubst(s).(BaseTerm), e.Right.ApplySubst(s).(BaseTerm)}
}

// Ineq represents a disunification (apartness) premise X != Y.
type Ineq struct {
	Left  BaseTerm
	Right BaseTerm
}

func (e Ineq) isTerm() {}

// String returns a string representation for this premise.
func (e Ineq) String() string {
	return fmt.Sprintf("%s != %s", e.Left, e.Right)
}

// Equals provides syntactic equality for Ineq(left, right) terms.
func (e Ineq) Equals(u Term) bool {
	o, ok := u.(Ineq)
	return ok && e.Left.Equals(o.Left) && e.Right.Equals(o.Right)
}

// ApplySubst returns the result of applying given substitution to this inequality.
func (e Ineq) ApplySubst(s Subst) Term {
	return Ineq{e.Left.ApplySubst(s).(BaseTerm), e.Right.ApplySubst(s).(BaseTerm)}
}

// Clause represents a rule "head :- premises." or a fact "head." (nil
// Premises). A clause with head.Predicate == FalsePredicate-like sentinel
// is not special-cased here; queries (headless goals) are represented
// directly as an Atom by callers, not as a Clause.
type Clause struct {
	Head     Atom
	Premises []Term
}

func (c Clause) String() string {
	if c.Premises == nil {
		return fmt.Sprintf("%s.", c.Head.String())
	}
	var premises strings.Builder
	for i, p := range c.Premises {
		if i > 0 {
			premises.WriteString(", ")
		}
		premises.WriteString(p.String())
	}
	return fmt.Sprintf("%s :- %s.", c.Head.String(), premises.String())
}

// NewClause constructs a new clause.
func NewClause(head Atom, premises []Term) Clause {
	return Clause{head, premises}
}

func hashTerm(s string, args []BaseTerm) uint64 {
	h := fnv.New64()
	h.Write([]byte(s))
	for _, arg := range args {
		switch c := arg.(type) {
		case Constant:
			b := make([]byte, 8)
			binary.LittleEndian.PutUint64(b, c.Hash())
			h.Write(b)
		case Variable:
			h.Write([]byte(c.String()))
		}
	}
	return h.Sum64()
}

// FreshVariable returns a variable different from the ones in used.
func FreshVariable(used map[Variable]bool) Variable {
	makeFresh := func(n int) Variable { return Variable{fmt.Sprintf("X%d", n)} }
	i := 0
	for {
		v := makeFresh(i)
		if used[v] {
			i++
			continue
		}
		used[v] = true
		return v
	}
}

// ReplaceWildcards returns a new term where each anonymous variable ("_")
// is replaced with a fresh variable. The used-variables map is updated to
// track newly introduced variables.
func ReplaceWildcards(used map[Variable]bool, term Term) Term {
	numUsed := len(used)
	replaced := term
	switch t := term.(type) {
	case Constant:
		return t
	case Variable:
		if t.Symbol != "_" {
			return t
		}
		return FreshVariable(used)
	case Atom:
		args := make([]BaseTerm, len(t.Args))
		for i, arg := range t.Args {
			args[i] = ReplaceWildcards(used, arg).(BaseTerm)
		}
		replaced = Atom{t.Predicate, args}
	case NegAtom:
		atom := ReplaceWildcards(used, t.Atom).(Atom)
		replaced = NegAtom{atom}
	case Eq:
		left := ReplaceWildcards(used, t.Left).(BaseTerm)
		right := ReplaceWildcards(used, t.Right).(BaseTerm)
		replaced = Eq{left, right}
	case Ineq:
		left := ReplaceWildcards(used, t.Left).(BaseTerm)
		right := ReplaceWildcards(used, t.Right).(BaseTerm)
		replaced = Ineq{left, right}
	}
	if numUsed == len(used) { // no wildcard found
		return term
	}
	return replaced
}

// ReplaceWildcards returns a new clause where each wildcard in the body is
// replaced with a fresh variable. Wildcards in the head are a programmer
// mistake (caught by validation), so the head is left untouched.
func (c Clause) ReplaceWildcards() Clause {
	vars := make(map[Variable]bool)
	AddVarsFromClause(c, vars)
	if !vars[Variable{"_"}] {
		return c
	}
	newPremises := make([]Term, len(c.Premises))
	for i, p := range c.Premises {
		newPremises[i] = ReplaceWildcards(vars, p)
	}
	return Clause{c.Head, newPremises}
}

// AddVars adds all variables occurring in term to m.
func AddVars(term Term, m map[Variable]bool) {
	switch t := term.(type) {
	case Constant:
		return
	case Variable:
		m[t] = true
	case Atom:
		for _, baseTerm := range t.Args {
			AddVars(baseTerm, m)
		}
	case NegAtom:
		AddVars(t.Atom, m)
	case Eq:
		AddVars(t.Left, m)
		AddVars(t.Right, m)
	case Ineq:
		AddVars(t.Left, m)
		AddVars(t.Right, m)
	}
}

// AddVarsFromClause adds all variables occurring in clause (head and body) to m.
func AddVarsFromClause(clause Clause, m map[Variable]bool) {
	AddVars(clause.Head, m)
	for _, p := range clause.Premises {
		AddVars(p, m)
	}
}

// SortIndexInto sorts keys by hash and populates index with the resulting
// permutation; keys with equal hashes keep their original relative order.
func SortIndexInto(keys []*Constant, index []int) {
	hashes := make([]uint64, len(keys))
	for i := range keys {
		index[i] = i
		hashes[i] = keys[i].Hash()
	}
	sort.Stable(&keysorter{keys, hashes, index})
}

type keysorter struct {
	keys   []*Constant
	hashes []uint64
	index  []int
}

func (s keysorter) Len() int { return len(s.keys) }

func (s *keysorter) Swap(i, j int) { s.index[i], s.index[j] = s.index[j], s.index[i] }

func (s *keysorter) Less(i, j int) bool { return s.hashes[s.index[i]] < s.hashes[s.index[j]] }
