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

// Package horn is the programmatic entry point: construct an Engine for
// one of four evaluation strategies, Init it with a validated clause set,
// and Query it for the ground atoms that match a pattern.
package horn

import (
	"fmt"

	"github.com/latticeql/horn/analysis"
	"github.com/latticeql/horn/ast"
	"github.com/latticeql/horn/engine"
	"github.com/latticeql/horn/magic"
)

// EngineVariant selects which evaluation strategy a Query drives.
type EngineVariant int

const (
	// SeminaiveSerial runs the semi-naive evaluator with a single worker:
	// equivalent to a classic round-robin bottom-up evaluator.
	SeminaiveSerial EngineVariant = iota
	// SeminaiveConcurrent runs the same evaluator over a pool of workers.
	SeminaiveConcurrent
	// ChunkedConcurrent is SeminaiveConcurrent with an explicit work-item
	// batch size, set via WithChunkSize.
	ChunkedConcurrent
	// MagicSetOverConcurrent rewrites the program with the magic-set
	// transform before handing it to the concurrent evaluator, so only
	// facts relevant to the query's bound arguments are ever derived.
	MagicSetOverConcurrent
)

func (v EngineVariant) String() string {
	switch v {
	case SeminaiveSerial:
		return "seminaive-serial"
	case SeminaiveConcurrent:
		return "seminaive-concurrent"
	case ChunkedConcurrent:
		return "chunked-concurrent"
	case MagicSetOverConcurrent:
		return "magic-set-over-concurrent"
	default:
		return fmt.Sprintf("unknown-engine-variant(%d)", int(v))
	}
}

// defaultConcurrency is the worker count every concurrent variant starts
// from when the caller does not pass WithWorkers.
const defaultConcurrency = 4

// Option configures an Engine, mirroring the functional-options pattern
// used by engine.Option.
type Option func(*Engine)

// WithWorkers overrides the worker pool size for a concurrent variant. It
// has no effect on SeminaiveSerial, which always runs with one worker.
func WithWorkers(w int) Option {
	return func(e *Engine) {
		if w > 0 {
			e.workers = w
		}
	}
}

// WithChunkSize overrides the work-item batch size for ChunkedConcurrent
// and MagicSetOverConcurrent.
func WithChunkSize(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.chunkSize = k
		}
	}
}

// Engine evaluates a validated Datalog program under one fixed strategy.
// An Engine is not safe for concurrent Init/Query calls against the same
// instance; concurrent Query calls after a single Init are fine, since
// each Query runs its own independent evaluation over immutable rules.
type Engine struct {
	variant   EngineVariant
	workers   int
	chunkSize int

	info *analysis.ProgramInfo
}

// New constructs an Engine for variant. Concurrent variants default to a
// fixed worker count; pass WithWorkers/WithChunkSize to override.
func New(variant EngineVariant, opts ...Option) *Engine {
	e := &Engine{
		variant:   variant,
		workers:   1,
		chunkSize: engine.DefaultChunkSize,
	}
	switch variant {
	case SeminaiveConcurrent, ChunkedConcurrent, MagicSetOverConcurrent:
		e.workers = defaultConcurrency
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init validates clauses (range restriction, stratification, arity
// agreement) and, on success, makes the program ready to Query. It
// returns an *analysis.ValidationError on a rejected clause; when several
// rules fail range restriction, their errors are combined with multierr.
func (e *Engine) Init(clauses []ast.Clause) error {
	info, err := analysis.Analyze(clauses)
	if err != nil {
		return err
	}
	e.info = info
	return nil
}

// Query evaluates q's predicate to its stratified fixed point (or, for
// MagicSetOverConcurrent, to the fixed point of the magic-rewritten
// program) and returns every ground atom matching q, keyed by its
// canonical string so repeated atoms collapse exactly once.
func (e *Engine) Query(q ast.Atom) (map[string]ast.Atom, error) {
	if e.info == nil {
		return nil, fmt.Errorf("horn: Query called before Init")
	}

	var (
		answerPred ast.PredicateSym
		evalOpts   []engine.Option
	)
	info := e.info

	switch e.variant {
	case SeminaiveSerial:
		evalOpts = []engine.Option{engine.WithWorkers(1)}
		answerPred = q.Predicate
	case SeminaiveConcurrent:
		evalOpts = []engine.Option{engine.WithWorkers(e.workers)}
		answerPred = q.Predicate
	case ChunkedConcurrent:
		evalOpts = []engine.Option{engine.WithWorkers(e.workers), engine.WithChunkSize(e.chunkSize)}
		answerPred = q.Predicate
	case MagicSetOverConcurrent:
		result, err := magic.Transform(q, e.info)
		if err != nil {
			return nil, fmt.Errorf("horn: magic-set transform: %w", err)
		}
		info = magicProgramInfo(e.info, result)
		evalOpts = []engine.Option{engine.WithWorkers(e.workers), engine.WithChunkSize(e.chunkSize)}
		answerPred = result.AnswerPred
	default:
		return nil, fmt.Errorf("horn: %v", e.variant)
	}

	store, err := engine.EvalProgram(info, evalOpts...)
	if err != nil {
		return nil, err
	}

	results := make(map[string]ast.Atom)
	err = store.GetFacts(ast.NewQuery(answerPred), func(a ast.Atom) error {
		candidate := a
		if e.variant == MagicSetOverConcurrent {
			candidate = ast.Atom{Predicate: q.Predicate, Args: a.Args}
		}
		if matchesPattern(candidate, q) {
			results[candidate.String()] = candidate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// matchesPattern reports whether candidate agrees with q on every
// constant argument position; q's variable positions match anything.
func matchesPattern(candidate, q ast.Atom) bool {
	for i, arg := range q.Args {
		c, ok := arg.(ast.Constant)
		if !ok {
			continue
		}
		if !candidate.Args[i].Equals(c) {
			return false
		}
	}
	return true
}

// magicProgramInfo assembles the ProgramInfo engine.EvalProgram needs
// from a magic-set Result: the rewritten rules are all IDB (each has a
// non-empty body by construction), the original EDB facts and predicates
// pass through unchanged, and the magic-rewrite's own seed/input facts
// are EDB relative to this program unless their predicate is also the
// head of a rewritten rule, in which case it stays IDB.
func magicProgramInfo(original *analysis.ProgramInfo, result *magic.Result) *analysis.ProgramInfo {
	info := &analysis.ProgramInfo{
		EdbPredicates: make(map[ast.PredicateSym]struct{}),
		IdbPredicates: make(map[ast.PredicateSym]struct{}),
		Rules:         result.Rules,
		InitialFacts:  append(append([]ast.Atom(nil), original.InitialFacts...), result.Facts...),
	}
	for p := range original.EdbPredicates {
		info.EdbPredicates[p] = struct{}{}
	}
	for _, r := range result.Rules {
		info.IdbPredicates[r.Head.Predicate] = struct{}{}
	}
	for _, f := range result.Facts {
		if _, isRuleHead := info.IdbPredicates[f.Predicate]; !isRuleHead {
			info.EdbPredicates[f.Predicate] = struct{}{}
		}
	}
	return info
}
