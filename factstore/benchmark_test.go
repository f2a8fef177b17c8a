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

package factstore

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/latticeql/horn/ast"
)

func BenchmarkAdd(b *testing.B) {
	store := NewStore()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p := ast.PredicateSym{Symbol: fmt.Sprintf("p%d", rand.Intn(10)), Arity: 2}
		c1 := ast.String(fmt.Sprintf("c%d", rand.Intn(100)))
		c2 := ast.String(fmt.Sprintf("c%d", rand.Intn(100)))
		store.Add(ast.Atom{p, []ast.BaseTerm{c1, c2}})
	}
}

func BenchmarkGetFacts(b *testing.B) {
	store := NewStore()
	p := ast.PredicateSym{Symbol: "p", Arity: 2}
	for i := 0; i < 10000; i++ {
		c1 := ast.Number(int64(i % 100))
		c2 := ast.Number(int64(i))
		store.Add(ast.Atom{p, []ast.BaseTerm{c1, c2}})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pattern := ast.Atom{p, []ast.BaseTerm{ast.Number(int64(i % 100)), ast.Variable{"Y"}}}
		store.GetFacts(pattern, func(ast.Atom) error { return nil })
	}
}
