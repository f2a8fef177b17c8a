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

package redundancy

import (
	"sync"
	"testing"

	"github.com/latticeql/horn/ast"
)

func TestAddFirstTimeTrue(t *testing.T) {
	trie := New()
	fp := []ast.Constant{ast.Number(1), ast.Number(2)}
	if !trie.Add(fp) {
		t.Error("first Add should return true")
	}
	if trie.Add(fp) {
		t.Error("second Add of the same fingerprint should return false")
	}
}

func TestAddDistinguishesPrefixes(t *testing.T) {
	trie := New()
	short := []ast.Constant{ast.Number(1)}
	long := []ast.Constant{ast.Number(1), ast.Number(2)}
	if !trie.Add(short) {
		t.Fatal("Add(short) should be true")
	}
	if !trie.Add(long) {
		t.Error("Add(long) should be true even though short is a prefix of it")
	}
	if !trie.Contains(short) || !trie.Contains(long) {
		t.Error("both fingerprints should be contained")
	}
}

func TestConcurrentAddExactlyOneWinner(t *testing.T) {
	trie := New()
	fp := []ast.Constant{ast.Number(42)}
	const n = 100
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if trie.Add(fp) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winner across %d concurrent Adds, got %d", n, wins)
	}
}
