// Copyright 2024 The cdrcore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hopscotch

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestInsertLookupRemove(t *testing.T) {
	tests := []struct {
		name string
		key  uint64
		val  uint32
	}{
		{"small key", 7, 42},
		{"zero key", 0, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := New[uint32](16, nil)

			tbl.Insert(tt.key, tt.val)
			if v, ok := tbl.Lookup(tt.key); !ok || v != tt.val {
				t.Fatalf("Lookup(%d) = (%d, %v), want (%d, true)", tt.key, v, ok, tt.val)
			}

			tbl.Insert(tt.key, tt.val+1) // update in place
			if v, ok := tbl.Lookup(tt.key); !ok || v != tt.val+1 {
				t.Fatalf("Lookup(%d) after update = (%d, %v), want (%d, true)", tt.key, v, ok, tt.val+1)
			}

			if !tbl.Remove(tt.key) {
				t.Fatalf("Remove(%d) = false, want true", tt.key)
			}
			if _, ok := tbl.Lookup(tt.key); ok {
				t.Fatalf("Lookup(%d) found a value after Remove", tt.key)
			}
			if tbl.Remove(tt.key) {
				t.Fatalf("second Remove(%d) = true, want false", tt.key)
			}
		})
	}
}

func TestResizeGrows(t *testing.T) {
	tests := []struct {
		name  string
		count uint64
	}{
		{"grows past one doubling", 500},
		{"grows past several doublings", 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := New[uint32](16, nil)
			for i := uint64(0); i < tt.count; i++ {
				tbl.Insert(i, uint32(i*2))
			}
			for i := uint64(0); i < tt.count; i++ {
				v, ok := tbl.Lookup(i)
				if !ok || v != uint32(i*2) {
					t.Fatalf("Lookup(%d) = (%d, %v), want (%d, true)", i, v, ok, i*2)
				}
			}
			if tbl.Len() != int(tt.count) {
				t.Fatalf("Len() = %d, want %d", tbl.Len(), tt.count)
			}
		})
	}
}

func TestReclaimCallbackFiresOnResize(t *testing.T) {
	tests := []struct {
		name  string
		count uint64
	}{
		{"insert well past initial capacity", 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fired int32
			tbl := New[uint32](16, func() { atomic.AddInt32(&fired, 1) })
			for i := uint64(0); i < tt.count; i++ {
				tbl.Insert(i, uint32(i))
			}
			if atomic.LoadInt32(&fired) == 0 {
				t.Fatal("reclaim callback never fired despite growth past initial capacity")
			}
		})
	}
}

// TestConcurrentInsertRemoveLookup mirrors spec scenario S5: insert keys
// 0..999, remove keys 0..499 concurrently on four writer goroutines (the
// table serializes them internally) with a fifth goroutine doing lookups
// throughout, then Enumerate must yield exactly the surviving 500 keys.
func TestConcurrentInsertRemoveLookup(t *testing.T) {
	tests := []struct {
		name    string
		writers int
		total   int
	}{
		{"four writers, half removed", 4, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := New[uint32](16, nil)

			var wg sync.WaitGroup
			stop := make(chan struct{})

			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						tbl.Lookup(uint64(tt.total / 2))
					}
				}
			}()

			perWriter := tt.total / tt.writers
			wg.Add(tt.writers)
			for w := 0; w < tt.writers; w++ {
				w := w
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						key := uint64(w*perWriter + i)
						tbl.Insert(key, uint32(key))
					}
				}()
			}
			wg.Wait()

			var rwg sync.WaitGroup
			rwg.Add(tt.writers)
			removePerWriter := tt.total / 2 / tt.writers
			for w := 0; w < tt.writers; w++ {
				w := w
				go func() {
					defer rwg.Done()
					lo := w * removePerWriter
					hi := lo + removePerWriter
					for k := lo; k < hi; k++ {
						tbl.Remove(uint64(k))
					}
				}()
			}
			rwg.Wait()
			close(stop)
			wg.Wait()

			got := tbl.Enumerate()
			wantSurvivors := tt.total - tt.total/2
			if len(got) != wantSurvivors {
				t.Fatalf("Enumerate() returned %d entries, want %d", len(got), wantSurvivors)
			}
			for k := uint64(tt.total / 2); k < uint64(tt.total); k++ {
				v, ok := got[k]
				if !ok || v != uint32(k) {
					t.Fatalf("surviving key %d missing or wrong: (%d, %v)", k, v, ok)
				}
			}
			for k := uint64(0); k < uint64(tt.total/2); k++ {
				if _, ok := got[k]; ok {
					t.Fatalf("removed key %d still present", k)
				}
			}
		})
	}
}
