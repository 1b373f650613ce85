package chunk

import (
	"strconv"

	"github.com/aledsdavies/symbex/internal/smt"
	"github.com/aledsdavies/symbex/internal/term"
)

// Heap is an immutable multiset of chunks. Every mutator returns a new Heap
// value; callers that need the old heap back (the decider's tryOrFail
// fallback, a branch that turned out infeasible) simply keep discarding the
// return value of the path that failed.
type Heap struct {
	chunks []Chunk
}

// Empty is the heap with no chunks.
var Empty = Heap{}

// NewHeap builds a Heap from an explicit chunk list, copying the slice so
// the caller's backing array can't be mutated out from under the heap.
func NewHeap(chunks ...Chunk) Heap {
	cp := make([]Chunk, len(chunks))
	copy(cp, chunks)
	return Heap{chunks: cp}
}

// Chunks returns a read-only view of the heap's chunks.
func (h Heap) Chunks() []Chunk {
	return h.chunks
}

// Len reports the number of chunks in the heap.
func (h Heap) Len() int {
	return len(h.chunks)
}

// Plus returns a new heap with c appended. Used by the producer when
// inhaling an access predicate.
func (h Heap) Plus(c Chunk) Heap {
	next := make([]Chunk, len(h.chunks)+1)
	copy(next, h.chunks)
	next[len(h.chunks)] = c
	return Heap{chunks: next}
}

// Without returns a new heap with the chunk at index i removed.
func (h Heap) Without(i int) Heap {
	next := make([]Chunk, 0, len(h.chunks)-1)
	next = append(next, h.chunks[:i]...)
	next = append(next, h.chunks[i+1:]...)
	return Heap{chunks: next}
}

// Replace returns a new heap with the chunk at index i replaced by c.
func (h Heap) Replace(i int, c Chunk) Heap {
	next := make([]Chunk, len(h.chunks))
	copy(next, h.chunks)
	next[i] = c
	return Heap{chunks: next}
}

// Find returns the index of the first chunk matching id, or -1.
func (h Heap) Find(id string) int {
	for i, c := range h.chunks {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

// FindAll returns the indices of every chunk matching id, in heap order.
func (h Heap) FindAll(id string) []int {
	var out []int
	for i, c := range h.chunks {
		if c.ID() == id {
			out = append(out, i)
		}
	}
	return out
}

// TotalPermission sums the (symbolic) permission terms of every chunk
// matching id. Neither the decider nor the consumer calls it.
func (h Heap) TotalPermission(id string) term.Term {
	total := term.NoPerm()
	for _, c := range h.chunks {
		if c.ID() == id {
			total = term.PermPlus(total, c.Perm)
		}
	}
	return total
}

// Consolidate merges chunks that share the same ID and a syntactically
// identical receiver/argument tuple into a single chunk with their
// permissions summed, dropping any chunk whose permission folded to exactly
// NoPerm. This is the heap consolidator the decider's TryOrFail invokes on a
// failed first attempt (spec.md §4.C, §9 Open Question: the compressor
// returns a new Heap rather than mutating, so a caller that discards it on
// a second failure leaves the original heap intact).
func (h Heap) Consolidate() Heap {
	type key struct {
		id       string
		receiver string
	}
	order := []key{}
	merged := map[key]Chunk{}

	for i, c := range h.chunks {
		if c.IsQuantified() || c.Kind == KindMagicWand {
			// Quantified and wand chunks are not merged by this pass; the
			// quantified-chunk supporter (component F) owns their
			// splitting/merging discipline. Each keeps a key unique to its
			// original position so it survives untouched.
			k := key{id: c.ID(), receiver: uniqueKeyFor(i)}
			order = append(order, k)
			merged[k] = c
			continue
		}
		k := key{id: c.ID(), receiver: receiverKey(c)}
		if existing, ok := merged[k]; ok {
			merged[k] = existing.WithPerm(term.PermPlus(existing.Perm, c.Perm))
			continue
		}
		merged[k] = c
		order = append(order, k)
	}

	out := make([]Chunk, 0, len(order))
	for _, k := range order {
		c := merged[k]
		if !c.IsQuantified() && c.Kind != KindMagicWand && c.Perm.Kind == term.KindNoPerm {
			continue
		}
		out = append(out, c)
	}
	return Heap{chunks: out}
}

func receiverKey(c Chunk) string {
	// Structural identity of the receiver/argument tuple, keyed by each
	// term's SMT-LIB2 rendering (smt.Expr).
	if c.Kind == KindBasicField {
		return termKey(c.Receiver)
	}
	k := ""
	for _, a := range c.Args {
		k += termKey(a) + ","
	}
	return k
}

func uniqueKeyFor(ordinal int) string {
	return "#" + strconv.Itoa(ordinal)
}

func termKey(t term.Term) string {
	return smt.Expr(t)
}
