package repository

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/proctor/internal/domain/types"
)

// RiskIndex is an in-memory treap ranking sessions by peak risk.
//
// Ordering: peak DESC, then session id ASC. "less" means ranks earlier, so an
// in-order walk yields the riskiest session first.
type RiskIndex struct {
	mu   sync.RWMutex
	root *node
	byID map[string]indexed
}

// scoreScale converts risk scores to fixed point so that ties are exact.
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	return scoreFP(math.Round(x * scoreScale))
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

type indexed struct {
	score  scoreFP
	mockID string
	at     time.Time
}

type node struct {
	id    string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
	// first and last are the scores at either end of the subtree's in-order
	// walk; distinct counts the different scores within it.
	first    scoreFP
	last     scoreFP
	distinct int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func ndistinct(n *node) int {
	if n == nil {
		return 0
	}
	return n.distinct
}

func fix(n *node) {
	if n == nil {
		return
	}
	n.size = 1 + nsize(n.left) + nsize(n.right)
	n.first, n.last = n.score, n.score
	n.distinct = 1 + ndistinct(n.left) + ndistinct(n.right)
	if n.left != nil {
		n.first = n.left.first
		if n.left.last == n.score {
			n.distinct--
		}
	}
	if n.right != nil {
		n.last = n.right.last
		if n.right.first == n.score {
			n.distinct--
		}
	}
}

// distinctAbove counts the different scores higher than score in the
// subtree rooted at n, descending a single path.
func distinctAbove(n *node, score scoreFP) int {
	count := 0
	// prev is the lowest score already counted on the way down.
	prev, counted := scoreFP(0), false
	for n != nil {
		if n.score <= score {
			n = n.left
			continue
		}
		// n and everything to its left rank above score.
		c := ndistinct(n.left)
		if n.left == nil || n.left.last != n.score {
			c++
		}
		if counted && c > 0 && n.first == prev {
			c--
		}
		count += c
		prev, counted = n.score, true
		n = n.right
	}
	return count
}

func less(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score scoreFP) *node {
	if n == nil {
		n = &node{id: id, score: score, prio: rand.Uint64()}
		fix(n)
		return n
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// NewRiskIndex creates an empty index.
func NewRiskIndex() *RiskIndex {
	return &RiskIndex{byID: make(map[string]indexed)}
}

// UpdatePeak records a session's peak risk if it is higher than the one
// already indexed. It reports whether the index changed.
func (x *RiskIndex) UpdatePeak(sessionID, mockID string, peak float64, at time.Time) bool {
	ns := toFixedPoint(peak)

	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.byID[sessionID]; ok {
		if ns <= old.score {
			return false
		}
		x.root = deleteNode(x.root, sessionID, old.score)
	}
	x.byID[sessionID] = indexed{score: ns, mockID: mockID, at: at}
	x.root = insert(x.root, sessionID, ns)
	return true
}

// Remove drops a session, used when a session is restarted.
func (x *RiskIndex) Remove(sessionID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.byID[sessionID]; ok {
		x.root = deleteNode(x.root, sessionID, old.score)
		delete(x.byID, sessionID)
	}
}

// TopN returns the n riskiest sessions. Equal peaks share a rank.
func (x *RiskIndex) TopN(n int) ([]types.Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]types.Entry, 0, min(n, len(x.byID)))
	x.collect(x.root, n, &out)
	assignRanksWithTies(out)
	return out, nil
}

// Rank returns the entry for one session. Its rank is one more than the
// number of distinct peaks above it, matching TopN.
func (x *RiskIndex) Rank(sessionID string) (types.Entry, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	rec, ok := x.byID[sessionID]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return types.Entry{
		SessionID: sessionID,
		MockID:    rec.mockID,
		PeakRisk:  toFloat(rec.score),
		At:        rec.at,
		Rank:      1 + distinctAbove(x.root, rec.score),
	}, nil
}

// Len returns the number of indexed sessions.
func (x *RiskIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

func (x *RiskIndex) collect(n *node, limit int, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	x.collect(n.left, limit, out)
	if len(*out) < limit {
		rec := x.byID[n.id]
		*out = append(*out, types.Entry{SessionID: n.id, MockID: rec.mockID, PeakRisk: toFloat(rec.score), At: rec.at})
	}
	if len(*out) < limit {
		x.collect(n.right, limit, out)
	}
}

// assignRanksWithTies gives equal peaks the same rank; the next distinct
// peak takes the following rank.
func assignRanksWithTies(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].PeakRisk != entries[i-1].PeakRisk {
			rank++
		}
		entries[i].Rank = rank
	}
}
