package diff

import (
	log "github.com/sirupsen/logrus"
)

// threshold is the share of descendants two inner nodes must have in
// common to be matched.
const threshold = 0.5

// Match builds a matching between the old tree from and the new tree to.  The roots are matched
// with each other; leaves are matched by label and equal value;
// inner nodes are matched bottom up with the candidate sharing the
// most matched descendants; leaves left over are matched with the
// leaf at the same position under matched parents.
func Match(from, to Tree) (m *Matching, err error) {
	m, err = NewMatching(from, to)
	if err != nil {
		return
	}
	m.Add(m.old.root, m.new.root)
	m.matchLeaves()
	m.matchInner()
	m.matchPositional()
	log.Debugf("matched %d of %d old and %d new nodes", m.Len(), len(m.old.nodes), len(m.new.nodes))
	return
}

func (m *Matching) matchLeaves() {
	type lv struct {
		label, value string
	}
	pending := make(map[lv][]uint64)
	for _, k := range m.old.pre {
		n := m.old.nodes[k]
		if n.Leaf {
			key := lv{n.Label, n.Value}
			pending[key] = append(pending[key], k)
		}
	}
	for _, k := range m.new.pre {
		n := m.new.nodes[k]
		if !n.Leaf {
			continue
		}
		key := lv{n.Label, n.Value}
		if q := pending[key]; len(q) > 0 {
			m.Add(q[0], k)
			pending[key] = q[1:]
		}
	}
}

func (m *Matching) matchInner() {
	var oldInner []uint64
	for _, k := range m.old.post {
		if !m.old.nodes[k].Leaf && k != m.old.root {
			oldInner = append(oldInner, k)
		}
	}
	for _, y := range m.new.post {
		ny := m.new.nodes[y]
		if ny.Leaf || y == m.new.root {
			continue
		}
		var best uint64
		bestScore := -1
		for _, x := range oldInner {
			if _, taken := m.partner[x]; taken {
				continue
			}
			nx := m.old.nodes[x]
			if nx.Label != ny.Label {
				continue
			}
			score := m.ContainedChildren(x, y)
			if !m.similar(x, y, score) {
				continue
			}
			if score > bestScore {
				best, bestScore = x, score
			}
		}
		if bestScore >= 0 {
			m.Add(best, y)
		}
	}
}

// similar applies the FMES criterion to inner nodes x and y.  Two
// empty inner nodes are similar when their parents are matched.
func (m *Matching) similar(x, y uint64, common int) bool {
	dx, dy := m.old.desc[x], m.new.desc[y]
	if dx == 0 && dy == 0 {
		return m.Contains(m.old.nodes[x].Parent, m.new.nodes[y].Parent)
	}
	most := dx
	if dy > most {
		most = dy
	}
	return common > 0 && float64(common)/float64(most) >= threshold
}

func (m *Matching) matchPositional() {
	for _, y := range m.new.pre {
		if _, ok := m.reverse[y]; ok {
			continue
		}
		ny := m.new.nodes[y]
		px, ok := m.reverse[ny.Parent]
		if !ok || y == m.new.root {
			continue
		}
		pos := indexOf(m.new.nodes[ny.Parent].Children, y)
		siblings := m.old.nodes[px].Children
		if pos < 0 || pos >= len(siblings) {
			continue
		}
		x := siblings[pos]
		nx := m.old.nodes[x]
		if _, taken := m.partner[x]; taken || nx.Label != ny.Label || nx.Leaf != ny.Leaf {
			continue
		}
		m.Add(x, y)
	}
}

func indexOf(keys []uint64, k uint64) int {
	for i, v := range keys {
		if v == k {
			return i
		}
	}
	return -1
}
