package forest

import (
	"math/rand/v2"
)

// node is a tree node. Leaves carry a class distribution; internal nodes send
// x[feature] <= threshold to the left.
type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	dist      []float64
}

func (n *node) leaf() bool { return n.left == nil }

func (n *node) predict(row []float64) []float64 {
	cur := n
	for !cur.leaf() {
		if row[cur.feature] <= cur.threshold {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return cur.dist
}

func (n *node) count() int {
	if n.leaf() {
		return 1
	}
	return 1 + n.left.count() + n.right.count()
}

func (n *node) depth() int {
	if n.leaf() {
		return 0
	}
	return 1 + max(n.left.depth(), n.right.depth())
}

// grower builds one tree over a bootstrap sample
type grower struct {
	data       *binned
	y          []int
	numClasses int
	params     Params
	subset     int
	rng        *rand.Rand
	importance []float64
}

func gini(counts []float64, total float64) float64 {
	if total == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := c / total
		sum += p * p
	}
	return 1 - sum
}

func (g *grower) classCounts(rows []int) []float64 {
	counts := make([]float64, g.numClasses)
	for _, r := range rows {
		counts[g.y[r]]++
	}
	return counts
}

func (g *grower) makeLeaf(counts []float64, total float64) *node {
	dist := make([]float64, len(counts))
	for i, c := range counts {
		dist[i] = c / total
	}
	return &node{dist: dist}
}

type split struct {
	feature int
	bin     int
	gain    float64
}

func (g *grower) grow(rows []int, depth int) *node {
	counts := g.classCounts(rows)
	total := float64(len(rows))
	impurity := gini(counts, total)

	minInst := g.params.MinInstancesPerNode
	if depth >= g.params.MaxDepth || impurity == 0 || len(rows) < 2*minInst {
		return g.makeLeaf(counts, total)
	}

	best := split{feature: -1}
	numFeatures := len(g.data.bins)
	for _, f := range g.rng.Perm(numFeatures)[:g.subset] {
		th := g.data.thresholds[f]
		if len(th) == 0 {
			continue
		}
		hist := make([][]float64, len(th)+1)
		for b := range hist {
			hist[b] = make([]float64, g.numClasses)
		}
		for _, r := range rows {
			hist[g.data.bins[f][r]][g.y[r]]++
		}

		left := make([]float64, g.numClasses)
		leftN := 0.0
		for t := 0; t < len(th); t++ {
			for c, v := range hist[t] {
				left[c] += v
				leftN += v
			}
			rightN := total - leftN
			if leftN < float64(minInst) || rightN < float64(minInst) {
				continue
			}
			right := make([]float64, g.numClasses)
			for c := range right {
				right[c] = counts[c] - left[c]
			}
			gain := impurity*total - gini(left, leftN)*leftN - gini(right, rightN)*rightN
			if gain > best.gain+1e-12 {
				best = split{feature: f, bin: t, gain: gain}
			}
		}
	}

	if best.feature < 0 {
		return g.makeLeaf(counts, total)
	}

	var leftRows, rightRows []int
	for _, r := range rows {
		if int(g.data.bins[best.feature][r]) <= best.bin {
			leftRows = append(leftRows, r)
		} else {
			rightRows = append(rightRows, r)
		}
	}
	g.importance[best.feature] += best.gain

	return &node{
		feature:   best.feature,
		threshold: g.data.thresholds[best.feature][best.bin],
		left:      g.grow(leftRows, depth+1),
		right:     g.grow(rightRows, depth+1),
	}
}
