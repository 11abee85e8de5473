package classifier

import "math"

// linear holds one weight row and bias per class.
type linear struct {
	w [][]float64
	b []float64
}

func newLinear(classes, dims int) *linear {
	l := &linear{w: make([][]float64, classes), b: make([]float64, classes)}
	for k := range l.w {
		l.w[k] = make([]float64, dims)
	}
	return l
}

func (l *linear) score(k int, x []float64) float64 {
	s := l.b[k]
	for j, v := range x {
		s += l.w[k][j] * v
	}
	return s
}

func (l *linear) Predict(x []float64) int {
	best, bestScore := 0, math.Inf(-1)
	for k := range l.w {
		if s := l.score(k, x); s > bestScore {
			best, bestScore = k, s
		}
	}
	return best
}

// fitLogistic runs full-batch gradient descent on the L2-regularized softmax
// loss with penalty 1/(2C)·‖w‖².
func fitLogistic(c float64, x [][]float64, y []int, classes int) Model {
	n, dims := len(x), len(x[0])
	m := newLinear(classes, dims)
	lambda := 1 / (c * float64(n))
	probs := make([]float64, classes)

	for epoch := 0; epoch < epochs; epoch++ {
		gw := newLinear(classes, dims)
		for i, row := range x {
			maxS := math.Inf(-1)
			for k := 0; k < classes; k++ {
				probs[k] = m.score(k, row)
				maxS = math.Max(maxS, probs[k])
			}
			var sum float64
			for k := range probs {
				probs[k] = math.Exp(probs[k] - maxS)
				sum += probs[k]
			}
			for k := range probs {
				g := probs[k] / sum
				if k == y[i] {
					g--
				}
				gw.b[k] += g
				for j, v := range row {
					gw.w[k][j] += g * v
				}
			}
		}
		for k := 0; k < classes; k++ {
			m.b[k] -= learningRate * gw.b[k] / float64(n)
			for j := range m.w[k] {
				m.w[k][j] -= learningRate * (gw.w[k][j]/float64(n) + lambda*m.w[k][j])
			}
		}
	}
	return m
}

// fitSVM trains one-vs-rest linear SVMs by subgradient descent on the hinge
// loss with penalty 1/(2C)·‖w‖².
func fitSVM(c float64, x [][]float64, y []int, classes int) Model {
	n, dims := len(x), len(x[0])
	m := newLinear(classes, dims)
	lambda := 1 / (c * float64(n))

	for k := 0; k < classes; k++ {
		for epoch := 0; epoch < epochs; epoch++ {
			gw := make([]float64, dims)
			var gb float64
			for i, row := range x {
				target := -1.0
				if y[i] == k {
					target = 1
				}
				if target*m.score(k, row) < 1 {
					gb -= target
					for j, v := range row {
						gw[j] -= target * v
					}
				}
			}
			m.b[k] -= learningRate * gb / float64(n)
			for j := range m.w[k] {
				m.w[k][j] -= learningRate * (gw[j]/float64(n) + lambda*m.w[k][j])
			}
		}
	}
	return m
}
