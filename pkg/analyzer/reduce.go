package analyzer

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/3leaps/topichub/pkg/topics"
)

// pcaOversample and pcaPowerIters tune the randomized PCA.
const (
	pcaOversample = 8
	pcaPowerIters = 2
)

// Reduce projects vectors to dims dimensions. Method none, or a target at or
// above the input dimension, returns a copy of the input.
func (a *Native) Reduce(ctx context.Context, vectors [][]float32, method topics.ReductionMethod, dims int, seed int64) ([][]float32, error) {
	const op = "Reduce"
	if len(vectors) == 0 {
		return nil, nil
	}
	if err := checkDims(vectors); err != nil {
		return nil, topics.Wrap(op, topics.KindInvalidInput, err)
	}
	if dims < 1 {
		return nil, topics.Errorf(op, topics.KindInvalidInput, "target dimensions must be >= 1, got %d", dims)
	}

	in := len(vectors[0])
	if method == topics.ReductionNone || dims >= in {
		out := make([][]float32, len(vectors))
		for i, v := range vectors {
			out[i] = append([]float32(nil), v...)
		}
		return out, nil
	}

	rng := rand.New(rand.NewSource(seed))
	switch method {
	case topics.ReductionRandom:
		return randomProjection(vectors, dims, rng), nil
	case topics.ReductionPCA:
		out, err := pca(ctx, vectors, dims, rng)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return out, err
	default:
		return nil, topics.Errorf(op, topics.KindInvalidInput, "unknown reduction method %q", method)
	}
}

// randomProjection multiplies by a seeded Gaussian matrix scaled by
// 1/sqrt(dims).
func randomProjection(vectors [][]float32, dims int, rng *rand.Rand) [][]float32 {
	in := len(vectors[0])
	scale := 1 / math.Sqrt(float64(dims))
	proj := make([][]float64, in)
	for i := range proj {
		proj[i] = make([]float64, dims)
		for j := range proj[i] {
			proj[i][j] = rng.NormFloat64() * scale
		}
	}

	out := make([][]float32, len(vectors))
	acc := make([]float64, dims)
	for r, v := range vectors {
		for j := range acc {
			acc[j] = 0
		}
		for i, x := range v {
			if x == 0 {
				continue
			}
			row := proj[i]
			for j := range acc {
				acc[j] += float64(x) * row[j]
			}
		}
		out[r] = make([]float32, dims)
		for j, x := range acc {
			out[r][j] = float32(x)
		}
	}
	return out
}

// pca returns the scores of the top dims principal components, computed
// with randomized subspace iteration.
func pca(ctx context.Context, vectors [][]float32, dims int, rng *rand.Rand) ([][]float32, error) {
	n, in := len(vectors), len(vectors[0])
	mu := mean(vectors, allIndices(n))

	// X is the centered data in float64.
	x := make([][]float64, n)
	for i, v := range vectors {
		x[i] = make([]float64, in)
		for j, f := range v {
			x[i][j] = float64(f) - mu[j]
		}
	}

	l := min(dims+pcaOversample, in, n)
	omega := make([][]float64, in)
	for i := range omega {
		omega[i] = make([]float64, l)
		for j := range omega[i] {
			omega[i][j] = rng.NormFloat64()
		}
	}

	// Y = X * Omega, then power iterations Y = X * (X^T * Y).
	y := mulNK(x, omega)
	orthonormalize(y)
	for it := 0; it < pcaPowerIters; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z := mulTN(x, y)
		orthonormalize(z)
		y = mulNK(x, z)
		orthonormalize(y)
	}

	// B = Q^T X; eigen-decompose B B^T from the rows of B^T.
	bt := mulTN(x, y)
	bbt := make([][]float64, l)
	for i := range bbt {
		bbt[i] = make([]float64, l)
	}
	for _, row := range bt {
		for i := 0; i < l; i++ {
			for j := i; j < l; j++ {
				bbt[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < l; i++ {
		for j := 0; j < i; j++ {
			bbt[i][j] = bbt[j][i]
		}
	}
	vals, vecs := jacobiEigen(bbt)

	order := make([]int, l)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return vals[order[i]] > vals[order[j]] })

	// Scores = Q * U_d * Sigma_d.
	out := make([][]float32, n)
	for r := 0; r < n; r++ {
		out[r] = make([]float32, dims)
		for c := 0; c < min(dims, l); c++ {
			col := order[c]
			sigma := math.Sqrt(math.Max(vals[col], 0))
			s := 0.0
			for k := 0; k < l; k++ {
				s += y[r][k] * vecs[k][col]
			}
			out[r][c] = float32(s * sigma)
		}
	}
	return out, nil
}

// mulNK returns A (n x m) times B (m x k).
func mulNK(a, b [][]float64) [][]float64 {
	k := len(b[0])
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = make([]float64, k)
		for j, x := range row {
			if x == 0 {
				continue
			}
			brow := b[j]
			for c := range out[i] {
				out[i][c] += x * brow[c]
			}
		}
	}
	return out
}

// mulTN returns A^T (m x n) times B (n x k).
func mulTN(a, b [][]float64) [][]float64 {
	m, k := len(a[0]), len(b[0])
	out := make([][]float64, m)
	for i := range out {
		out[i] = make([]float64, k)
	}
	for r, row := range a {
		brow := b[r]
		for i, x := range row {
			if x == 0 {
				continue
			}
			for c := range out[i] {
				out[i][c] += x * brow[c]
			}
		}
	}
	return out
}

// orthonormalize applies modified Gram-Schmidt to the columns of m in place.
// Degenerate columns are zeroed.
func orthonormalize(m [][]float64) {
	if len(m) == 0 {
		return
	}
	cols := len(m[0])
	for c := 0; c < cols; c++ {
		for p := 0; p < c; p++ {
			dot := 0.0
			for r := range m {
				dot += m[r][c] * m[r][p]
			}
			for r := range m {
				m[r][c] -= dot * m[r][p]
			}
		}
		nrm := 0.0
		for r := range m {
			nrm += m[r][c] * m[r][c]
		}
		nrm = math.Sqrt(nrm)
		for r := range m {
			if nrm < 1e-12 {
				m[r][c] = 0
			} else {
				m[r][c] /= nrm
			}
		}
	}
}

// jacobiEigen diagonalises the symmetric matrix a with cyclic Jacobi
// rotations. It returns the eigenvalues and the eigenvectors as columns.
func jacobiEigen(a [][]float64) ([]float64, [][]float64) {
	n := len(a)
	m := make([][]float64, n)
	v := make([][]float64, n)
	for i := range m {
		m[i] = append([]float64(nil), a[i]...)
		v[i] = make([]float64, n)
		v[i][i] = 1
	}

	for sweep := 0; sweep < 100; sweep++ {
		off := 0.0
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				off += m[i][j] * m[i][j]
			}
		}
		if off < 1e-20 {
			break
		}
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				if math.Abs(m[p][q]) < 1e-300 {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c
				for k := 0; k < n; k++ {
					mkp, mkq := m[k][p], m[k][q]
					m[k][p] = c*mkp - s*mkq
					m[k][q] = s*mkp + c*mkq
				}
				for k := 0; k < n; k++ {
					mpk, mqk := m[p][k], m[q][k]
					m[p][k] = c*mpk - s*mqk
					m[q][k] = s*mpk + c*mqk
				}
				for k := 0; k < n; k++ {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = c*vkp - s*vkq
					v[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	vals := make([]float64, n)
	for i := range vals {
		vals[i] = m[i][i]
	}
	return vals, v
}
