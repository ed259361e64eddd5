// Package davidson implements a Davidson-type subspace eigensolver for
// operators available only as matrix-vector products.
//
// References:
//   - The iterative calculation of a few of the lowest eigenvalues of large
//     real-symmetric matrices, Ernest R. Davidson, J. Comput. Phys. 17, 87
//   - Systematic study of selected diagonalization methods, M. Crouzeix,
//     B. Philippe, M. Sadkane, SIAM J. Sci. Comput. 15, 62
package davidson

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
)

// ApplyFunc maps a batch of trial vectors to their operator images. It must
// be side-effect free and deterministic, and is never called concurrently
// with itself.
type ApplyFunc func(xs [][]complex64) ([][]complex64, error)

// PreconditionFunc improves a residual in place, given the Ritz value it
// belongs to.
type PreconditionFunc func(r []complex64, shift float64)

// PickFunc filters the eigenpairs of the projected matrix. It receives the
// eigenvalues sorted by ascending real part, their subspace eigenvectors,
// and the requested root count, and returns the indices of the accepted
// eigenpairs in the order they should be reported.
type PickFunc func(vals []complex128, vecs [][]complex128, nroots int) []int

// PickAll accepts every eigenpair.
func PickAll(vals []complex128, vecs [][]complex128, nroots int) []int {
	idx := make([]int, len(vals))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// DiagonalPreconditioner divides a residual componentwise by (diag - shift),
// guarding near-zero denominators.
func DiagonalPreconditioner(diag []float64) PreconditionFunc {
	return func(r []complex64, shift float64) {
		for i := range r {
			d := diag[i] - shift
			if math.Abs(d) < 1e-8 {
				d = math.Copysign(1e-8, d)
			}
			r[i] = complex64(complex128(r[i]) / complex(d, 0))
		}
	}
}

// Result holds the outcome of a solve. Converged has one flag per requested
// root. Values and Vectors hold the accepted Ritz pairs; they may be shorter
// than the requested root count when the pick policy admits fewer.
type Result struct {
	Converged []bool
	Values    []complex128
	Vectors   [][]complex64
}

// Options are options for Solve.
type Options struct {
	tol      float64
	maxCycle int
	maxSpace int
	lindep   float64
}

// NewOptions returns the default solver options.
func NewOptions() Options {
	opt := Options{}
	opt.tol = 1e-6
	opt.maxCycle = 100
	opt.maxSpace = 50
	opt.lindep = 1e-12
	return opt
}

// Tol sets the residual norm convergence tolerance.
func (opt Options) Tol(v float64) Options {
	opt.tol = v
	return opt
}

// MaxCycle sets the maximum number of iterations.
func (opt Options) MaxCycle(i int) Options {
	opt.maxCycle = i
	return opt
}

// MaxSpace sets the maximum subspace size before a restart.
func (opt Options) MaxSpace(i int) Options {
	opt.maxSpace = i
	return opt
}

// Lindep sets the squared-norm threshold below which a candidate basis
// vector is considered linearly dependent and dropped.
func (opt Options) Lindep(v float64) Options {
	opt.lindep = v
	return opt
}

// Solve extracts nroots eigenpairs of the operator apply, starting from the
// trial block x0.
//
// Each cycle applies the operator to the basis vectors added since the last
// cycle, solves the projected eigenproblem densely, filters it through pick,
// and expands the basis with the preconditioned residuals of the unconverged
// roots. When the basis would exceed the maximum subspace size, it is
// collapsed to the current Ritz vectors.
//
// Reaching the cycle limit is not an error: the best available eigenpairs
// are returned with their convergence flags.
func Solve(apply ApplyFunc, x0 [][]complex64, precond PreconditionFunc, nroots int, pick PickFunc, options ...Options) (Result, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if len(x0) == 0 {
		return Result{}, errors.Errorf("empty initial trial block")
	}
	dim := len(x0[0])
	if nroots > dim {
		nroots = dim
	}

	basis := make([][]complex64, 0, opt.maxSpace)
	for _, x := range x0 {
		appendOrthonormal(&basis, cloneVec(x), opt.lindep)
	}
	if len(basis) == 0 {
		return Result{}, errors.Errorf("linearly dependent initial trial block")
	}
	images := make([][]complex64, 0, opt.maxSpace)

	res := Result{Converged: make([]bool, nroots)}
	residuals := make([][]complex64, 0, nroots)
	for cycle := 0; cycle < opt.maxCycle; cycle++ {
		if len(images) < len(basis) {
			imgs, err := apply(basis[len(images):])
			if err != nil {
				return Result{}, errors.Wrap(err, "")
			}
			if len(imgs) != len(basis)-len(images) {
				return Result{}, errors.Errorf("%d %d", len(imgs), len(basis)-len(images))
			}
			images = append(images, imgs...)
		}

		k := len(basis)
		h := make([]complex64, k*k)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				h[i*k+j] = cdot64(basis[i], images[j])
			}
		}
		pairs, err := eig(k, h)
		if err != nil {
			return Result{}, errors.Wrap(err, "")
		}

		vals := make([]complex128, len(pairs))
		vecs := make([][]complex128, len(pairs))
		for i, p := range pairs {
			vals[i], vecs[i] = p.val, p.vec
		}
		idx := pick(vals, vecs, nroots)
		if len(idx) == 0 {
			return Result{}, errors.Errorf("no eigenvalue admitted by the pick policy, cycle %d", cycle)
		}

		n := min(nroots, len(idx))
		res.Values = res.Values[:0]
		res.Vectors = res.Vectors[:0]
		residuals = residuals[:0]
		allConverged := true
		for r := 0; r < n; r++ {
			p := pairs[idx[r]]
			x := combine(basis, p.vec)
			w := combine(images, p.vec)
			rv := make([]complex64, dim)
			for i := range rv {
				rv[i] = w[i] - complex64(p.val)*x[i]
			}
			res.Converged[r] = math.Sqrt(norm642(rv)) < opt.tol
			if !res.Converged[r] {
				allConverged = false
			}
			res.Values = append(res.Values, p.val)
			res.Vectors = append(res.Vectors, x)
			residuals = append(residuals, rv)
		}
		for r := n; r < nroots; r++ {
			res.Converged[r] = false
			allConverged = false
		}
		if allConverged || cycle == opt.maxCycle-1 {
			break
		}

		var unconverged int
		for r := 0; r < n; r++ {
			if !res.Converged[r] {
				unconverged++
			}
		}
		if k+unconverged > opt.maxSpace {
			// Collapse the subspace to the current Ritz vectors. Their
			// images are recomputed on the next cycle.
			basis = basis[:0]
			images = images[:0]
			for _, x := range res.Vectors {
				appendOrthonormal(&basis, cloneVec(x), opt.lindep)
			}
			if len(basis) == 0 {
				return Result{}, errors.Errorf("degenerate restart basis, cycle %d", cycle)
			}
			continue
		}

		var added int
		for r := 0; r < n; r++ {
			if res.Converged[r] {
				continue
			}
			precond(residuals[r], real(res.Values[r]))
			if appendOrthonormal(&basis, residuals[r], opt.lindep) {
				added++
			}
		}
		if added == 0 {
			// The residuals carry no new direction; the subspace is exact
			// to working precision.
			break
		}
	}

	return res, nil
}

// appendOrthonormal orthogonalizes v against basis and appends it, unless it
// is linearly dependent. Orthogonalization is done twice for stability.
func appendOrthonormal(basis *[][]complex64, v []complex64, lindep float64) bool {
	norm0 := norm642(v)
	if norm0 == 0 {
		return false
	}
	for pass := 0; pass < 2; pass++ {
		for _, b := range *basis {
			o := cdot64(b, v)
			for i := range v {
				v[i] -= o * b[i]
			}
		}
	}
	nrm2 := norm642(v)
	if nrm2/norm0 < lindep {
		return false
	}
	nrm := float32(math.Sqrt(nrm2))
	for i := range v {
		v[i] /= complex(nrm, 0)
	}
	*basis = append(*basis, v)
	return true
}

// combine returns the linear combination of vecs weighted by u.
func combine(vecs [][]complex64, u []complex128) []complex64 {
	x := make([]complex64, len(vecs[0]))
	for i, ui := range u {
		c := complex64(ui)
		for j, vj := range vecs[i] {
			x[j] += c * vj
		}
	}
	return x
}

// cdot64 returns the inner product conj(a).b, accumulated in double
// precision.
func cdot64(a, b []complex64) complex64 {
	var s complex128
	for i, ai := range a {
		s += cmplx.Conj(complex128(ai)) * complex128(b[i])
	}
	return complex64(s)
}

func norm642(a []complex64) float64 {
	var s float64
	for _, v := range a {
		s += float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
	}
	return s
}

func cloneVec(a []complex64) []complex64 {
	b := make([]complex64, len(a))
	copy(b, a)
	return b
}
