package davidson

import (
	"cmp"
	"math"
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// eigenpair is one eigenvalue of the projected matrix together with its
// eigenvector in the subspace basis.
type eigenpair struct {
	val complex128
	vec []complex128
}

// eig computes the full eigendecomposition of an n x n complex matrix given
// in row-major order, sorted by ascending real part.
//
// The matrix h is embedded into the real matrix [[Re(h), -Im(h)], [Im(h), Re(h)]]
// of twice the size, whose spectrum is the union of the spectra of h and
// conj(h). An eigenvector (p, q) of the embedding recovers z = p + i*q, which
// is an eigenvector of h, or the zero vector for the copies belonging to
// conj(h). Real eigenvalues of h appear twice in the embedding and are
// deduplicated by linear dependence.
func eig(n int, h []complex64) ([]eigenpair, error) {
	if len(h) != n*n {
		return nil, errors.Errorf("%d %d", len(h), n)
	}

	r := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			re := float64(real(h[i*n+j]))
			im := float64(imag(h[i*n+j]))
			r.Set(i, j, re)
			r.Set(i, n+j, -im)
			r.Set(n+i, j, im)
			r.Set(n+i, n+j, re)
		}
	}

	var ed mat.Eigen
	if ok := ed.Factorize(r, mat.EigenRight); !ok {
		return nil, errors.Errorf("factorization failed")
	}
	vals := ed.Values(nil)
	vecs := mat.NewCDense(2*n, 2*n, nil)
	ed.VectorsTo(vecs)

	candidates := make([]eigenpair, 0, n)
	for j := 0; j < 2*n; j++ {
		z := make([]complex128, n)
		var znorm2, vnorm2 float64
		for i := 0; i < n; i++ {
			top, bottom := vecs.At(i, j), vecs.At(n+i, j)
			z[i] = top + 1i*bottom
			znorm2 += abs2(z[i])
			vnorm2 += abs2(top) + abs2(bottom)
		}
		// Conjugate copies recover the zero vector.
		if znorm2 <= 1e-12*vnorm2 {
			continue
		}
		znorm := math.Sqrt(znorm2)
		for i := range z {
			z[i] /= complex(znorm, 0)
		}
		candidates = append(candidates, eigenpair{val: vals[j], vec: z})
	}

	slices.SortFunc(candidates, func(a, b eigenpair) int {
		if c := cmp.Compare(real(a.val), real(b.val)); c != 0 {
			return c
		}
		return cmp.Compare(imag(a.val), imag(b.val))
	})

	// Real eigenvalues of h are doubled by the embedding. Within a group of
	// equal eigenvalues, keep only linearly independent eigenvectors.
	pairs := make([]eigenpair, 0, n)
	for _, p := range candidates {
		w := slices.Clone(p.vec)
		for _, q := range pairs {
			if cmplx.Abs(q.val-p.val) > 1e-6*(1+cmplx.Abs(p.val)) {
				continue
			}
			o := cdot(q.vec, w)
			for i := range w {
				w[i] -= o * q.vec[i]
			}
		}
		wnorm := math.Sqrt(norm2(w))
		if wnorm < 1e-6 {
			continue
		}
		for i := range w {
			w[i] /= complex(wnorm, 0)
		}
		pairs = append(pairs, eigenpair{val: p.val, vec: w})
	}
	if len(pairs) == 0 {
		return nil, errors.Errorf("empty spectrum, n=%d", n)
	}

	return pairs, nil
}

// cdot returns the inner product conj(a).b.
func cdot(a, b []complex128) complex128 {
	var s complex128
	for i, ai := range a {
		s += cmplx.Conj(ai) * b[i]
	}
	return s
}

func norm2(a []complex128) float64 {
	var s float64
	for _, v := range a {
		s += abs2(v)
	}
	return s
}

func abs2(v complex128) float64 {
	return real(v)*real(v) + imag(v)*imag(v)
}
