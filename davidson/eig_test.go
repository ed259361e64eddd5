package davidson

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestEigHermitian(t *testing.T) {
	t.Parallel()
	// [[2, 1-i], [1+i, 3]] has eigenvalues 1 and 4.
	h := []complex64{2, complex(1, -1), complex(1, 1), 3}
	pairs, err := eig(2, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("%d", len(pairs))
	}

	vals := []float64{1, 4}
	for i, p := range pairs {
		if math.Abs(real(p.val)-vals[i]) > 1e-5 || math.Abs(imag(p.val)) > 1e-5 {
			t.Fatalf("%d %v %f", i, p.val, vals[i])
		}
		checkResidual(t, 2, h, p)
	}
}

func TestEigNonNormal(t *testing.T) {
	t.Parallel()
	// Upper triangular, eigenvalues on the diagonal.
	h := []complex64{1, 1, 0, 2}
	pairs, err := eig(2, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("%d", len(pairs))
	}

	vals := []float64{1, 2}
	for i, p := range pairs {
		if math.Abs(real(p.val)-vals[i]) > 1e-5 || math.Abs(imag(p.val)) > 1e-5 {
			t.Fatalf("%d %v %f", i, p.val, vals[i])
		}
		checkResidual(t, 2, h, p)
	}

	// The eigenvector of 2 is [1, 1]/sqrt(2).
	v := pairs[1].vec
	if math.Abs(cmplx.Abs(v[0])-1/math.Sqrt(2)) > 1e-5 || math.Abs(cmplx.Abs(v[1])-1/math.Sqrt(2)) > 1e-5 {
		t.Fatalf("%v", v)
	}
}

func checkResidual(t *testing.T, n int, h []complex64, p eigenpair) {
	t.Helper()
	var norm float64
	for i := 0; i < n; i++ {
		var hv complex128
		for j := 0; j < n; j++ {
			hv += complex128(h[i*n+j]) * p.vec[j]
		}
		norm += abs2(hv - p.val*p.vec[i])
	}
	if math.Sqrt(norm) > 1e-5 {
		t.Fatalf("%v %v", p.val, p.vec)
	}
	if math.Abs(norm2(p.vec)-1) > 1e-5 {
		t.Fatalf("%f", norm2(p.vec))
	}
}
