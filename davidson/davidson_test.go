package davidson

import (
	"flag"
	"log"
	"math"
	"testing"
)

func matApply(n int, h []complex64) ApplyFunc {
	return func(xs [][]complex64) ([][]complex64, error) {
		out := make([][]complex64, len(xs))
		for k, x := range xs {
			v := make([]complex64, n)
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					v[i] += h[i*n+j] * x[j]
				}
			}
			out[k] = v
		}
		return out, nil
	}
}

func unit(n, i int) []complex64 {
	v := make([]complex64, n)
	v[i] = 1
	return v
}

func TestSolveDiagonal(t *testing.T) {
	t.Parallel()
	const n = 6
	h := make([]complex64, n*n)
	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		h[i*n+i] = complex(float32(i+1), 0)
		diag[i] = float64(i + 1)
	}

	x0 := [][]complex64{unit(n, 0), unit(n, 1)}
	res, err := Solve(matApply(n, h), x0, DiagonalPreconditioner(diag), 2, PickAll)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	vals := []float64{1, 2}
	for i, v := range vals {
		if !res.Converged[i] {
			t.Fatalf("%d %#v", i, res.Converged)
		}
		if math.Abs(real(res.Values[i])-v) > 1e-6 {
			t.Fatalf("%d %v %f", i, res.Values[i], v)
		}
	}
	// Eigenvectors of a diagonal matrix are the standard basis.
	for i := range vals {
		m := float64(real(res.Vectors[i][i]))*float64(real(res.Vectors[i][i])) + float64(imag(res.Vectors[i][i]))*float64(imag(res.Vectors[i][i]))
		if math.Abs(m-1) > 1e-6 {
			t.Fatalf("%d %v", i, res.Vectors[i])
		}
	}
}

func TestSolveDense(t *testing.T) {
	t.Parallel()
	const n = 4
	h := []complex64{
		1, complex(0.2, 0.1), 0, complex(0, 0.3),
		complex(0.2, -0.1), 2, complex(0.4, 0), 0,
		0, complex(0.4, 0), 3, complex(0.1, -0.2),
		complex(0, -0.3), 0, complex(0.1, 0.2), 4,
	}

	pairs, err := eig(n, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	x0 := [][]complex64{unit(n, 0), unit(n, 1)}
	res, err := Solve(matApply(n, h), x0, DiagonalPreconditioner([]float64{1, 2, 3, 4}), 2, PickAll)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	for i := 0; i < 2; i++ {
		if !res.Converged[i] {
			t.Fatalf("%d %#v", i, res.Converged)
		}
		if math.Abs(real(res.Values[i])-real(pairs[i].val)) > 1e-5 {
			t.Fatalf("%d %v %v", i, res.Values[i], pairs[i].val)
		}
	}
}

func TestSolveNonConvergence(t *testing.T) {
	t.Parallel()
	const n = 3
	h := []complex64{
		1, 0.3, 0.3,
		0.3, 2, 0.3,
		0.3, 0.3, 3,
	}

	x0 := [][]complex64{unit(n, 0)}
	opt := NewOptions().Tol(1e-12).MaxCycle(1)
	res, err := Solve(matApply(n, h), x0, DiagonalPreconditioner([]float64{1, 2, 3}), 1, PickAll, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if res.Converged[0] {
		t.Fatalf("%#v", res)
	}
	if len(res.Values) != 1 {
		t.Fatalf("%#v", res.Values)
	}
}

func TestDiagonalPreconditioner(t *testing.T) {
	t.Parallel()
	precond := DiagonalPreconditioner([]float64{3, 1})

	r := []complex64{1, 1}
	precond(r, 1)
	if math.Abs(float64(real(r[0]))-0.5) > 1e-6 {
		t.Fatalf("%v", r)
	}
	// The second denominator vanishes and is floored.
	if float64(real(r[1])) < 1e7 {
		t.Fatalf("%v", r)
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
