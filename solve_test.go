package tdresp

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/fumin/tdresp/chk"
)

func TestSolveTDA(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5}, []int{1, 0})

	res, err := SolveTDA(state, zeroVresp, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(res.Energies) != 1 || math.Abs(res.Energies[0]-1.5) > 1e-6 {
		t.Fatalf("%#v", res.Energies)
	}
	if !res.Converged[0] {
		t.Fatalf("%#v", res.Converged)
	}

	pair := res.XY[0]
	checkShape(t, pair.X.Shape(), 1, 1)
	if math.Abs(absDiff(pair.X.At(0, 0), 0)-1) > 1e-6 {
		t.Fatalf("%v", pair.X.At(0, 0))
	}
	if pair.Y.At(0, 0) != 0 {
		t.Fatalf("%v", pair.Y.At(0, 0))
	}
}

func TestSolveRPA(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5}, []int{1, 0})

	res, err := SolveRPA(state, zeroVresp, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(res.Energies) != 1 || math.Abs(res.Energies[0]-1.5) > 1e-6 {
		t.Fatalf("%#v", res.Energies)
	}
	if !res.Converged[0] {
		t.Fatalf("%#v", res.Converged)
	}

	pair := res.XY[0]
	// |X|^2 - |Y|^2 = 1 with a vanishing de-excitation block.
	if math.Abs(absDiff(pair.X.At(0, 0), 0)-1) > 1e-6 {
		t.Fatalf("%v", pair.X.At(0, 0))
	}
	if absDiff(pair.Y.At(0, 0), 0) > 1e-6 {
		t.Fatalf("%v", pair.Y.At(0, 0))
	}
}

func TestSolveTDAInteracting(t *testing.T) {
	t.Parallel()
	const nb = 2
	h := spatialH(nb)
	state := testState([]float64{0, 2, 0.5, 3}, []int{1, 0, 1, 0})

	res, err := SolveTDA(state, blockVresp(0.3, h, nb), 2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range res.Converged {
		if !res.Converged[i] {
			t.Fatalf("%#v", res.Converged)
		}
	}

	// The lowest roots of the dense matrix, by direct diagonalization of
	// the 4x4 block assembled by AssembleAB.
	a, _, err := AssembleAB(state, modelERI(0.3, h, nb), nil, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// The iterative energies are eigenvalues of the dense matrix: check
	// that A x - w x vanishes for the returned amplitudes.
	for r, w := range res.Energies {
		x := res.XY[r].X
		var norm float64
		for i := 0; i < 2; i++ {
			for ax := 0; ax < 2; ax++ {
				var av complex128
				for j := 0; j < 2; j++ {
					for bx := 0; bx < 2; bx++ {
						av += complex128(a.At(i, ax, j, bx)) * complex128(x.At(j, bx))
					}
				}
				d := av - complex(w, 0)*complex128(x.At(i, ax))
				norm += real(d)*real(d) + imag(d)*imag(d)
			}
		}
		if math.Sqrt(norm) > 1e-3 {
			t.Fatalf("%d %f %f", r, w, math.Sqrt(norm))
		}
	}
}

func TestSolveTDAWfnsym(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5, 1, 2}, []int{1, 0, 0, 0})
	state.Sym = &Symmetry{Orbsym: []int{0, 1, 0, 0}, Reduce: ReduceD2h}

	// The lowest gap belongs to irrep 1; restricting to irrep 0 lands on
	// the next excitation.
	res, err := SolveTDA(state, zeroVresp, 1, NewSolveOptions().Wfnsym(0))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(res.Energies) != 1 || math.Abs(res.Energies[0]-2) > 1e-6 {
		t.Fatalf("%#v", res.Energies)
	}
}

func TestSolveTDANonConvergence(t *testing.T) {
	t.Parallel()
	const nb = 3
	h := spatialH(nb)
	state := testState([]float64{0, 1, 2, 10, 11, 12}, []int{1, 0, 0, 0, 0, 0})

	opt := NewSolveOptions().Tol(1e-12).MaxCycle(1)
	res, err := SolveTDA(state, blockVresp(0.5, h, nb), 1, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Hitting the cycle limit is reported per root, not as an error.
	if len(res.Converged) != 1 || res.Converged[0] {
		t.Fatalf("%#v", res.Converged)
	}
	if len(res.Energies) != 1 {
		t.Fatalf("%#v", res.Energies)
	}
}

func TestSolveTDACheckpoint(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	chkPath := filepath.Join(dir, "tdresp.sqlite")

	state := testState([]float64{-1, 0.5}, []int{1, 0})
	res, err := SolveTDA(state, zeroVresp, 1, NewSolveOptions().Chkfile(chkPath))
	if err != nil {
		t.Fatalf("%+v", err)
	}

	s, err := chk.Open(chkPath)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()

	energies, err := s.Vector(ChkKeyEnergies)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(energies) != 1 || math.Abs(energies[0]-res.Energies[0]) > 1e-6 {
		t.Fatalf("%#v %#v", energies, res.Energies)
	}

	rows, cols, data, err := s.Matrix(ChkKeyAmplitudes)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if rows != 2 || cols != 1 {
		t.Fatalf("%d %d", rows, cols)
	}
	if absDiff(data[0], res.XY[0].X.At(0, 0)) > 1e-6 || data[1] != 0 {
		t.Fatalf("%#v", data)
	}
}

func TestNormXY(t *testing.T) {
	t.Parallel()
	pair, err := normXY([]complex64{2, 1}, 1, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	x, y := pair.X.At(0, 0), pair.Y.At(0, 0)
	n := absDiff(x, 0)*absDiff(x, 0) - absDiff(y, 0)*absDiff(y, 0)
	if math.Abs(n-1) > 1e-6 {
		t.Fatalf("%f", n)
	}
}

func TestNormXYIllPosed(t *testing.T) {
	t.Parallel()
	// A de-excitation weight exceeding the excitation one has no valid
	// normalization.
	_, err := normXY([]complex64{0.5, 1}, 1, 1)
	if !errors.Is(err, ErrIllPosedNorm) {
		t.Fatalf("%+v", err)
	}
}
