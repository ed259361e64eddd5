package tdresp

import (
	"testing"
)

func TestInitialGuess(t *testing.T) {
	t.Parallel()
	state := testState([]float64{0, 1, 2, 3}, []int{1, 0, 0, 0})

	x0, err := InitialGuess(state, TDA, 2, NewOperatorOptions())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkShape(t, x0.Shape(), 2, 3)
	for row := 0; row < 2; row++ {
		for j := 0; j < 3; j++ {
			want := complex64(0)
			if row == j {
				want = 1
			}
			if x0.At(row, j) != want {
				t.Fatalf("%d %d %v", row, j, x0.At(row, j))
			}
		}
	}
}

func TestInitialGuessDegenerate(t *testing.T) {
	t.Parallel()
	// Two pairs share the lowest gap, so a single state pulls in both.
	state := testState([]float64{0, 1, 1, 5}, []int{1, 0, 0, 0})

	x0, err := InitialGuess(state, TDA, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkShape(t, x0.Shape(), 2, 3)
	if x0.At(0, 0) != 1 || x0.At(1, 1) != 1 {
		t.Fatalf("%v %v", x0.At(0, 0), x0.At(1, 1))
	}
}

func TestInitialGuessRPA(t *testing.T) {
	t.Parallel()
	state := testState([]float64{0, 1, 1, 5}, []int{1, 0, 0, 0})

	x0, err := InitialGuess(state, RPA, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkShape(t, x0.Shape(), 2, 6)
	// The de-excitation half starts at zero.
	for row := 0; row < 2; row++ {
		for j := 3; j < 6; j++ {
			if x0.At(row, j) != 0 {
				t.Fatalf("%d %d %v", row, j, x0.At(row, j))
			}
		}
	}
}

func TestInitialGuessWfnsym(t *testing.T) {
	t.Parallel()
	state := testState([]float64{0, 1, 1, 5}, []int{1, 0, 0, 0})
	state.Sym = &Symmetry{Orbsym: []int{0, 1, 0, 1}, Reduce: ReduceD2h}

	// Only virtuals of irrep 1 are reachable, which excludes the
	// degenerate partner of the lowest gap.
	x0, err := InitialGuess(state, TDA, 1, NewOperatorOptions().Wfnsym(1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkShape(t, x0.Shape(), 1, 3)
	if x0.At(0, 0) != 1 || x0.At(0, 1) != 0 {
		t.Fatalf("%v %v", x0.At(0, 0), x0.At(0, 1))
	}
}

func TestInitialGuessTooManyStates(t *testing.T) {
	t.Parallel()
	state := testState([]float64{0, 1, 2, 3}, []int{1, 0, 0, 0})

	// Requesting more states than pairs clips to the full space.
	x0, err := InitialGuess(state, TDA, 100)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	checkShape(t, x0.Shape(), 3, 3)
}
