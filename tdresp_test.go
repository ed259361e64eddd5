package tdresp

import (
	"flag"
	"log"
	"testing"

	"github.com/fumin/tensor"
)

func TestCheck(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5}, []int{1, 0})
	if err := state.check(); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestCheckBadOccupation(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5}, []int{2, 0})
	if err := state.check(); err == nil {
		t.Fatalf("expect error")
	}
}

func TestCheckOddDimension(t *testing.T) {
	t.Parallel()
	state := &MeanFieldState{
		MOEnergy: []float64{0, 1, 2},
		MOCoeff:  tensor.Zeros(3, 3),
		MOOcc:    []int{1, 0, 0},
	}
	if err := state.check(); err == nil {
		t.Fatalf("expect error")
	}
}

func TestCheckShapeMismatch(t *testing.T) {
	t.Parallel()
	state := &MeanFieldState{
		MOEnergy: []float64{0, 1},
		MOCoeff:  tensor.Zeros(4, 4),
		MOOcc:    []int{1, 0},
	}
	if err := state.check(); err == nil {
		t.Fatalf("expect error")
	}
}

func TestCheckOrbsymMismatch(t *testing.T) {
	t.Parallel()
	state := testState([]float64{-1, 0.5}, []int{1, 0})
	state.Sym = &Symmetry{Orbsym: []int{0, 1, 0}, Reduce: ReduceD2h}
	if err := state.check(); err == nil {
		t.Fatalf("expect error")
	}
}

func TestReduceD2h(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ ir, want int }{{0, 0}, {7, 7}, {10, 0}, {13, 3}, {25, 5}} {
		if got := ReduceD2h(tc.ir); got != tc.want {
			t.Fatalf("%d: %d %d", tc.ir, got, tc.want)
		}
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
