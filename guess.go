package tdresp

import (
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// symForbidHuge is the gap assigned to symmetry-forbidden pairs so that
// they are never selected as guesses.
const symForbidHuge = 1e99

// InitialGuess returns single-excitation trial vectors at the lowest
// orbital-energy gaps (Koopmans' excitations), of shape
// (nguess, nocc*nvir), doubled in width with a zero second half for RPA.
//
// All pairs within a small tolerance of the selection boundary are
// included, so nguess may exceed nstates for degenerate gaps.
func InitialGuess(state *MeanFieldState, kind Kind, nstates int, options ...OperatorOptions) (*tensor.Dense, error) {
	opt := NewOperatorOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := state.check(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if nstates < 1 {
		return nil, errors.Errorf("%d states requested", nstates)
	}

	occ, vir := state.occVir()
	nocc, nvir := len(occ), len(vir)
	if nocc == 0 || nvir == 0 {
		return nil, errors.Errorf("%d occupied, %d virtual", nocc, nvir)
	}
	var forbidden [][]bool
	if opt.hasWfnsym {
		forbidden = state.symForbidden(opt.wfnsym)
	}

	eia := make([]float64, 0, nocc*nvir)
	var eMax float64
	for i, oi := range occ {
		for a, va := range vir {
			gap := state.MOEnergy[va] - state.MOEnergy[oi]
			if len(eia) == 0 || gap > eMax {
				eMax = gap
			}
			if forbidden != nil && forbidden[i][a] {
				gap = symForbidHuge
			}
			eia = append(eia, gap)
		}
	}

	nov := nocc * nvir
	if nstates > nov {
		nstates = nov
	}
	sorted := slices.Clone(eia)
	slices.Sort(sorted)
	// Include all states degenerate with the boundary gap.
	eThreshold := min(eMax, sorted[nstates-1]) + 1e-6

	idx := make([]int, 0, nstates)
	for j, gap := range eia {
		if gap <= eThreshold {
			idx = append(idx, j)
		}
	}
	if len(idx) == 0 {
		return nil, errors.Errorf("no reachable excitation below %f", eThreshold)
	}

	width := nov
	if kind == RPA {
		width = 2 * nov
	}
	x0 := tensor.Zeros(len(idx), width)
	for row, j := range idx {
		x0.SetAt([]int{row, j}, 1)
	}
	return x0, nil
}
