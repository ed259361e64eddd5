// Package tdresp computes excited-state energies and transition amplitudes
// of a generalized-spin-orbital mean-field reference with linear-response
// theory, in the Tamm-Dancoff (TDA) and full random-phase (RPA)
// approximations.
//
// The response matrix is never formed densely during a solve: the builder in
// this package closes over the mean-field state and a density-response
// collaborator, and the resulting implicit operator is diagonalized by the
// subspace eigensolver in package davidson.
//
// References:
//   - Chem Phys Lett, 256, 454
//   - Recent Advances in Density Functional Methods, Chapter 5, M. E. Casida
package tdresp

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedFunctional reports a functional family whose kernel
	// contributions this package cannot compute.
	ErrUnsupportedFunctional = errors.New("unsupported functional family")
	// ErrUnimplemented reports an analysis surface that is deliberately not
	// implemented.
	ErrUnimplemented = errors.New("not implemented")
	// ErrIllPosedNorm reports a non-positive indefinite norm of an (X, Y)
	// amplitude pair.
	ErrIllPosedNorm = errors.New("ill-posed normalization")
)

// MeanFieldState is an immutable view of a converged self-consistent
// solution in the generalized spin-orbital formalism.
//
// MOCoeff has one row per spin-orbital basis function and one column per
// orbital; the first half of the rows is the alpha spin block and the second
// half the beta block. Orbitals are energy-ordered within the occupied and
// virtual blocks as provided by the reference; this package never re-sorts
// them.
type MeanFieldState struct {
	MOEnergy []float64
	MOCoeff  *tensor.Dense
	MOOcc    []int
	Sym      *Symmetry
}

// Symmetry carries per-orbital irreducible representation ids. Reduce maps
// an irrep id into the subgroup in which occupied-virtual products are
// tested by bitwise XOR; when nil, ids are used as-is. The upstream
// point-group encoding uses ReduceD2h.
type Symmetry struct {
	Orbsym []int
	Reduce func(int) int
}

// ReduceD2h maps an irrep id into the D2h subgroup of the upstream
// point-group encoding.
func ReduceD2h(ir int) int { return ir % 10 }

func (state *MeanFieldState) check() error {
	shape := state.MOCoeff.Shape()
	if len(shape) != 2 {
		return errors.Errorf("%#v", shape)
	}
	nao, nmo := shape[0], shape[1]
	if nao%2 != 0 {
		return errors.Errorf("odd spin-orbital dimension %d", nao)
	}
	if len(state.MOEnergy) != nmo || len(state.MOOcc) != nmo {
		return errors.Errorf("%d %d %d", len(state.MOEnergy), len(state.MOOcc), nmo)
	}
	for i, occ := range state.MOOcc {
		if occ != 0 && occ != 1 {
			return errors.Errorf("occupation %d of orbital %d", occ, i)
		}
	}
	if state.Sym != nil && len(state.Sym.Orbsym) != nmo {
		return errors.Errorf("%d %d", len(state.Sym.Orbsym), nmo)
	}
	return nil
}

// occVir returns the indices of the occupied and virtual orbitals.
func (state *MeanFieldState) occVir() (occ, vir []int) {
	for i, o := range state.MOOcc {
		switch o {
		case 1:
			occ = append(occ, i)
		default:
			vir = append(vir, i)
		}
	}
	return occ, vir
}

// columns returns the coefficient columns of the given orbitals.
func (state *MeanFieldState) columns(idx []int) *tensor.Dense {
	nao := state.MOCoeff.Shape()[0]
	c := tensor.Zeros(nao, len(idx))
	for p := 0; p < nao; p++ {
		for j, orb := range idx {
			c.SetAt([]int{p, j}, state.MOCoeff.At(p, orb))
		}
	}
	return c
}

// symForbidden returns the mask of symmetry-forbidden occupied-virtual
// pairs for the target wavefunction irrep, or nil when the reference has no
// symmetry information.
func (state *MeanFieldState) symForbidden(wfnsym int) [][]bool {
	if state.Sym == nil || len(state.Sym.Orbsym) == 0 {
		return nil
	}
	reduce := state.Sym.Reduce
	if reduce == nil {
		reduce = func(ir int) int { return ir }
	}
	target := reduce(wfnsym)

	occ, vir := state.occVir()
	forbidden := make([][]bool, len(occ))
	for i, oi := range occ {
		forbidden[i] = make([]bool, len(vir))
		for a, va := range vir {
			forbidden[i][a] = reduce(state.Sym.Orbsym[oi])^reduce(state.Sym.Orbsym[va]) != target
		}
	}
	return forbidden
}

// ResponseFunc computes the effective-field response densities of a batch of
// trial one-particle densities in the full spin-orbital basis. It must be
// reentrant, deterministic and side-effect free.
type ResponseFunc func(dms *tensor.Dense, hermitian bool) (*tensor.Dense, error)

// ERIFunc transforms the two-electron integrals with four coefficient
// slices, returning the tensor (pq|rs) in chemist index order. Each slice
// has one row per spatial basis function.
type ERIFunc func(bra, c2, c3, c4 *tensor.Dense) (*tensor.Dense, error)

// GridBatch is one block of a numerical quadrature grid. AO holds the basis
// function values on the block points: (npts, nb) without derivatives, or
// (4, npts, nb) with the value and the three spatial derivatives.
type GridBatch struct {
	AO      *tensor.Dense
	Mask    []bool
	Weights []float64
	Coords  [][3]float64
}

// GridIterator produces a lazy, finite, non-restartable sequence of
// quadrature batches with basis values up to the requested derivative
// order. Batches are sized by the collaborator under its own memory
// ceiling.
type GridIterator func(deriv int) func(yield func(GridBatch) bool)

// resetCopy resets dst to the shape of src and copies src into it.
func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

// transposed materializes a permuted copy of t.
func transposed(t *tensor.Dense, perm ...int) *tensor.Dense {
	return resetCopy(tensor.Zeros(1), t.Transpose(perm...))
}
