package tdresp

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/tdresp/davidson"
)

// Kind selects the linear-response eigenproblem.
type Kind int

const (
	// TDA is the single-block Hermitian Tamm-Dancoff problem A X = w X.
	TDA Kind = iota
	// RPA is the paired-block problem [[A,B],[-B,-A]] (X,Y) = w (X,Y).
	RPA
)

// Operator is an implicit response operator. Apply maps a batch of flat
// trial vectors (length NOcc*NVir for TDA, 2*NOcc*NVir for RPA) to their
// images. Diag estimates the operator diagonal for preconditioning; its
// second half is negated for RPA, and symmetry-forbidden entries are zero.
type Operator struct {
	Kind       Kind
	NOcc, NVir int
	Apply      davidson.ApplyFunc
	Diag       []float64
}

// OperatorOptions are options for BuildOperator.
type OperatorOptions struct {
	fockAO    *tensor.Dense
	wfnsym    int
	hasWfnsym bool
}

// NewOperatorOptions returns the default operator options.
func NewOperatorOptions() OperatorOptions {
	return OperatorOptions{}
}

// FockAO supplies an explicit Fock matrix in the spin-orbital basis, for
// non-canonical references. Without it, the orbital energies are used.
func (opt OperatorOptions) FockAO(f *tensor.Dense) OperatorOptions {
	opt.fockAO = f
	return opt
}

// Wfnsym restricts the response to the given wavefunction irrep. If the
// reference carries no symmetry information, the restriction is skipped.
func (opt OperatorOptions) Wfnsym(ir int) OperatorOptions {
	opt.wfnsym = ir
	opt.hasWfnsym = true
	return opt
}

// BuildOperator builds the implicit response operator of the given kind
// over the mean-field state and its density-response collaborator.
func BuildOperator(state *MeanFieldState, vresp ResponseFunc, kind Kind, options ...OperatorOptions) (*Operator, error) {
	opt := NewOperatorOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := state.check(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	occ, vir := state.occVir()
	nocc, nvir := len(occ), len(vir)
	if nocc == 0 || nvir == 0 {
		return nil, errors.Errorf("%d occupied, %d virtual", nocc, nvir)
	}
	orbo := state.columns(occ)
	orbv := state.columns(vir)
	orboConj := resetCopy(tensor.Zeros(1), orbo.Conj())
	orbvConj := resetCopy(tensor.Zeros(1), orbv.Conj())

	foo, fvv, err := fockBlocks(state, occ, vir, opt.fockAO)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	var forbidden [][]bool
	if opt.hasWfnsym {
		forbidden = state.symForbidden(opt.wfnsym)
	}

	diag := make([]float64, nocc*nvir)
	for i := 0; i < nocc; i++ {
		for a := 0; a < nvir; a++ {
			if forbidden != nil && forbidden[i][a] {
				continue
			}
			diag[i*nvir+a] = float64(real(fvv.At(a, a)) - real(foo.At(i, i)))
		}
	}
	if kind == RPA {
		for _, d := range diag[:nocc*nvir] {
			diag = append(diag, -d)
		}
	}

	// addFock adds z*fvv - foo*z into dst. With canonical orbitals this is
	// the orbital energy gap term.
	addFock := func(dst, zs *tensor.Dense) {
		zf := tensor.Product(tensor.Zeros(1), zs, fvv, [][2]int{{2, 0}})
		dst.Add(1, zf)
		fz := tensor.Product(tensor.Zeros(1), foo, zs, [][2]int{{1, 1}})
		dst.Add(-1, transposed(fz, 1, 0, 2))
	}

	op := &Operator{Kind: kind, NOcc: nocc, NVir: nvir, Diag: diag}
	switch kind {
	case TDA:
		op.Apply = func(batch [][]complex64) ([][]complex64, error) {
			zs, err := packTrials(batch, 0, nocc, nvir, forbidden)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			dm := trialDensityOV(zs, orbo, orbvConj)
			v1ao, err := vresp(dm, false)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			v1ov := projectOV(v1ao, orboConj, orbv)
			addFock(v1ov, zs)
			zeroForbidden(v1ov, forbidden)
			return unpackBatch(v1ov), nil
		}
	case RPA:
		op.Apply = func(batch [][]complex64) ([][]complex64, error) {
			xs, err := packTrials(batch, 0, nocc, nvir, forbidden)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			ys, err := packTrials(batch, nocc*nvir, nocc, nvir, forbidden)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}

			dm := trialDensityOV(xs, orbo, orbvConj)
			dm.Add(1, trialDensityVO(ys, orboConj, orbv))
			v1ao, err := vresp(dm, false)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}

			v1ov := projectOV(v1ao, orboConj, orbv) // AX + BY
			v1vo := projectVO(v1ao, orbo, orbvConj) // AY + BX
			addFock(v1ov, xs)
			addFock(v1vo, ys)
			zeroForbidden(v1ov, forbidden)
			zeroForbidden(v1vo, forbidden)

			out := make([][]complex64, len(batch))
			for x := range out {
				v := make([]complex64, 2*nocc*nvir)
				for i := 0; i < nocc; i++ {
					for a := 0; a < nvir; a++ {
						v[i*nvir+a] = v1ov.At(x, i, a)
						v[nocc*nvir+i*nvir+a] = -v1vo.At(x, i, a)
					}
				}
				out[x] = v
			}
			return out, nil
		}
	default:
		return nil, errors.Errorf("unknown kind %d", kind)
	}

	return op, nil
}

// fockBlocks returns the occupied-occupied and virtual-virtual blocks of
// the Fock matrix, either from the orbital energies or by projecting an
// explicit matrix.
func fockBlocks(state *MeanFieldState, occ, vir []int, fockAO *tensor.Dense) (foo, fvv *tensor.Dense, err error) {
	nocc, nvir := len(occ), len(vir)
	foo = tensor.Zeros(nocc, nocc)
	fvv = tensor.Zeros(nvir, nvir)

	if fockAO == nil {
		for i, oi := range occ {
			foo.SetAt([]int{i, i}, complex(float32(state.MOEnergy[oi]), 0))
		}
		for a, va := range vir {
			fvv.SetAt([]int{a, a}, complex(float32(state.MOEnergy[va]), 0))
		}
		return foo, fvv, nil
	}

	shape := state.MOCoeff.Shape()
	if s := fockAO.Shape(); len(s) != 2 || s[0] != shape[0] || s[1] != shape[0] {
		return nil, nil, errors.Errorf("%#v %#v", fockAO.Shape(), shape)
	}
	cf := tensor.Product(tensor.Zeros(1), state.MOCoeff.H(), fockAO, [][2]int{{1, 0}})
	fmo := tensor.Product(tensor.Zeros(1), cf, state.MOCoeff, [][2]int{{1, 0}})
	for i, oi := range occ {
		for j, oj := range occ {
			foo.SetAt([]int{i, j}, fmo.At(oi, oj))
		}
	}
	for a, va := range vir {
		for b, vb := range vir {
			fvv.SetAt([]int{a, b}, fmo.At(va, vb))
		}
	}
	return foo, fvv, nil
}

// trialDensityOV returns dm[x,p,q] = sum_{ov} z[x,o,v] conj(orbv[q,v]) orbo[p,o].
func trialDensityOV(z, orbo, orbvConj *tensor.Dense) *tensor.Dense {
	zq := tensor.Product(tensor.Zeros(1), z, orbvConj, [][2]int{{2, 1}}) // (nz, o, q)
	qp := tensor.Product(tensor.Zeros(1), zq, orbo, [][2]int{{1, 1}})    // (nz, q, p)
	return transposed(qp, 0, 2, 1)
}

// trialDensityVO returns dm[x,p,q] = sum_{ov} z[x,o,v] orbv[p,v] conj(orbo[q,o]).
func trialDensityVO(z, orboConj, orbv *tensor.Dense) *tensor.Dense {
	zp := tensor.Product(tensor.Zeros(1), z, orbv, [][2]int{{2, 1}}) // (nz, o, p)
	return tensor.Product(tensor.Zeros(1), zp, orboConj, [][2]int{{1, 1}})
}

// projectOV projects an AO-basis response batch into the occupied-virtual
// block: out[x,o,v] = sum_{pq} conj(orbo[p,o]) v1ao[x,p,q] orbv[q,v].
func projectOV(v1ao, orboConj, orbv *tensor.Dense) *tensor.Dense {
	pv := tensor.Product(tensor.Zeros(1), v1ao, orbv, [][2]int{{2, 0}})   // (nz, p, v)
	ov := tensor.Product(tensor.Zeros(1), orboConj, pv, [][2]int{{0, 1}}) // (o, nz, v)
	return transposed(ov, 1, 0, 2)
}

// projectVO projects an AO-basis response batch into the virtual-occupied
// block: out[x,o,v] = sum_{pq} orbo[q,o] v1ao[x,p,q] conj(orbv[p,v]).
func projectVO(v1ao, orbo, orbvConj *tensor.Dense) *tensor.Dense {
	po := tensor.Product(tensor.Zeros(1), v1ao, orbo, [][2]int{{2, 0}})   // (nz, p, o)
	vo := tensor.Product(tensor.Zeros(1), orbvConj, po, [][2]int{{0, 1}}) // (v, nz, o)
	return transposed(vo, 1, 2, 0)
}

// packTrials packs a batch of flat vectors into a (nz, nocc, nvir) tensor,
// reading nocc*nvir entries starting at offset, with symmetry-forbidden
// entries projected out.
func packTrials(batch [][]complex64, offset, nocc, nvir int, forbidden [][]bool) (*tensor.Dense, error) {
	zs := tensor.Zeros(len(batch), nocc, nvir)
	for x, v := range batch {
		if len(v) < offset+nocc*nvir {
			return nil, errors.Errorf("trial vector %d has %d entries", x, len(v))
		}
		for i := 0; i < nocc; i++ {
			for a := 0; a < nvir; a++ {
				if forbidden != nil && forbidden[i][a] {
					continue
				}
				zs.SetAt([]int{x, i, a}, v[offset+i*nvir+a])
			}
		}
	}
	return zs, nil
}

// unpackBatch flattens a (nz, nocc, nvir) tensor into per-trial vectors.
func unpackBatch(t *tensor.Dense) [][]complex64 {
	shape := t.Shape()
	out := make([][]complex64, shape[0])
	for x := range out {
		v := make([]complex64, shape[1]*shape[2])
		for i := 0; i < shape[1]; i++ {
			for a := 0; a < shape[2]; a++ {
				v[i*shape[2]+a] = t.At(x, i, a)
			}
		}
		out[x] = v
	}
	return out
}

func zeroForbidden(t *tensor.Dense, forbidden [][]bool) {
	if forbidden == nil {
		return
	}
	shape := t.Shape()
	for x := 0; x < shape[0]; x++ {
		for i, row := range forbidden {
			for a, bad := range row {
				if bad {
					t.SetAt([]int{x, i, a}, 0)
				}
			}
		}
	}
}
