package tdresp

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// Family is the functional family of an exchange-correlation functional.
type Family int

const (
	// FamilyHF is pure Hartree-Fock exchange without a quadrature part.
	FamilyHF Family = iota
	// FamilyLDA is the local density approximation.
	FamilyLDA
	// FamilyGGA is the generalized gradient approximation.
	FamilyGGA
	// FamilyMGGA is the meta-GGA family, which is not supported.
	FamilyMGGA
	// FamilyNLC marks functionals with a non-local correlation part,
	// which is not supported.
	FamilyNLC
)

// LDAKernel holds the second derivatives of an LDA functional with respect
// to the spin densities, one value per grid point.
type LDAKernel struct {
	UU []float64
	UD []float64
	DD []float64
}

// GGAKernel holds the first and second derivatives of a GGA functional at
// each grid point. Sigma is the contracted density gradient, with the
// indices U, D denoting the alpha and beta densities and UU, UD, DD the
// three sigma components.
type GGAKernel struct {
	// First derivatives with respect to sigma.
	VsigmaUU []float64
	VsigmaUD []float64
	VsigmaDD []float64

	// Second derivatives with respect to the densities.
	RhoUU []float64
	RhoUD []float64
	RhoDD []float64

	// Mixed density-sigma second derivatives.
	RhoSigmaUUU []float64
	RhoSigmaUUD []float64
	RhoSigmaUDD []float64
	RhoSigmaDUU []float64
	RhoSigmaDUD []float64
	RhoSigmaDDD []float64

	// Second derivatives with respect to sigma.
	SigmaUUUU []float64
	SigmaUUUD []float64
	SigmaUUDD []float64
	SigmaUDUD []float64
	SigmaUDDD []float64
	SigmaDDDD []float64
}

// Functional describes an exchange-correlation functional through its
// hybrid exchange coefficient and its kernel derivatives on a batch of
// grid points.
type Functional struct {
	Family Family
	// Hybrid is the coefficient of exact exchange.
	Hybrid float64
	// LDA evaluates the kernel of an LDA functional on the given spin
	// densities.
	LDA func(rhoA, rhoB []float64) (LDAKernel, error)
	// GGA evaluates the kernel of a GGA functional. The densities carry
	// the value and the three gradient components per point.
	GGA func(rhoA, rhoB [4][]float64) (GGAKernel, error)
}

// AssembleAB builds the dense response matrices
//
//	A[i,a,j,b] = delta_ij delta_ab (E_a - E_i) + (ia||bj)
//	B[i,a,j,b] = (ia||jb)
//
// in the occupied-virtual product basis. A nil xc means pure Hartree-Fock
// exchange. LDA and GGA functionals additionally require a grid iterator
// for the kernel quadrature.
func AssembleAB(state *MeanFieldState, eri ERIFunc, xc *Functional, grids GridIterator) (*tensor.Dense, *tensor.Dense, error) {
	if err := state.check(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	occ, vir := state.occVir()
	nocc, nvir := len(occ), len(vir)
	nov := nocc * nvir
	nb := state.MOCoeff.Shape()[0] / 2

	hyb := 1.0
	if xc != nil {
		switch xc.Family {
		case FamilyNLC:
			return nil, nil, errors.Wrap(ErrUnsupportedFunctional, "non-local correlation")
		case FamilyMGGA:
			return nil, nil, errors.Wrap(ErrUnsupportedFunctional, "meta-GGA")
		}
		hyb = xc.Hybrid
	}

	aflat := make([]complex128, nov*nov)
	bflat := make([]complex128, nov*nov)
	for i := 0; i < nocc; i++ {
		for a := 0; a < nvir; a++ {
			ia := i*nvir + a
			aflat[ia*nov+ia] = complex(state.MOEnergy[vir[a]]-state.MOEnergy[occ[i]], 0)
		}
	}

	if err := addExchange(aflat, bflat, state, eri, hyb, occ, vir, nb); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}

	if xc != nil && (xc.Family == FamilyLDA || xc.Family == FamilyGGA) {
		if grids == nil {
			return nil, nil, errors.Errorf("no grids for family %d", xc.Family)
		}
		dm0a, dm0b := groundStateDensity(state, occ, nb)
		var err error
		switch xc.Family {
		case FamilyLDA:
			err = addLDA(aflat, bflat, state, xc, grids, dm0a, dm0b, occ, vir, nb)
		case FamilyGGA:
			err = addGGA(aflat, bflat, state, xc, grids, dm0a, dm0b, occ, vir, nb)
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
	}

	a := tensor.Zeros(nocc, nvir, nocc, nvir)
	b := tensor.Zeros(nocc, nvir, nocc, nvir)
	for i := 0; i < nocc; i++ {
		for ax := 0; ax < nvir; ax++ {
			for j := 0; j < nocc; j++ {
				for bx := 0; bx < nvir; bx++ {
					ia, jb := i*nvir+ax, j*nvir+bx
					a.SetAt([]int{i, ax, j, bx}, complex64(aflat[ia*nov+jb]))
					b.SetAt([]int{i, ax, j, bx}, complex64(bflat[ia*nov+jb]))
				}
			}
		}
	}
	return a, b, nil
}

// addExchange folds the antisymmetrized two-electron integrals into A and B.
// The integrals are spin block sums over the spatial orbital halves, with
// the same-spin part alone entering the exchange terms.
func addExchange(aflat, bflat []complex128, state *MeanFieldState, eri ERIFunc, hyb float64, occ, vir []int, nb int) error {
	nocc, nvir := len(occ), len(vir)
	nmo := nocc + nvir
	nov := nocc * nvir

	orbo := state.columns(occ)
	orbv := state.columns(vir)
	mo := hstack(orbo, orbv)
	moA, moB := spinRows(mo, nb)
	orbOA, orbOB := spinRows(orbo, nb)

	// Same-spin integrals (i p | q s) with all four indices alpha plus all
	// four beta.
	eriAA, err := eri(orbOA, moA, moA, moA)
	if err != nil {
		return errors.Wrap(err, "")
	}
	t, err := eri(orbOB, moB, moB, moB)
	if err != nil {
		return errors.Wrap(err, "")
	}
	eriAA.Add(1, t)

	// Opposite-spin integrals, then the total Coulomb sum.
	eriTot, err := eri(orbOA, moA, moB, moB)
	if err != nil {
		return errors.Wrap(err, "")
	}
	t, err = eri(orbOB, moB, moA, moA)
	if err != nil {
		return errors.Wrap(err, "")
	}
	eriTot.Add(1, t)
	eriTot.Add(1, eriAA)

	if shape := eriTot.Shape(); len(shape) != 4 || shape[0] != nocc || shape[1] != nmo {
		return errors.Errorf("%#v %d %d", shape, nocc, nmo)
	}

	chyb := complex(hyb, 0)
	for i := 0; i < nocc; i++ {
		for ax := 0; ax < nvir; ax++ {
			for j := 0; j < nocc; j++ {
				for bx := 0; bx < nvir; bx++ {
					ia, jb := i*nvir+ax, j*nvir+bx
					av := complex128(eriTot.At(i, nocc+ax, nocc+bx, j)) - chyb*complex128(eriAA.At(i, j, nocc+bx, nocc+ax))
					bv := complex128(eriTot.At(i, nocc+ax, j, nocc+bx)) - chyb*complex128(eriAA.At(j, nocc+ax, i, nocc+bx))
					aflat[ia*nov+jb] += av
					bflat[ia*nov+jb] += bv
				}
			}
		}
	}
	return nil
}

// addLDA accumulates the LDA kernel quadrature into A and B.
func addLDA(aflat, bflat []complex128, state *MeanFieldState, xc *Functional, grids GridIterator, dm0a, dm0b []float64, occ, vir []int, nb int) error {
	nocc, nvir := len(occ), len(vir)
	nov := nocc * nvir
	moA, moB := spinRows(hstack(state.columns(occ), state.columns(vir)), nb)

	buf := tensor.Zeros(1)
	var iterErr error
	for batch := range grids(0) {
		ng := len(batch.Weights)
		rho0a := evalRhoLDA(batch.AO, dm0a, nb, ng)
		rho0b := evalRhoLDA(batch.AO, dm0b, nb, ng)
		kern, err := xc.LDA(rho0a, rho0b)
		if err != nil {
			iterErr = errors.Wrap(err, "")
			break
		}

		// Transition densities rho_ov[r,i,a] = conj(phi_i(r)) phi_a(r)
		// per spin.
		movA := tensor.Product(buf, batch.AO, moA, [][2]int{{1, 0}})
		rhoOVA := transitionDensityLDA(movA, ng, nocc, nvir)
		movB := tensor.Product(buf, batch.AO, moB, [][2]int{{1, 0}})
		rhoOVB := transitionDensityLDA(movB, ng, nocc, nvir)

		wOV := make([]complex128, ng*nov)
		for _, spin := range []struct {
			fself, fcross     []float64
			rhoSelf, rhoOther []complex128
		}{
			{kern.UU, kern.UD, rhoOVA, rhoOVB},
			{kern.DD, kern.UD, rhoOVB, rhoOVA},
		} {
			for r := 0; r < ng; r++ {
				w := complex(batch.Weights[r], 0)
				fs := complex(spin.fself[r], 0)
				fc := complex(spin.fcross[r], 0)
				for ia := 0; ia < nov; ia++ {
					wOV[r*nov+ia] = w * (fs*spin.rhoSelf[r*nov+ia] + fc*spin.rhoOther[r*nov+ia])
				}
			}
			accumulateOV(aflat, bflat, wOV, spin.rhoSelf, ng, nov)
		}
	}
	return iterErr
}

// accumulateOV adds the quadrature contraction of the weighted transition
// density against rho to A (conjugated, virtual-occupied side) and B.
func accumulateOV(aflat, bflat []complex128, wOV, rho []complex128, ng, nov int) {
	for r := 0; r < ng; r++ {
		for ia := 0; ia < nov; ia++ {
			w := wOV[r*nov+ia]
			if w == 0 {
				continue
			}
			for jb := 0; jb < nov; jb++ {
				p := rho[r*nov+jb]
				aflat[ia*nov+jb] += w * complex(real(p), -imag(p))
				bflat[ia*nov+jb] += w * p
			}
		}
	}
}

// addGGA accumulates the GGA kernel quadrature into A and B. The working
// arrays follow the spin-resolved collinear kernel, with the gradient
// channel x running over the density value and its three derivatives.
func addGGA(aflat, bflat []complex128, state *MeanFieldState, xc *Functional, grids GridIterator, dm0a, dm0b []float64, occ, vir []int, nb int) error {
	nocc, nvir := len(occ), len(vir)
	nov := nocc * nvir
	moA, moB := spinRows(hstack(state.columns(occ), state.columns(vir)), nb)

	buf := tensor.Zeros(1)
	var iterErr error
	for batch := range grids(1) {
		ng := len(batch.Weights)
		rho0a := evalRhoGGA(batch.AO, dm0a, nb, ng)
		rho0b := evalRhoGGA(batch.AO, dm0b, nb, ng)
		kern, err := xc.GGA(rho0a, rho0b)
		if err != nil {
			iterErr = errors.Wrap(err, "")
			break
		}

		movA := tensor.Product(buf, batch.AO, moA, [][2]int{{2, 0}})
		rhoOVA := transitionDensityGGA(movA, ng, nocc, nvir)
		movB := tensor.Product(buf, batch.AO, moB, [][2]int{{2, 0}})
		rhoOVB := transitionDensityGGA(movB, ng, nocc, nvir)

		// Gradient overlaps of the ground-state density with the
		// transition densities.
		a0a1 := gradOverlap(rho0a, rhoOVA, ng, nov)
		a0b1 := gradOverlap(rho0a, rhoOVB, ng, nov)
		b0a1 := gradOverlap(rho0b, rhoOVA, ng, nov)
		b0b1 := gradOverlap(rho0b, rhoOVB, ng, nov)

		wOV := [4][]complex128{}
		for x := range wOV {
			wOV[x] = make([]complex128, ng*nov)
		}
		fOVA := make([]complex128, ng*nov)
		fOVB := make([]complex128, ng*nov)

		// Same-spin alpha block.
		for r := 0; r < ng; r++ {
			for ia := 0; ia < nov; ia++ {
				k := r*nov + ia
				wOV[0][k] = complex(kern.RhoUU[r], 0)*rhoOVA[0][k] +
					complex(2*kern.RhoSigmaUUU[r], 0)*a0a1[k] +
					complex(kern.RhoSigmaUUD[r], 0)*b0a1[k]
				fOVA[k] = complex(4*kern.SigmaUUUU[r], 0)*a0a1[k] +
					complex(2*kern.SigmaUUUD[r], 0)*b0a1[k] +
					complex(2*kern.RhoSigmaUUU[r], 0)*rhoOVA[0][k]
				fOVB[k] = complex(2*kern.SigmaUUUD[r], 0)*a0a1[k] +
					complex(kern.SigmaUDUD[r], 0)*b0a1[k] +
					complex(kern.RhoSigmaUUD[r], 0)*rhoOVA[0][k]
			}
		}
		gradChannels(wOV, fOVA, fOVB, rhoOVA, rho0a, rho0b, kern.VsigmaUU, 2, ng, nov)
		applyWeights(wOV, batch.Weights, ng, nov)
		accumulateOVX(aflat, bflat, wOV, rhoOVA, ng, nov)

		// Same-spin beta block.
		for r := 0; r < ng; r++ {
			for ia := 0; ia < nov; ia++ {
				k := r*nov + ia
				wOV[0][k] = complex(kern.RhoDD[r], 0)*rhoOVB[0][k] +
					complex(2*kern.RhoSigmaDDD[r], 0)*b0b1[k] +
					complex(kern.RhoSigmaDUD[r], 0)*a0b1[k]
				fOVB[k] = complex(4*kern.SigmaDDDD[r], 0)*b0b1[k] +
					complex(2*kern.SigmaUDDD[r], 0)*a0b1[k] +
					complex(2*kern.RhoSigmaDDD[r], 0)*rhoOVB[0][k]
				fOVA[k] = complex(2*kern.SigmaUDDD[r], 0)*b0b1[k] +
					complex(kern.SigmaUDUD[r], 0)*a0b1[k] +
					complex(kern.RhoSigmaDUD[r], 0)*rhoOVB[0][k]
			}
		}
		gradChannels(wOV, fOVA, fOVB, rhoOVB, rho0a, rho0b, kern.VsigmaDD, 2, ng, nov)
		applyWeights(wOV, batch.Weights, ng, nov)
		accumulateOVX(aflat, bflat, wOV, rhoOVB, ng, nov)

		// Opposite-spin block, applied once and mirrored.
		for r := 0; r < ng; r++ {
			for ia := 0; ia < nov; ia++ {
				k := r*nov + ia
				wOV[0][k] = complex(kern.RhoUD[r], 0)*rhoOVB[0][k] +
					complex(2*kern.RhoSigmaUDD[r], 0)*b0b1[k] +
					complex(kern.RhoSigmaUUD[r], 0)*a0b1[k]
				fOVA[k] = complex(4*kern.SigmaUUDD[r], 0)*b0b1[k] +
					complex(2*kern.SigmaUUUD[r], 0)*a0b1[k] +
					complex(2*kern.RhoSigmaDUU[r], 0)*rhoOVB[0][k]
				fOVB[k] = complex(2*kern.SigmaUDDD[r], 0)*b0b1[k] +
					complex(kern.SigmaUDUD[r], 0)*a0b1[k] +
					complex(kern.RhoSigmaDUD[r], 0)*rhoOVB[0][k]
			}
		}
		gradChannels(wOV, fOVA, fOVB, rhoOVB, rho0a, rho0b, kern.VsigmaUD, 1, ng, nov)
		applyWeights(wOV, batch.Weights, ng, nov)

		// The beta-alpha mirror of the cross block is the conjugate
		// transpose for A and the plain transpose for B.
		across := make([]complex128, nov*nov)
		bcross := make([]complex128, nov*nov)
		accumulateOVX(across, bcross, wOV, rhoOVA, ng, nov)
		for ia := 0; ia < nov; ia++ {
			for jb := 0; jb < nov; jb++ {
				v := across[ia*nov+jb]
				vt := across[jb*nov+ia]
				aflat[ia*nov+jb] += v + complex(real(vt), -imag(vt))
				bflat[ia*nov+jb] += bcross[ia*nov+jb] + bcross[jb*nov+ia]
			}
		}
	}
	return iterErr
}

// gradChannels fills the three gradient channels of the weighted density:
// f_a against the alpha density gradient, f_b against the beta one, and the
// diagonal vsigma response of the transition density gradient itself.
func gradChannels(wOV [4][]complex128, fOVA, fOVB []complex128, rhoOV [4][]complex128, rho0a, rho0b [4][]float64, vsigma []float64, vfac float64, ng, nov int) {
	for x := 1; x < 4; x++ {
		for r := 0; r < ng; r++ {
			ga := complex(rho0a[x][r], 0)
			gb := complex(rho0b[x][r], 0)
			vs := complex(vfac*vsigma[r], 0)
			for ia := 0; ia < nov; ia++ {
				k := r*nov + ia
				wOV[x][k] = fOVA[k]*ga + fOVB[k]*gb + vs*rhoOV[x][k]
			}
		}
	}
}

func applyWeights(wOV [4][]complex128, weights []float64, ng, nov int) {
	for x := range wOV {
		for r := 0; r < ng; r++ {
			w := complex(weights[r], 0)
			for ia := 0; ia < nov; ia++ {
				wOV[x][r*nov+ia] *= w
			}
		}
	}
}

// accumulateOVX is the gradient-channel analog of accumulateOV, summing all
// four channels of the weighted density against rho.
func accumulateOVX(aflat, bflat []complex128, wOV, rho [4][]complex128, ng, nov int) {
	for x := 0; x < 4; x++ {
		for r := 0; r < ng; r++ {
			for ia := 0; ia < nov; ia++ {
				w := wOV[x][r*nov+ia]
				if w == 0 {
					continue
				}
				for jb := 0; jb < nov; jb++ {
					p := rho[x][r*nov+jb]
					aflat[ia*nov+jb] += w * complex(real(p), -imag(p))
					bflat[ia*nov+jb] += w * p
				}
			}
		}
	}
}

// transitionDensityLDA computes rho_ov[r,i,a] = conj(phi_i(r)) phi_a(r)
// from the molecular orbital values of shape (ngrid, nocc+nvir).
func transitionDensityLDA(mov *tensor.Dense, ng, nocc, nvir int) []complex128 {
	nov := nocc * nvir
	rho := make([]complex128, ng*nov)
	for r := 0; r < ng; r++ {
		for i := 0; i < nocc; i++ {
			oi := complex128(mov.At(r, i))
			oi = complex(real(oi), -imag(oi))
			for a := 0; a < nvir; a++ {
				rho[r*nov+i*nvir+a] = oi * complex128(mov.At(r, nocc+a))
			}
		}
	}
	return rho
}

// transitionDensityGGA computes the transition density and its gradient
// from molecular orbital values of shape (4, ngrid, nocc+nvir). The
// gradient channels carry both the occupied and the virtual derivative.
func transitionDensityGGA(mov *tensor.Dense, ng, nocc, nvir int) [4][]complex128 {
	nov := nocc * nvir
	var rho [4][]complex128
	for x := range rho {
		rho[x] = make([]complex128, ng*nov)
	}
	for r := 0; r < ng; r++ {
		for i := 0; i < nocc; i++ {
			oi0 := conj128(mov.At(0, r, i))
			for a := 0; a < nvir; a++ {
				k := r*nov + i*nvir + a
				va0 := complex128(mov.At(0, r, nocc+a))
				rho[0][k] = oi0 * va0
				for x := 1; x < 4; x++ {
					rho[x][k] = conj128(mov.At(x, r, i))*va0 + oi0*complex128(mov.At(x, r, nocc+a))
				}
			}
		}
	}
	return rho
}

// gradOverlap contracts the ground-state density gradient with the
// transition density gradient channels.
func gradOverlap(rho0 [4][]float64, rhoOV [4][]complex128, ng, nov int) []complex128 {
	out := make([]complex128, ng*nov)
	for x := 1; x < 4; x++ {
		for r := 0; r < ng; r++ {
			g := complex(rho0[x][r], 0)
			for ia := 0; ia < nov; ia++ {
				out[r*nov+ia] += g * rhoOV[x][r*nov+ia]
			}
		}
	}
	return out
}

// groundStateDensity builds the real parts of the alpha and beta diagonal
// blocks of the ground-state density matrix in the spatial basis.
func groundStateDensity(state *MeanFieldState, occ []int, nb int) (dm0a, dm0b []float64) {
	orbo := state.columns(occ)
	dm0a = make([]float64, nb*nb)
	dm0b = make([]float64, nb*nb)
	for p := 0; p < nb; p++ {
		for q := 0; q < nb; q++ {
			var va, vb complex128
			for i := range occ {
				va += complex128(orbo.At(p, i)) * conj128(orbo.At(q, i))
				vb += complex128(orbo.At(nb+p, i)) * conj128(orbo.At(nb+q, i))
			}
			dm0a[p*nb+q] = real(va)
			dm0b[p*nb+q] = real(vb)
		}
	}
	return dm0a, dm0b
}

// evalRhoLDA evaluates the density on the grid from real atomic orbital
// values of shape (ngrid, nb).
func evalRhoLDA(ao *tensor.Dense, dm []float64, nb, ng int) []float64 {
	rho := make([]float64, ng)
	for r := 0; r < ng; r++ {
		var v float64
		for p := 0; p < nb; p++ {
			ap := float64(real(ao.At(r, p)))
			if ap == 0 {
				continue
			}
			for q := 0; q < nb; q++ {
				v += ap * dm[p*nb+q] * float64(real(ao.At(r, q)))
			}
		}
		rho[r] = v
	}
	return rho
}

// evalRhoGGA evaluates the density and its gradient from atomic orbital
// values of shape (4, ngrid, nb). The density matrix is assumed hermitian,
// so each gradient component is twice the orbital derivative overlap.
func evalRhoGGA(ao *tensor.Dense, dm []float64, nb, ng int) [4][]float64 {
	var rho [4][]float64
	for x := range rho {
		rho[x] = make([]float64, ng)
	}
	for r := 0; r < ng; r++ {
		for q := 0; q < nb; q++ {
			var dq float64
			for p := 0; p < nb; p++ {
				dq += dm[q*nb+p] * float64(real(ao.At(0, r, p)))
			}
			if dq == 0 {
				continue
			}
			rho[0][r] += float64(real(ao.At(0, r, q))) * dq
			for x := 1; x < 4; x++ {
				rho[x][r] += 2 * float64(real(ao.At(x, r, q))) * dq
			}
		}
	}
	return rho
}

// hstack concatenates two matrices with equal row counts along columns.
func hstack(l, r *tensor.Dense) *tensor.Dense {
	ls, rs := l.Shape(), r.Shape()
	out := tensor.Zeros(ls[0], ls[1]+rs[1])
	for p := 0; p < ls[0]; p++ {
		for j := 0; j < ls[1]; j++ {
			out.SetAt([]int{p, j}, l.At(p, j))
		}
		for j := 0; j < rs[1]; j++ {
			out.SetAt([]int{p, ls[1] + j}, r.At(p, j))
		}
	}
	return out
}

// spinRows splits a spinor coefficient matrix into its alpha and beta row
// blocks of nb rows each.
func spinRows(m *tensor.Dense, nb int) (*tensor.Dense, *tensor.Dense) {
	shape := m.Shape()
	cols := shape[1]
	a := tensor.Zeros(nb, cols)
	b := tensor.Zeros(nb, cols)
	for p := 0; p < nb; p++ {
		for j := 0; j < cols; j++ {
			a.SetAt([]int{p, j}, m.At(p, j))
			b.SetAt([]int{p, j}, m.At(nb+p, j))
		}
	}
	return a, b
}

func conj128(v complex64) complex128 {
	return complex(float64(real(v)), -float64(imag(v)))
}
