package tdresp

import (
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/tdresp/chk"
	"github.com/fumin/tdresp/davidson"
)

const (
	// ChkKeyEnergies is the checkpoint dataset of the excitation energies.
	ChkKeyEnergies = "tddft/e"
	// ChkKeyAmplitudes is the checkpoint dataset of the amplitude pairs,
	// with rows 2r and 2r+1 holding the flattened X and Y of root r.
	ChkKeyAmplitudes = "tddft/xy"
)

// AmplitudePair is the excitation (X) and de-excitation (Y) amplitude
// blocks of one root, each of shape (nocc, nvir). Y is zero for TDA.
type AmplitudePair struct {
	X *tensor.Dense
	Y *tensor.Dense
}

// SolveResult is the outcome of a solve. Converged has one flag per
// requested root; Energies and XY may be shorter when the acceptance
// policy admits fewer roots.
type SolveResult struct {
	Energies  []float64
	XY        []AmplitudePair
	Converged []bool
}

// SolveOptions are options for SolveTDA and SolveRPA.
type SolveOptions struct {
	wfnsym    int
	hasWfnsym bool
	fockAO    *tensor.Dense
	guess     *tensor.Dense

	tol      float64
	maxCycle int
	maxSpace int
	lindep   float64

	positiveEigThreshold float64
	realEigThreshold     float64
	outputThreshold      float64

	chkfile string
}

// NewSolveOptions returns the default solve options.
func NewSolveOptions() SolveOptions {
	opt := SolveOptions{}
	opt.tol = 1e-6
	opt.maxCycle = 100
	opt.maxSpace = 50
	opt.lindep = 1e-12
	opt.positiveEigThreshold = 1e-3
	opt.realEigThreshold = 1e-4
	opt.outputThreshold = 0.3
	return opt
}

// Wfnsym restricts the solve to the given wavefunction irrep.
func (opt SolveOptions) Wfnsym(ir int) SolveOptions {
	opt.wfnsym = ir
	opt.hasWfnsym = true
	return opt
}

// FockAO supplies an explicit Fock matrix for non-canonical references.
func (opt SolveOptions) FockAO(f *tensor.Dense) SolveOptions {
	opt.fockAO = f
	return opt
}

// Guess supplies an initial trial block of shape (nguess, width) instead of
// the Koopmans guesses.
func (opt SolveOptions) Guess(x0 *tensor.Dense) SolveOptions {
	opt.guess = x0
	return opt
}

// Tol sets the residual convergence tolerance.
func (opt SolveOptions) Tol(v float64) SolveOptions {
	opt.tol = v
	return opt
}

// MaxCycle sets the maximum eigensolver iterations.
func (opt SolveOptions) MaxCycle(i int) SolveOptions {
	opt.maxCycle = i
	return opt
}

// MaxSpace sets the maximum trial subspace size.
func (opt SolveOptions) MaxSpace(i int) SolveOptions {
	opt.maxSpace = i
	return opt
}

// Lindep sets the linear dependence threshold of the trial subspace.
func (opt SolveOptions) Lindep(v float64) SolveOptions {
	opt.lindep = v
	return opt
}

// PositiveEigThreshold sets the low-excitation filter under which
// eigenvalues are rejected as numerical instabilities of the reference.
func (opt SolveOptions) PositiveEigThreshold(v float64) SolveOptions {
	opt.positiveEigThreshold = v
	return opt
}

// RealEigThreshold sets the imaginary-part tolerance under which an RPA
// eigenvalue is accepted as real.
func (opt SolveOptions) RealEigThreshold(v float64) SolveOptions {
	opt.realEigThreshold = v
	return opt
}

// OutputThreshold sets the amplitude magnitude above which components are
// reported by the analysis surfaces.
func (opt SolveOptions) OutputThreshold(v float64) SolveOptions {
	opt.outputThreshold = v
	return opt
}

// Chkfile persists the energies and amplitude pairs to the given checkpoint
// path after the solve.
func (opt SolveOptions) Chkfile(path string) SolveOptions {
	opt.chkfile = path
	return opt
}

func (opt SolveOptions) operatorOptions() OperatorOptions {
	oo := NewOperatorOptions().FockAO(opt.fockAO)
	if opt.hasWfnsym {
		oo = oo.Wfnsym(opt.wfnsym)
	}
	return oo
}

func (opt SolveOptions) davidsonOptions() davidson.Options {
	return davidson.NewOptions().Tol(opt.tol).MaxCycle(opt.maxCycle).MaxSpace(opt.maxSpace).Lindep(opt.lindep)
}

// SolveTDA computes the nroots lowest Tamm-Dancoff excitations.
//
// Reaching the cycle limit is not an error: the best available roots are
// returned with their per-root convergence flags.
func SolveTDA(state *MeanFieldState, vresp ResponseFunc, nroots int, options ...SolveOptions) (*SolveResult, error) {
	opt := NewSolveOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	op, err := BuildOperator(state, vresp, TDA, opt.operatorOptions())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	x0, err := trialRows(state, TDA, nroots, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	// Reject spurious near-zero or negative modes signalling a variational
	// instability of the reference.
	thresh := opt.positiveEigThreshold * opt.positiveEigThreshold
	pick := func(vals []complex128, vecs [][]complex128, nroots int) []int {
		idx := make([]int, 0, len(vals))
		for i, v := range vals {
			if real(v) > thresh {
				idx = append(idx, i)
			}
		}
		return idx
	}

	dres, err := davidson.Solve(op.Apply, x0, davidson.DiagonalPreconditioner(op.Diag), nroots, pick, opt.davidsonOptions())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	res := &SolveResult{Converged: dres.Converged}
	for r, w := range dres.Values {
		res.Energies = append(res.Energies, real(w))
		x := tensor.Zeros(op.NOcc, op.NVir)
		for i := 0; i < op.NOcc; i++ {
			for a := 0; a < op.NVir; a++ {
				x.SetAt([]int{i, a}, dres.Vectors[r][i*op.NVir+a])
			}
		}
		res.XY = append(res.XY, AmplitudePair{X: x, Y: tensor.Zeros(op.NOcc, op.NVir)})
	}

	if opt.chkfile != "" {
		if err := res.SaveCheckpoint(opt.chkfile); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return res, nil
}

// SolveRPA computes the nroots lowest full-response excitations of the
// non-Hermitian problem [[A,B],[-B,-A]]. Accepted roots are real up to the
// configured tolerance, with amplitude pairs normalized so that
// |X|^2 - |Y|^2 = 1.
func SolveRPA(state *MeanFieldState, vresp ResponseFunc, nroots int, options ...SolveOptions) (*SolveResult, error) {
	opt := NewSolveOptions()
	if len(options) > 0 {
		opt = options[0]
	}

	op, err := BuildOperator(state, vresp, RPA, opt.operatorOptions())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	x0, err := trialRows(state, RPA, nroots, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	pick := func(vals []complex128, vecs [][]complex128, nroots int) []int {
		idx := make([]int, 0, len(vals))
		for i, v := range vals {
			if math.Abs(imag(v)) < opt.realEigThreshold && real(v) > opt.positiveEigThreshold {
				idx = append(idx, i)
			}
		}
		return idx
	}

	dres, err := davidson.Solve(op.Apply, x0, davidson.DiagonalPreconditioner(op.Diag), nroots, pick, opt.davidsonOptions())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	res := &SolveResult{Converged: dres.Converged}
	for r, w := range dres.Values {
		pair, err := normXY(dres.Vectors[r], op.NOcc, op.NVir)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		res.Energies = append(res.Energies, real(w))
		res.XY = append(res.XY, pair)
	}

	if opt.chkfile != "" {
		if err := res.SaveCheckpoint(opt.chkfile); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return res, nil
}

// normXY splits a flat paired vector into (X, Y) and normalizes it under
// the indefinite metric |X|^2 - |Y|^2 = 1. A non-positive metric signals a
// degenerate or spurious root and fails with ErrIllPosedNorm.
func normXY(z []complex64, nocc, nvir int) (AmplitudePair, error) {
	nov := nocc * nvir
	if len(z) != 2*nov {
		return AmplitudePair{}, errors.Errorf("%d %d", len(z), 2*nov)
	}
	var norm float64
	for j, v := range z {
		n2 := float64(real(v))*float64(real(v)) + float64(imag(v))*float64(imag(v))
		switch {
		case j < nov:
			norm += n2
		default:
			norm -= n2
		}
	}
	if norm <= 0 {
		return AmplitudePair{}, errors.Wrapf(ErrIllPosedNorm, "|X|^2-|Y|^2 = %f", norm)
	}

	s := complex(float32(math.Sqrt(1/norm)), 0)
	x := tensor.Zeros(nocc, nvir)
	y := tensor.Zeros(nocc, nvir)
	for i := 0; i < nocc; i++ {
		for a := 0; a < nvir; a++ {
			x.SetAt([]int{i, a}, s*z[i*nvir+a])
			y.SetAt([]int{i, a}, s*z[nov+i*nvir+a])
		}
	}
	return AmplitudePair{X: x, Y: y}, nil
}

// trialRows returns the initial trial vectors, either from the caller or
// from the Koopmans guess generator.
func trialRows(state *MeanFieldState, kind Kind, nroots int, opt SolveOptions) ([][]complex64, error) {
	x0 := opt.guess
	if x0 == nil {
		var err error
		x0, err = InitialGuess(state, kind, nroots, opt.operatorOptions())
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	shape := x0.Shape()
	if len(shape) != 2 {
		return nil, errors.Errorf("%#v", shape)
	}
	rows := make([][]complex64, shape[0])
	for r := range rows {
		v := make([]complex64, shape[1])
		for j := range v {
			v[j] = x0.At(r, j)
		}
		rows[r] = v
	}
	return rows, nil
}

// SaveCheckpoint persists the excitation energies and amplitude pairs under
// the datasets ChkKeyEnergies and ChkKeyAmplitudes.
func (res *SolveResult) SaveCheckpoint(path string) error {
	s, err := chk.Open(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer s.Close()

	if err := s.PutVector(ChkKeyEnergies, res.Energies); err != nil {
		return errors.Wrap(err, "")
	}

	if len(res.XY) == 0 {
		return nil
	}
	shape := res.XY[0].X.Shape()
	nov := shape[0] * shape[1]
	data := make([]complex64, 0, 2*len(res.XY)*nov)
	for _, pair := range res.XY {
		for _, t := range []*tensor.Dense{pair.X, pair.Y} {
			for _, v := range t.All() {
				data = append(data, v)
			}
		}
	}
	if err := s.PutMatrix(ChkKeyAmplitudes, 2*len(res.XY), nov, data); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
