package tdresp

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// NaturalTransitionOrbitals would extract the dominant particle-hole pairs
// of a root. It is deliberately not implemented for the generalized
// spin-orbital reference.
func NaturalTransitionOrbitals(state *MeanFieldState, pair AmplitudePair, threshold float64) (*tensor.Dense, error) {
	return nil, errors.Wrap(ErrUnimplemented, "natural transition orbitals")
}

// TransitionMultipole would contract amplitude pairs with one-electron
// multipole integrals. It is deliberately not implemented.
func TransitionMultipole(state *MeanFieldState, ints *tensor.Dense, pairs []AmplitudePair) (*tensor.Dense, error) {
	return nil, errors.Wrap(ErrUnimplemented, "multipole transition moments")
}

// NuclearGradient would compute analytic excited-state gradients. It is
// deliberately not implemented.
func NuclearGradient(state *MeanFieldState, result *SolveResult) (*tensor.Dense, error) {
	return nil, errors.Wrap(ErrUnimplemented, "analytic nuclear gradients")
}
