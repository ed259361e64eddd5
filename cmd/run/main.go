// Command run computes the excited states of a model interacting system
// over a sweep of system sizes and coupling strengths.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/fumin/tdresp"
)

const (
	fnameEigen = "eig.csv"
	fnameDone  = "done.txt"
	fnameChk   = "tdresp.sqlite"

	nroots = 3
)

var (
	runDir = flag.String("d", filepath.Join("runs", "tdresp"), "run directory")
)

type excitation struct {
	kind      string
	root      int
	energy    float64
	converged bool
}

// modelState is a spin-orbital reference with l doubly degenerate levels,
// the lower half occupied, and canonical orbitals.
func modelState(l int) *tdresp.MeanFieldState {
	nao := 2 * l
	energy := make([]float64, nao)
	occ := make([]int, nao)
	coeff := tensor.Zeros(nao, nao)
	for p := 0; p < nao; p++ {
		energy[p] = float64(p)
		coeff.SetAt([]int{p, p}, 1)
	}
	for p := 0; p < l; p++ {
		occ[p] = 1
	}
	return &tdresp.MeanFieldState{MOEnergy: energy, MOCoeff: coeff, MOOcc: occ}
}

// modelVresp is the response of a separable two-electron interaction
// (pq|rs) = u*g[p,q]*g[r,s], where g couples orbitals within the same spin
// block with a strength decaying in the level distance.
func modelVresp(l int, u float64) tdresp.ResponseFunc {
	nao := 2 * l
	g := make([]float64, nao*nao)
	for p := 0; p < nao; p++ {
		for q := 0; q < nao; q++ {
			if (p < l) == (q < l) {
				g[p*nao+q] = 1 / (1 + math.Abs(float64(p%l-q%l)))
			}
		}
	}

	return func(dms *tensor.Dense, hermitian bool) (*tensor.Dense, error) {
		shape := dms.Shape()
		if len(shape) != 3 || shape[1] != nao || shape[2] != nao {
			return nil, errors.Errorf("%#v", shape)
		}
		out := tensor.Zeros(shape...)
		cu := complex(float32(u), 0)
		for z := 0; z < shape[0]; z++ {
			// Coulomb trace sum_{ls} g[l,s] dm[s,l].
			var tr complex64
			for lam := 0; lam < nao; lam++ {
				for sig := 0; sig < nao; sig++ {
					tr += complex(float32(g[lam*nao+sig]), 0) * dms.At(z, sig, lam)
				}
			}

			for p := 0; p < nao; p++ {
				for q := 0; q < nao; q++ {
					vj := complex(float32(g[p*nao+q]), 0) * tr

					// Exchange sum_{nl} g[p,n] dm[n,l] g[l,q].
					var vk complex64
					for nu := 0; nu < nao; nu++ {
						gp := complex(float32(g[p*nao+nu]), 0)
						if gp == 0 {
							continue
						}
						for lam := 0; lam < nao; lam++ {
							vk += gp * dms.At(z, nu, lam) * complex(float32(g[lam*nao+q]), 0)
						}
					}

					out.SetAt([]int{z, p, q}, cu*(vj-vk))
				}
			}
		}
		return out, nil
	}
}

func solve(dir string, l int, u float64) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	state := modelState(l)
	vresp := modelVresp(l, u)
	opt := tdresp.NewSolveOptions().Chkfile(filepath.Join(dir, fnameChk))

	tda, err := tdresp.SolveTDA(state, vresp, nroots, opt)
	if err != nil {
		return errors.Wrap(err, "")
	}
	rpa, err := tdresp.SolveRPA(state, vresp, nroots)
	if err != nil {
		return errors.Wrap(err, "")
	}

	excitations := make([]excitation, 0)
	for _, res := range []struct {
		kind string
		r    *tdresp.SolveResult
	}{{"tda", tda}, {"rpa", rpa}} {
		for i, e := range res.r.Energies {
			conv := i < len(res.r.Converged) && res.r.Converged[i]
			excitations = append(excitations, excitation{kind: res.kind, root: i, energy: e, converged: conv})
		}
	}
	if err := writeEig(dir, excitations); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func writeEig(dir string, excitations []excitation) error {
	fpath := filepath.Join(dir, fnameEigen)
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(f)

	for _, e := range excitations {
		row := []string{e.kind, strconv.Itoa(e.root), strconv.FormatFloat(e.energy, 'f', -1, 64), strconv.FormatBool(e.converged)}
		if err1 := w.Write(row); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func readEig(dir string) ([]excitation, error) {
	fpath := filepath.Join(dir, fnameEigen)
	f, err := os.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	r := csv.NewReader(f)

	excitations := make([]excitation, 0)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "")
		}

		var e excitation
		e.kind = record[0]
		if e.root, err = strconv.Atoi(record[1]); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		if e.energy, err = strconv.ParseFloat(record[2], 64); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		if e.converged, err = strconv.ParseBool(record[3]); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", record))
		}
		excitations = append(excitations, e)
	}
	return excitations, nil
}

func gather(dir string) error {
	fmt.Printf("l,u,kind,root,energy,converged\n")

	lEntries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, lent := range lEntries {
		l, err := strconv.Atoi(strings.TrimPrefix(lent.Name(), "l"))
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}

		ldir := filepath.Join(dir, lent.Name())
		uEntries, err := os.ReadDir(ldir)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}
		for _, uent := range uEntries {
			u, err := strconv.ParseFloat(uent.Name(), 64)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, uent))
			}

			excitations, err := readEig(filepath.Join(ldir, uent.Name()))
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, uent))
			}
			for _, e := range excitations {
				fmt.Printf("%d,%f,%s,%d,%f,%t\n", l, u, e.kind, e.root, e.energy, e.converged)
			}
		}
	}
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	type config struct {
		l int
		u float64
	}
	configs := make([]config, 0)
	for l := 2; l <= 4; l++ {
		for _, u := range []float64{0.05, 0.1, 0.2, 0.5} {
			configs = append(configs, config{l: l, u: u})
		}
	}

	for _, c := range configs {
		dir := filepath.Join(*runDir, fmt.Sprintf("l%d", c.l), fmt.Sprintf("%f", c.u))
		if err := solve(dir, c.l, c.u); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d %f", c.l, c.u))
		}
		log.Printf("%d %f", c.l, c.u)
	}

	return gather(*runDir)
}
