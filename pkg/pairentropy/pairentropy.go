// Package pairentropy computes the pair entropy of a set of particles
//
//	s = -2*pi*rho * int_0^maxr [ g(r) ln g(r) - g(r) + 1 ] r^2 dr
//
// together with its exact derivatives with respect to every atom position
// and to the periodic cell (the virial). The radial distribution function
// g(r) is built from the pairwise distances with a Gaussian kernel so that
// the whole expression stays differentiable.
package pairentropy

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/kpotier/pairentropy/pkg/box"
	"github.com/kpotier/pairentropy/pkg/comm"
	"github.com/kpotier/pairentropy/pkg/integrate"
	"github.com/kpotier/pairentropy/pkg/neighbor"
	"github.com/kpotier/pairentropy/pkg/traj"
	"github.com/kpotier/pairentropy/pkg/vec"
)

// gofrEps is the density below which a bin is treated as exactly empty. The
// limiting value of the integrand is substituted there instead of its log
// form.
const gofrEps = 1e-10

// Config gathers the parameters of an Estimator. MaxR, NHist and Sigma are
// compulsory; everything else has a working zero value.
type Config struct {
	// Histogram grid: NHist abscissas evenly spaced in [0, MaxR]. Sigma is
	// the width of the Gaussian kernel.
	MaxR  float64
	NHist int
	Sigma float64

	// Serial forces a single worker with no partitioning and no reduction.
	// Workers is the number of parallel workers otherwise (0 means one per
	// CPU).
	Serial  bool
	Workers int

	// NList enables the neighbor list. NLCutoff must then be at least
	// MaxR + 3*Sigma and NLStride gives the rebuild period in steps.
	NList    bool
	NLCutoff float64
	NLStride int

	// Density overrides the N/V normalization when positive. When it is
	// left unset the density is derived from the cell volume and the
	// volume contribution enters the virial.
	Density float64

	// AverageGofr blends g(r) with a running mean over the steps. The
	// derivatives always stay instantaneous.
	AverageGofr bool

	// Diagnostic dumps, rewritten every OutputStride steps.
	OutputGofr      bool
	OutputIntegrand bool
	OutputStride    int
	GofrFile        string
	IntegrandFile   string

	// ReferenceGofr is the path of a two-column (r, g) table with exactly
	// NHist rows. When set, the relative entropy with respect to that
	// reference is computed instead of the absolute one.
	ReferenceGofr string

	// Log, when set, receives a summary of the configuration.
	Log *logrus.Entry
}

// Result is the outcome of one step: the pair entropy, its derivative with
// respect to every position, and its derivative with respect to the cell.
type Result struct {
	Value  float64
	Grad   []vec.Vec
	Virial vec.Tensor
}

// Estimator computes the pair entropy once per step. It is not safe for
// concurrent use; parallelism happens inside Calculate.
type Estimator struct {
	maxr  float64
	nhist int
	sigma float64

	workers      int
	serial       bool
	densityGiven float64

	nl         *neighbor.List
	invalidate bool
	firsttime  bool

	// Derived once at construction.
	rcut2           float64
	invSqrt2piSigma float64
	sigmaSqr        float64
	sigmaSqr2       float64
	deltar          float64
	deltaBin        int
	x, x2           []float64

	refGofr []float64

	doAvg     bool
	avgGofr   []float64
	iteration int

	doOutputGofr      bool
	doOutputIntegrand bool
	outputStride      int
	gofrFile          string
	integrandFile     string

	step int
}

// New validates cfg and returns a ready Estimator. Every ill-posed
// configuration is rejected here; no error is expected at run time.
func New(cfg Config) (*Estimator, error) {
	if cfg.MaxR <= 0 {
		return nil, fmt.Errorf("maxr must be positive (got %v)", cfg.MaxR)
	}
	if cfg.NHist <= 1 {
		return nil, fmt.Errorf("nhist must be greater than 1 (got %d)", cfg.NHist)
	}
	if cfg.Sigma <= 0 {
		return nil, fmt.Errorf("sigma must be positive (got %v)", cfg.Sigma)
	}

	e := &Estimator{
		maxr:         cfg.MaxR,
		nhist:        cfg.NHist,
		sigma:        cfg.Sigma,
		serial:       cfg.Serial,
		densityGiven: cfg.Density,
		doAvg:        cfg.AverageGofr,
		firsttime:    true,
		invalidate:   true,
	}

	e.workers = cfg.Workers
	if e.workers < 1 {
		e.workers = runtime.NumCPU()
	}
	if cfg.Serial {
		e.workers = 1
	}

	e.deltar = cfg.MaxR / float64(cfg.NHist-1)
	if e.deltar > cfg.Sigma {
		return nil, errors.New("bin size too large: increase nhist so that maxr/(nhist-1) <= sigma")
	}

	rcut := cfg.MaxR + 3*cfg.Sigma // kernel truncated at 3 standard deviations
	e.rcut2 = rcut * rcut
	e.invSqrt2piSigma = 1. / (math.Sqrt(2*math.Pi) * cfg.Sigma)
	e.sigmaSqr = cfg.Sigma * cfg.Sigma
	e.sigmaSqr2 = 2. * e.sigmaSqr
	e.deltaBin = int(math.Floor(3 * cfg.Sigma / e.deltar))

	e.x = make([]float64, cfg.NHist)
	e.x2 = make([]float64, cfg.NHist)
	floats.Span(e.x, 0, cfg.MaxR)
	for i, v := range e.x {
		e.x2[i] = v * v
	}

	if cfg.NList {
		if cfg.NLCutoff <= 0 {
			return nil, errors.New("nl_cutoff should be explicitly specified and positive")
		}
		if cfg.NLStride <= 0 {
			return nil, errors.New("nl_stride should be explicitly specified and positive")
		}
		if cfg.NLCutoff < rcut {
			return nil, fmt.Errorf("nl_cutoff (%v) should be larger than maxr + 3*sigma (%v)", cfg.NLCutoff, rcut)
		}
		var err error
		e.nl, err = neighbor.New(cfg.NLCutoff, cfg.NLStride, e.workers)
		if err != nil {
			return nil, err
		}
	}

	e.doOutputGofr = cfg.OutputGofr
	e.doOutputIntegrand = cfg.OutputIntegrand
	e.outputStride = cfg.OutputStride
	if e.outputStride == 0 {
		e.outputStride = 1
	}
	if e.outputStride < 1 {
		return nil, fmt.Errorf("output_stride must be greater than or equal to one (got %d)", cfg.OutputStride)
	}
	if e.outputStride > 1 && !e.doOutputGofr && !e.doOutputIntegrand {
		return nil, errors.New("cannot specify output_stride if output_gofr or output_integrand not used")
	}
	e.gofrFile = cfg.GofrFile
	if e.gofrFile == "" {
		e.gofrFile = "gofr.dat"
	}
	e.integrandFile = cfg.IntegrandFile
	if e.integrandFile == "" {
		e.integrandFile = "integrand.dat"
	}

	if cfg.ReferenceGofr != "" {
		f, err := os.Open(cfg.ReferenceGofr)
		if err != nil {
			return nil, fmt.Errorf("reference gofr: %w", err)
		}
		e.refGofr, err = traj.ReadTable(f, cfg.NHist)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reference gofr: %w", err)
		}
	}

	if e.doAvg {
		e.avgGofr = make([]float64, cfg.NHist)
		e.iteration = 1
	}

	if cfg.Log != nil {
		l := cfg.Log.WithFields(logrus.Fields{
			"maxr": cfg.MaxR, "nhist": cfg.NHist, "sigma": cfg.Sigma,
			"workers": e.workers,
		})
		if cfg.Density > 0 {
			l = l.WithField("density", cfg.Density)
		}
		if e.nl != nil {
			l = l.WithFields(logrus.Fields{"nl_cutoff": cfg.NLCutoff, "nl_stride": cfg.NLStride})
		}
		if e.refGofr != nil {
			l = l.WithField("reference_gofr", cfg.ReferenceGofr)
		}
		l.Info("pair entropy estimator ready")
	}

	return e, nil
}

// NHist returns the number of histogram bins.
func (e *Estimator) NHist() int { return e.nhist }

// Abscissas returns the histogram abscissas. The slice is owned by the
// estimator and must not be modified.
func (e *Estimator) Abscissas() []float64 { return e.x }

// Prepare decides whether the neighbor list must be rebuilt on the coming
// step. It must be called once per step before Calculate. An exchange event
// on a step that is not a rebuild step is a configuration error; an exchange
// on a rebuild step forces an unconditional rebuild on the next one.
func (e *Estimator) Prepare(step int, exchange bool) error {
	e.step = step
	if e.nl == nil {
		return nil
	}
	if e.firsttime || step%e.nl.Stride() == 0 {
		e.invalidate = true
		e.firsttime = false
	} else {
		e.invalidate = false
		if exchange {
			return errors.New("neighbor lists should be updated on exchange steps: choose a nl_stride which divides the exchange stride")
		}
	}
	if exchange {
		e.firsttime = true
	}
	return nil
}

// kernel evaluates the normalized Gaussian at x together with its
// derivative.
func (e *Estimator) kernel(x float64) (val, der float64) {
	val = e.invSqrt2piSigma * math.Exp(-x*x/e.sigmaSqr2)
	der = -x * val / e.sigmaSqr
	return val, der
}

// pair accumulates the contribution of the pair (i0, i1) into gofr and,
// when prime is not nil, into the per-atom gradient arena and the per-bin
// virial. The gradient carries opposite signs on the two atoms and the
// virial is the outer product of the signed gradient with the raw distance
// vector.
func (e *Estimator) pair(pos []vec.Vec, bx box.Box, i0, i1 int, gofr []float64, prime []vec.Vec, virial []vec.Tensor) {
	if i0 == i1 {
		return
	}
	d := bx.Distance(pos[i0], pos[i1])

	// Component-wise comparison against the squared cutoff rejects most
	// pairs after one or two multiplications.
	d2 := d[0] * d[0]
	if d2 >= e.rcut2 {
		return
	}
	if d2 += d[1] * d[1]; d2 >= e.rcut2 {
		return
	}
	if d2 += d[2] * d[2]; d2 >= e.rcut2 {
		return
	}

	mod := math.Sqrt(d2)
	versor := d.Scale(1 / mod)
	bin := int(mod / e.deltar)

	// The kernel only reaches deltaBin bins on each side of the distance.
	minBin := bin - e.deltaBin
	if minBin < 0 {
		minBin = 0
	}
	if minBin > e.nhist-1 {
		minBin = e.nhist - 1
	}
	maxBin := bin + e.deltaBin
	if maxBin > e.nhist-1 {
		maxBin = e.nhist - 1
	}

	n := len(pos)
	for k := minBin; k <= maxBin; k++ {
		val, der := e.kernel(e.x[k] - mod)
		gofr[k] += val
		if prime == nil {
			continue
		}
		v := versor.Scale(der)
		prime[k*n+i0] = prime[k*n+i0].Add(v)
		prime[k*n+i1] = prime[k*n+i1].Sub(v)
		virial[k] = virial[k].Add(vec.Outer(v, d))
	}
}

// accumulateRank walks the pairs owned by one worker. With a neighbor list
// the worker iterates its own bucket; otherwise the outer atom index is
// sliced round-robin over the workers.
func (e *Estimator) accumulateRank(pos []vec.Vec, bx box.Box, rank, stride int, wantDeriv bool) (gofr []float64, prime []vec.Vec, virial []vec.Tensor) {
	gofr = make([]float64, e.nhist)
	if wantDeriv {
		prime = make([]vec.Vec, e.nhist*len(pos))
		virial = make([]vec.Tensor, e.nhist)
	}

	if e.nl != nil {
		for _, p := range e.nl.Pairs(rank) {
			e.pair(pos, bx, p.I, p.J, gofr, prime, virial)
		}
		return gofr, prime, virial
	}

	for i := rank; i < len(pos)-1; i += stride {
		for j := i + 1; j < len(pos); j++ {
			e.pair(pos, bx, i, j, gofr, prime, virial)
		}
	}
	return gofr, prime, virial
}

// accumulate runs the pair accumulation over all workers and returns the
// reduced g(r), gradient arena and per-bin virial. The all-reduce is the
// only synchronization point of the accumulation.
func (e *Estimator) accumulate(pos []vec.Vec, bx box.Box, wantDeriv bool) (gofr []float64, prime []vec.Vec, virial []vec.Tensor, err error) {
	if e.nl != nil && e.invalidate {
		if err := e.nl.Update(pos, bx); err != nil {
			return nil, nil, nil, err
		}
		e.invalidate = false
	}

	if e.workers == 1 {
		gofr, prime, virial = e.accumulateRank(pos, bx, 0, 1, wantDeriv)
		return gofr, prime, virial, nil
	}

	group := comm.NewGroup(e.workers)
	gofrR := make([][]float64, e.workers)
	primeR := make([][]vec.Vec, e.workers)
	virialR := make([][]vec.Tensor, e.workers)

	g := new(errgroup.Group)
	for r := 0; r < e.workers; r++ {
		r := r
		g.Go(func() error {
			c := group.Comm(r)
			gf, pr, vr := e.accumulateRank(pos, bx, c.Rank(), c.Size(), wantDeriv)
			c.SumFloats(gf)
			if wantDeriv {
				c.SumVecs(pr)
				c.SumTensors(vr)
			}
			gofrR[r], primeR[r], virialR[r] = gf, pr, vr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return gofrR[0], primeR[0], virialR[0], nil
}

// normalize converts the raw accumulated density into a proper g(r). Bin 0
// sits at the coordinate origin where the volume element vanishes and is
// left untouched.
func (e *Estimator) normalize(gofr []float64, prime []vec.Vec, virial []vec.Tensor, n int, density float64) {
	normBase := 2 * math.Pi * density * float64(n)
	for j := 1; j < e.nhist; j++ {
		inv := 1 / (normBase * e.x2[j])
		gofr[j] *= inv
		if prime == nil {
			continue
		}
		virial[j] = virial[j].Scale(inv)
		for k := 0; k < n; k++ {
			prime[j*n+k] = prime[j*n+k].Scale(inv)
		}
	}
}

// blendAverage folds the instantaneous g(r) into the running mean and
// substitutes the mean for all downstream use. Derivatives are deliberately
// not averaged.
func (e *Estimator) blendAverage(gofr []float64) {
	if !e.doAvg {
		return
	}
	for i := range gofr {
		e.avgGofr[i] += (gofr[i] - e.avgGofr[i]) / float64(e.iteration)
		gofr[i] = e.avgGofr[i]
	}
	e.iteration++
}

// density resolves the normalization density for n atoms in bx.
func (e *Estimator) density(n int, bx box.Box) float64 {
	if e.densityGiven > 0 {
		return e.densityGiven
	}
	return float64(n) / bx.Volume()
}

// Gofr returns the normalized (and, when enabled, time-averaged) g(r) for
// the given configuration without any derivative work.
func (e *Estimator) Gofr(pos []vec.Vec, bx box.Box) ([]float64, error) {
	if len(pos) == 0 {
		return nil, errors.New("no atoms")
	}
	gofr, _, _, err := e.accumulate(pos, bx, false)
	if err != nil {
		return nil, err
	}
	e.normalize(gofr, nil, nil, len(pos), e.density(len(pos), bx))
	e.blendAverage(gofr)
	return gofr, nil
}

// Calculate performs one step: it builds g(r) and its derivatives from the
// positions, assembles the entropy integrand and integrates it. The returned
// gradient has one entry per atom and the virial is the derivative with
// respect to the cell, including the volume term when the density is derived
// from the cell rather than fixed.
func (e *Estimator) Calculate(pos []vec.Vec, bx box.Box) (Result, error) {
	n := len(pos)
	if n == 0 {
		return Result{}, errors.New("no atoms")
	}

	gofr, prime, virial, err := e.accumulate(pos, bx, true)
	if err != nil {
		return Result{}, err
	}

	density := e.density(n, bx)
	twoPiDensity := 2 * math.Pi * density
	e.normalize(gofr, prime, virial, n, density)
	e.blendAverage(gofr)

	if e.doOutputGofr && e.step%e.outputStride == 0 {
		if err := e.outputTable(e.gofrFile, gofr); err != nil {
			return Result{}, err
		}
	}

	// First bin holding a non-vanishing density. Bins below it are skipped
	// in the derivative integrands; the value integrand substitutes the
	// limiting form there instead.
	nhistMin := 0
	for nhistMin < e.nhist && gofr[nhistMin] < gofrEps {
		nhistMin++
	}

	logGofr := make([]float64, e.nhist)
	integrand := make([]integrate.Scalar, e.nhist)
	for j := 0; j < e.nhist; j++ {
		if e.refGofr != nil {
			if e.refGofr[j] < gofrEps {
				logGofr[j] = 0
			} else {
				logGofr[j] = math.Log(gofr[j] / e.refGofr[j])
			}
			if gofr[j] < gofrEps {
				integrand[j] = integrate.Scalar(e.refGofr[j] * e.x2[j])
			} else {
				integrand[j] = integrate.Scalar((gofr[j]*logGofr[j] - gofr[j] + e.refGofr[j]) * e.x2[j])
			}
		} else {
			logGofr[j] = math.Log(gofr[j])
			if gofr[j] < gofrEps {
				integrand[j] = integrate.Scalar(e.x2[j])
			} else {
				integrand[j] = integrate.Scalar((gofr[j]*logGofr[j] - gofr[j] + 1) * e.x2[j])
			}
		}
	}

	if e.doOutputIntegrand && e.step%e.outputStride == 0 {
		tmp := make([]float64, e.nhist)
		for i, v := range integrand {
			tmp[i] = float64(v)
		}
		if err := e.outputTable(e.integrandFile, tmp); err != nil {
			return Result{}, err
		}
	}

	value := -twoPiDensity * float64(integrate.Trapezoid(integrand, e.deltar))

	deriv, err := e.derivatives(gofr, logGofr, prime, n, nhistMin, twoPiDensity)
	if err != nil {
		return Result{}, err
	}

	// Virial of the positions.
	integrandVirial := make([]vec.Tensor, e.nhist)
	for j := nhistMin; j < e.nhist; j++ {
		if gofr[j] > gofrEps {
			integrandVirial[j] = virial[j].Scale(logGofr[j] * e.x2[j])
		}
	}
	virialOut := integrate.Trapezoid(integrandVirial, e.deltar).Scale(-twoPiDensity)

	// Virial of the volume: only when the density itself depends on the
	// cell. A fixed density must not carry this term.
	if e.densityGiven <= 0 {
		integrandVolume := make([]integrate.Scalar, e.nhist)
		for j := 0; j < e.nhist; j++ {
			if e.refGofr != nil {
				integrandVolume[j] = integrate.Scalar((-gofr[j] + e.refGofr[j]) * e.x2[j])
			} else {
				integrandVolume[j] = integrate.Scalar((-gofr[j] + 1) * e.x2[j])
			}
		}
		s := -twoPiDensity * float64(integrate.Trapezoid(integrandVolume, e.deltar))
		virialOut = virialOut.Add(vec.Identity().Scale(s))
	}

	return Result{Value: value, Grad: deriv, Virial: virialOut}, nil
}

// derivatives assembles the per-atom gradient: for each atom the per-bin
// vector integrand prime*log(g)*x^2 is integrated and scaled. Atoms are
// sliced round-robin over the workers and the result reduced by summation.
func (e *Estimator) derivatives(gofr, logGofr []float64, prime []vec.Vec, n, nhistMin int, twoPiDensity float64) ([]vec.Vec, error) {
	rankDeriv := func(deriv []vec.Vec, rank, stride int) {
		buf := make([]vec.Vec, e.nhist)
		for j := rank; j < n; j += stride {
			for k := range buf {
				buf[k] = vec.Vec{}
			}
			for k := nhistMin; k < e.nhist; k++ {
				if gofr[k] > gofrEps {
					buf[k] = prime[k*n+j].Scale(logGofr[k] * e.x2[k])
				}
			}
			deriv[j] = integrate.Trapezoid(buf, e.deltar).Scale(-twoPiDensity)
		}
	}

	if e.workers == 1 {
		deriv := make([]vec.Vec, n)
		rankDeriv(deriv, 0, 1)
		return deriv, nil
	}

	group := comm.NewGroup(e.workers)
	derivR := make([][]vec.Vec, e.workers)
	g := new(errgroup.Group)
	for r := 0; r < e.workers; r++ {
		r := r
		g.Go(func() error {
			c := group.Comm(r)
			deriv := make([]vec.Vec, n)
			rankDeriv(deriv, c.Rank(), c.Size())
			c.SumVecs(deriv)
			derivR[r] = deriv
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return derivR[0], nil
}

// outputTable rewrites a diagnostic dump file in place.
func (e *Estimator) outputTable(path string, y []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return traj.WriteTable(f, e.x, y)
}
