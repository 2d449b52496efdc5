package pairentropy_test

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpotier/pairentropy/pkg/box"
	"github.com/kpotier/pairentropy/pkg/pairentropy"
	"github.com/kpotier/pairentropy/pkg/traj"
	"github.com/kpotier/pairentropy/pkg/vec"
)

// liquid returns cells^3 atoms on a cubic lattice of spacing a, each
// displaced by a uniform jitter. It is a cheap stand-in for a liquid-like
// configuration with a deterministic seed.
func liquid(cells int, a, jitter float64, seed int64) ([]vec.Vec, box.Box) {
	rng := rand.New(rand.NewSource(seed))
	pos := make([]vec.Vec, 0, cells*cells*cells)
	for i := 0; i < cells; i++ {
		for j := 0; j < cells; j++ {
			for k := 0; k < cells; k++ {
				p := vec.Vec{
					(float64(i) + 0.5) * a,
					(float64(j) + 0.5) * a,
					(float64(k) + 0.5) * a,
				}
				for d := 0; d < 3; d++ {
					p[d] += (2*rng.Float64() - 1) * jitter
				}
				pos = append(pos, p)
			}
		}
	}
	bx, err := box.New(float64(cells)*a, float64(cells)*a, float64(cells)*a)
	if err != nil {
		panic(err)
	}
	return pos, bx
}

// base is a small, well-resolved configuration used by most tests.
func base() pairentropy.Config {
	return pairentropy.Config{
		MaxR:   0.5,
		NHist:  40,
		Sigma:  0.08,
		Serial: true,
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*pairentropy.Config)
	}{
		{"zero maxr", func(c *pairentropy.Config) { c.MaxR = 0 }},
		{"one bin", func(c *pairentropy.Config) { c.NHist = 1 }},
		{"zero sigma", func(c *pairentropy.Config) { c.Sigma = 0 }},
		{"bin wider than kernel", func(c *pairentropy.Config) { c.Sigma = 0.005 }},
		{"nlist without cutoff", func(c *pairentropy.Config) { c.NList = true; c.NLStride = 10 }},
		{"nlist without stride", func(c *pairentropy.Config) { c.NList = true; c.NLCutoff = 1 }},
		{"nlist cutoff below kernel reach", func(c *pairentropy.Config) {
			c.NList = true
			c.NLCutoff = 0.5 // < maxr + 3*sigma = 0.74
			c.NLStride = 10
		}},
		{"output stride without output", func(c *pairentropy.Config) { c.OutputStride = 5 }},
		{"negative output stride", func(c *pairentropy.Config) {
			c.OutputGofr = true
			c.OutputStride = -1
		}},
		{"missing reference file", func(c *pairentropy.Config) { c.ReferenceGofr = "does-not-exist.dat" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mod(&cfg)
			_, err := pairentropy.New(cfg)
			require.Error(t, err)
		})
	}

	_, err := pairentropy.New(base())
	require.NoError(t, err)
}

// The gradient must be the derivative of the value: compare every component
// against a central finite difference of the scalar.
func TestGradientFiniteDifference(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 42)

	e, err := pairentropy.New(base())
	require.NoError(t, err)

	res, err := e.Calculate(pos, bx)
	require.NoError(t, err)
	require.False(t, math.IsNaN(res.Value))
	require.Len(t, res.Grad, len(pos))

	const h = 1e-5
	for _, atom := range []int{0, 7, 13, 26} {
		for d := 0; d < 3; d++ {
			plus := append([]vec.Vec(nil), pos...)
			plus[atom][d] += h
			minus := append([]vec.Vec(nil), pos...)
			minus[atom][d] -= h

			rp, err := e.Calculate(plus, bx)
			require.NoError(t, err)
			rm, err := e.Calculate(minus, bx)
			require.NoError(t, err)

			fd := (rp.Value - rm.Value) / (2 * h)
			tol := 1e-4 * math.Max(1, math.Abs(res.Grad[atom][d]))
			assert.InDelta(t, fd, res.Grad[atom][d], tol, "atom %d dim %d", atom, d)
		}
	}
}

// rescale returns positions and box scaled isotropically by s.
func rescale(pos []vec.Vec, bx box.Box, s float64) ([]vec.Vec, box.Box) {
	scaled := make([]vec.Vec, len(pos))
	for i := range pos {
		scaled[i] = pos[i].Scale(s)
	}
	return scaled, bx.Scale(s)
}

// Under an isotropic rescaling by (1+eps) the value changes as
// dS/deps = -trace(virial). With a derived density the volume term enters;
// with a fixed density it must not.
func TestVirialFiniteDifference(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 7)

	for _, fixed := range []bool{false, true} {
		cfg := base()
		if fixed {
			cfg.Density = float64(len(pos)) / bx.Volume()
		}
		e, err := pairentropy.New(cfg)
		require.NoError(t, err)

		res, err := e.Calculate(pos, bx)
		require.NoError(t, err)

		const h = 1e-6
		pp, bp := rescale(pos, bx, 1+h)
		pm, bm := rescale(pos, bx, 1-h)
		rp, err := e.Calculate(pp, bp)
		require.NoError(t, err)
		rm, err := e.Calculate(pm, bm)
		require.NoError(t, err)

		fd := (rp.Value - rm.Value) / (2 * h)
		tr := res.Virial.Trace()
		tol := 1e-4 * math.Max(1, math.Abs(tr))
		assert.InDelta(t, fd, -tr, tol, "fixed=%v", fixed)
	}
}

// Serial and parallel execution must agree to floating-point tolerance,
// with and without a neighbor list.
func TestSerialParallelEquivalence(t *testing.T) {
	pos, bx := liquid(4, 0.4, 0.05, 3)

	for _, nlist := range []bool{false, true} {
		serialCfg := base()
		parallelCfg := base()
		parallelCfg.Serial = false
		parallelCfg.Workers = 4
		if nlist {
			for _, c := range []*pairentropy.Config{&serialCfg, &parallelCfg} {
				c.NList = true
				c.NLCutoff = 0.8
				c.NLStride = 10
			}
		}

		es, err := pairentropy.New(serialCfg)
		require.NoError(t, err)
		ep, err := pairentropy.New(parallelCfg)
		require.NoError(t, err)

		rs, err := es.Calculate(pos, bx)
		require.NoError(t, err)
		rp, err := ep.Calculate(pos, bx)
		require.NoError(t, err)

		assert.InDelta(t, rs.Value, rp.Value, 1e-9*math.Abs(rs.Value), "nlist=%v", nlist)
		for i := range rs.Grad {
			for d := 0; d < 3; d++ {
				tol := 1e-8 * math.Max(1, math.Abs(rs.Grad[i][d]))
				assert.InDelta(t, rs.Grad[i][d], rp.Grad[i][d], tol)
			}
		}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				tol := 1e-8 * math.Max(1, math.Abs(rs.Virial[i][j]))
				assert.InDelta(t, rs.Virial[i][j], rp.Virial[i][j], tol)
			}
		}
	}
}

// With a neighbor-list cutoff covering the whole kernel reach, the listed
// pairs are exactly the contributing ones: both paths must give the same
// g(r), gradient and virial.
func TestNeighborListMatchesAllPairs(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 11)

	all, err := pairentropy.New(base())
	require.NoError(t, err)

	cfg := base()
	cfg.NList = true
	cfg.NLCutoff = 0.75
	cfg.NLStride = 5
	nl, err := pairentropy.New(cfg)
	require.NoError(t, err)

	ra, err := all.Calculate(pos, bx)
	require.NoError(t, err)
	rn, err := nl.Calculate(pos, bx)
	require.NoError(t, err)

	assert.InDelta(t, ra.Value, rn.Value, 1e-12*math.Abs(ra.Value))
	for i := range ra.Grad {
		for d := 0; d < 3; d++ {
			assert.InDelta(t, ra.Grad[i][d], rn.Grad[i][d], 1e-10)
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, ra.Virial[i][j], rn.Virial[i][j], 1e-10)
		}
	}

	ga, err := all.Gofr(pos, bx)
	require.NoError(t, err)
	gn, err := nl.Gofr(pos, bx)
	require.NoError(t, err)
	for i := range ga {
		assert.InDelta(t, ga[i], gn[i], 1e-12)
	}
}

// A reference g(r) equal to the instantaneous one makes the relative
// entropy vanish, and its gradient with it.
func TestReferenceSelf(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 19)

	plain, err := pairentropy.New(base())
	require.NoError(t, err)
	g, err := plain.Gofr(pos, bx)
	require.NoError(t, err)

	dir := t.TempDir()
	ref := filepath.Join(dir, "reference.dat")
	f, err := os.Create(ref)
	require.NoError(t, err)
	require.NoError(t, traj.WriteTable(f, plain.Abscissas(), g))
	require.NoError(t, f.Close())

	cfg := base()
	cfg.ReferenceGofr = ref
	e, err := pairentropy.New(cfg)
	require.NoError(t, err)

	res, err := e.Calculate(pos, bx)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Value, 1e-8)
	for i := range res.Grad {
		for d := 0; d < 3; d++ {
			assert.InDelta(t, 0, res.Grad[i][d], 1e-6)
		}
	}
}

// After k identical steps the running average equals the single-step g(r).
func TestAverageGofr(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 5)

	plain, err := pairentropy.New(base())
	require.NoError(t, err)
	want, err := plain.Gofr(pos, bx)
	require.NoError(t, err)

	cfg := base()
	cfg.AverageGofr = true
	avg, err := pairentropy.New(cfg)
	require.NoError(t, err)

	var got []float64
	for k := 0; k < 4; k++ {
		got, err = avg.Gofr(pos, bx)
		require.NoError(t, err)
	}
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-13)
	}

	// The value is stationary too when nothing moves.
	cfg = base()
	cfg.AverageGofr = true
	e, err := pairentropy.New(cfg)
	require.NoError(t, err)
	r1, err := e.Calculate(pos, bx)
	require.NoError(t, err)
	r2, err := e.Calculate(pos, bx)
	require.NoError(t, err)
	assert.InDelta(t, r1.Value, r2.Value, 1e-10*math.Abs(r1.Value))
}

// The spec example: a liquid-like system should show g(r) rising from ~0,
// overshooting above 1 at the first coordination shell and relaxing toward
// 1, with a negative, finite entropy.
func TestLiquidLikeSystem(t *testing.T) {
	pos, bx := liquid(6, 0.36, 0.03, 123) // 216 atoms, ~21 atoms/nm^3

	cfg := pairentropy.Config{
		MaxR:    0.65,
		NHist:   100,
		Sigma:   0.025,
		Workers: 2,
	}
	e, err := pairentropy.New(cfg)
	require.NoError(t, err)

	g, err := e.Gofr(pos, bx)
	require.NoError(t, err)
	x := e.Abscissas()

	// Near the origin the kernel sees no pairs.
	for i, xi := range x {
		if xi > 0.15 {
			break
		}
		assert.Less(t, g[i], 0.05, "bin %d (r=%v)", i, xi)
	}

	// First coordination shell around the lattice spacing.
	var peak float64
	for i, xi := range x {
		if xi > 0.3 && xi < 0.45 && g[i] > peak {
			peak = g[i]
		}
	}
	assert.Greater(t, peak, 1.0)

	// Large r relaxes toward the ideal-gas value.
	var tail, nTail float64
	for i, xi := range x {
		if xi > 0.55 {
			tail += g[i]
			nTail++
		}
	}
	assert.InDelta(t, 1.0, tail/nTail, 0.5)

	res, err := e.Calculate(pos, bx)
	require.NoError(t, err)
	assert.Less(t, res.Value, 0.0)
	assert.False(t, math.IsNaN(res.Value))
	assert.False(t, math.IsInf(res.Value, 0))
}

func TestPrepareExchange(t *testing.T) {
	cfg := base()
	cfg.NList = true
	cfg.NLCutoff = 0.8
	cfg.NLStride = 10
	e, err := pairentropy.New(cfg)
	require.NoError(t, err)

	// Rebuild steps accept exchanges.
	require.NoError(t, e.Prepare(0, false))
	require.NoError(t, e.Prepare(10, true))
	// After an exchange the next step rebuilds unconditionally.
	require.NoError(t, e.Prepare(11, false))

	// An exchange between rebuilds is a configuration error.
	require.NoError(t, e.Prepare(12, false))
	require.Error(t, e.Prepare(13, true))

	// Without a neighbor list Prepare never complains.
	plain, err := pairentropy.New(base())
	require.NoError(t, err)
	require.NoError(t, plain.Prepare(13, true))
}

func TestOutputFiles(t *testing.T) {
	pos, bx := liquid(3, 0.4, 0.05, 2)

	dir := t.TempDir()
	cfg := base()
	cfg.OutputGofr = true
	cfg.OutputIntegrand = true
	cfg.GofrFile = filepath.Join(dir, "gofr.dat")
	cfg.IntegrandFile = filepath.Join(dir, "integrand.dat")
	e, err := pairentropy.New(cfg)
	require.NoError(t, err)

	_, err = e.Calculate(pos, bx)
	require.NoError(t, err)

	for _, p := range []string{cfg.GofrFile, cfg.IntegrandFile} {
		f, err := os.Open(p)
		require.NoError(t, err)
		y, err := traj.ReadTable(f, cfg.NHist)
		f.Close()
		require.NoError(t, err)
		require.Len(t, y, cfg.NHist)
	}
}
