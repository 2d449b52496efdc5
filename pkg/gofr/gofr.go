// Package gofr calculates the kernel-smoothed radial distribution function
// averaged over a trajectory. The output is the two-column (r, g) table that
// the pairentropy calculation accepts as reference.
package gofr

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"

	"github.com/kpotier/pairentropy/pkg/pairentropy"
	"github.com/kpotier/pairentropy/pkg/traj"
)

// Type is the type of calculation.
var Type = "gofr"

// Gofr is a structure containing the parameters that can be parsed from a
// TOML configuration file. This structure can be instanced through the New
// method. The smoothing grid (maxr, nhist, sigma) follows the same rules as
// the pairentropy calculation so the produced table can be used as its
// reference.
type Gofr struct {
	FileIn  string `toml:"gofr.file_in"`
	FileOut string `toml:"gofr.file_out"`

	CfgStart int `toml:"gofr.cfg_start"`
	CfgEnd   int `toml:"gofr.cfg_end"`

	MaxR  float64 `toml:"gofr.maxr"`
	NHist int     `toml:"gofr.nhist"`
	Sigma float64 `toml:"gofr.sigma"`

	Serial  bool `toml:"gofr.serial"`
	Workers int  `toml:"gofr.workers"`

	NList    bool    `toml:"gofr.nlist"`
	NLCutoff float64 `toml:"gofr.nl_cutoff"`
	NLStride int     `toml:"gofr.nl_stride"`

	Density float64 `toml:"gofr.density"`

	est *pairentropy.Estimator
	log *logrus.Entry
}

// New returns an instance of the Gofr structure. It reads and parses the
// configuration file given in argument. The file must be a TOML file.
func New(path string) (*Gofr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var g Gofr
	dec := toml.NewDecoder(f)
	if err := dec.Decode(&g); err != nil {
		return nil, err
	}

	if g.CfgStart >= g.CfgEnd {
		return nil, errors.New("cfg_start is greater or equal than cfg_end")
	}

	g.log = logrus.WithField("calc", Type)
	g.est, err = pairentropy.New(pairentropy.Config{
		MaxR:        g.MaxR,
		NHist:       g.NHist,
		Sigma:       g.Sigma,
		Serial:      g.Serial,
		Workers:     g.Workers,
		NList:       g.NList,
		NLCutoff:    g.NLCutoff,
		NLStride:    g.NLStride,
		Density:     g.Density,
		AverageGofr: true, // the whole point of this calculation
		Log:         g.log,
	})
	if err != nil {
		return nil, err
	}

	return &g, nil
}

// Start performs the calculation. It is a blocking method. The g(r) of every
// configuration is folded into the running mean and the mean written at the
// end.
func (g *Gofr) Start() error {
	in, err := os.Open(g.FileIn)
	if err != nil {
		return err
	}
	defer in.Close()

	r := traj.NewReader(in)
	if err := r.Skip(g.CfgStart); err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	var mean []float64
	for i := 0; i < g.CfgEnd-g.CfgStart; i++ {
		frame, err := r.Read()
		if err == io.EOF {
			return fmt.Errorf("trajectory ended at configuration %d (expected %d)", g.CfgStart+i, g.CfgEnd)
		}
		if err != nil {
			return fmt.Errorf("read (cfg %d): %w", g.CfgStart+i, err)
		}

		if err := g.est.Prepare(i, false); err != nil {
			return err
		}
		mean, err = g.est.Gofr(frame.Pos, frame.Box)
		if err != nil {
			return fmt.Errorf("gofr (cfg %d): %w", g.CfgStart+i, err)
		}
	}

	out, err := os.Create(g.FileOut)
	if err != nil {
		return err
	}
	defer out.Close()

	// Plain table, no TOML header: the file must be readable back as a
	// reference g(r).
	fmt.Fprintf(out, "# gofr over cfg %d..%d of %s\n", g.CfgStart, g.CfgEnd, g.FileIn)
	return traj.WriteTable(out, g.est.Abscissas(), mean)
}
