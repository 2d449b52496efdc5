package pairentropy

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"

	"github.com/kpotier/pairentropy/pkg/traj"
)

// Type is the type of calculation.
var Type = "pairentropy"

// PE applies the estimator to every configuration of a trajectory between
// CfgStart and CfgEnd and writes the entropy as a time series. The
// parameters are parsed from a TOML configuration file through the
// NewCalculation method.
type PE struct {
	FileIn  string `toml:"pairentropy.file_in"`
	FileOut string `toml:"pairentropy.file_out"`

	CfgStart int `toml:"pairentropy.cfg_start"`
	CfgEnd   int `toml:"pairentropy.cfg_end"`

	MaxR  float64 `toml:"pairentropy.maxr"`
	NHist int     `toml:"pairentropy.nhist"`
	Sigma float64 `toml:"pairentropy.sigma"`

	Serial  bool `toml:"pairentropy.serial"`
	Workers int  `toml:"pairentropy.workers"`

	NList    bool    `toml:"pairentropy.nlist"`
	NLCutoff float64 `toml:"pairentropy.nl_cutoff"`
	NLStride int     `toml:"pairentropy.nl_stride"`

	Density float64 `toml:"pairentropy.density"`

	AverageGofr bool `toml:"pairentropy.average_gofr"`

	OutputGofr      bool   `toml:"pairentropy.output_gofr"`
	OutputIntegrand bool   `toml:"pairentropy.output_integrand"`
	OutputStride    int    `toml:"pairentropy.output_stride"`
	GofrFile        string `toml:"pairentropy.gofr_file"`
	IntegrandFile   string `toml:"pairentropy.integrand_file"`

	ReferenceGofr string `toml:"pairentropy.reference_gofr"`

	est *Estimator
	log *logrus.Entry
}

// NewCalculation returns an instance of the PE structure. It reads and
// parses the configuration file given in argument. The file must be a TOML
// file. Every ill-posed parameter is rejected here, before any step runs.
func NewCalculation(path string) (*PE, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p PE
	dec := toml.NewDecoder(f)
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}

	if p.CfgStart >= p.CfgEnd {
		return nil, errors.New("cfg_start is greater or equal than cfg_end")
	}

	p.log = logrus.WithField("calc", Type)
	p.est, err = New(Config{
		MaxR:            p.MaxR,
		NHist:           p.NHist,
		Sigma:           p.Sigma,
		Serial:          p.Serial,
		Workers:         p.Workers,
		NList:           p.NList,
		NLCutoff:        p.NLCutoff,
		NLStride:        p.NLStride,
		Density:         p.Density,
		AverageGofr:     p.AverageGofr,
		OutputGofr:      p.OutputGofr,
		OutputIntegrand: p.OutputIntegrand,
		OutputStride:    p.OutputStride,
		GofrFile:        p.GofrFile,
		IntegrandFile:   p.IntegrandFile,
		ReferenceGofr:   p.ReferenceGofr,
		Log:             p.log,
	})
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// Start performs the calculation. It is a blocking method. Configurations
// are processed in order (the running average and the neighbor list stride
// depend on it); the parallelism lives inside each step.
func (p *PE) Start() error {
	in, err := os.Open(p.FileIn)
	if err != nil {
		return err
	}
	defer in.Close()

	r := traj.NewReader(in)
	if err := r.Skip(p.CfgStart); err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	out, err := traj.Create(p.FileOut, p)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer out.Close()

	for i := 0; i < p.CfgEnd-p.CfgStart; i++ {
		frame, err := r.Read()
		if err == io.EOF {
			return fmt.Errorf("trajectory ended at configuration %d (expected %d)", p.CfgStart+i, p.CfgEnd)
		}
		if err != nil {
			return fmt.Errorf("read (cfg %d): %w", p.CfgStart+i, err)
		}

		if err := p.est.Prepare(i, false); err != nil {
			return err
		}
		res, err := p.est.Calculate(frame.Pos, frame.Box)
		if err != nil {
			return fmt.Errorf("calculate (cfg %d): %w", p.CfgStart+i, err)
		}

		fmt.Fprintf(out, "%d %.10e\n", frame.Step, res.Value)
	}

	return nil
}
