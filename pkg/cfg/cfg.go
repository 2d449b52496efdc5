// Package cfg dispatches the calculations listed in a run file. It avoids
// having to start a specific program for each calculation.
package cfg

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Cfg is a structure where the types of calculations are stored. It can be
// instanced through the New method. The length of the Files slice must be
// equal to the length of the Types slice. Each calculation requires its own
// configuration file where its parameters are stored.
type Cfg struct {
	Types [][]string `toml:"types"`
	Files [][]string `toml:"files"`
}

// New returns an instance of the Cfg structure. It opens and reads the run
// file where Types and Files are stored. The run file must use the TOML
// format.
func New(path string) (Cfg, error) {
	f, err := os.Open(path)
	if err != nil {
		return Cfg{}, err
	}
	defer f.Close()

	var cfg Cfg
	dec := toml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Cfg{}, err
	}

	if len(cfg.Files) != len(cfg.Types) {
		return Cfg{}, fmt.Errorf("length of Files isn't equal to Types (%d vs %d)",
			len(cfg.Files), len(cfg.Types))
	}

	for k, v := range cfg.Files {
		if len(v) != len(cfg.Types[k]) {
			return Cfg{}, fmt.Errorf("length of Files isn't equal to Types (%d vs %d, step %d)",
				len(v), len(cfg.Types[k]), k)
		}
	}

	return cfg, nil
}

// Start dispatches and performs the calculations. The calculations of one
// step run in parallel; steps run one after the other. An error stops the
// faulty calculation and is logged, the remaining steps still run.
//
// It is a blocking method.
func (c Cfg) Start(log *logrus.Logger) {
	for step, types := range c.Types {
		g := new(errgroup.Group)
		for rtn, name := range types {
			rtn, name := rtn, name
			g.Go(func() error {
				if err := Launch(name, c.Files[step][rtn]); err != nil {
					return fmt.Errorf("launch (step %d, routine %d): %w", step, rtn, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			log.Error(err)
		}
	}
}
