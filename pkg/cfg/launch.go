package cfg

import (
	"fmt"

	"github.com/kpotier/pairentropy/pkg/gofr"
	"github.com/kpotier/pairentropy/pkg/pairentropy"
)

// Calculation is an interface that only contains one method: Start. Every
// calculation must have a Start method that will launch the calculation. It
// must be a blocking method.
type Calculation interface {
	Start() error
}

// Constructor builds a calculation from the path of its configuration file.
type Constructor func(path string) (Calculation, error)

// registry maps a calculation keyword to its constructor. The built-in
// calculations are registered here; hosts embedding this module can add
// their own variants with Register.
var registry = map[string]Constructor{
	pairentropy.Type: func(path string) (Calculation, error) { return pairentropy.NewCalculation(path) },
	gofr.Type:        func(path string) (Calculation, error) { return gofr.New(path) },
}

// Register adds a calculation keyword. Registering an existing keyword
// replaces it.
func Register(name string, fn Constructor) {
	registry[name] = fn
}

// Launch launches a specific calculation. It is a blocking method. The
// parameters required to launch the calculation must be in a file.
func Launch(name string, path string) error {
	fn, ok := registry[name]
	if !ok {
		return fmt.Errorf("calculation `%s` doesn't exist", name)
	}

	cal, err := fn(path)
	if err != nil {
		return fmt.Errorf("%s: New: %w", name, err)
	}

	if err := cal.Start(); err != nil {
		return fmt.Errorf("%s: Start: %w", name, err)
	}

	return nil
}
