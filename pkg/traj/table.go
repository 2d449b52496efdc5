package traj

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// Create creates the output file of a calculation and writes its header: the
// date followed by the parameters of the calculation encoded in TOML. The
// returned file is ready for the results and must be closed by the caller.
func Create(path string, structure interface{}) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(f, "Date: %v\n", time.Now().Format("2006-01-02 15:04:05 -0700 MST"))

	enc := toml.NewEncoder(f)
	if err := enc.Encode(structure); err != nil {
		f.Close()
		return nil, err
	}

	f.Write([]byte{'\n'})
	return f, nil
}

// WriteTable writes a two-column (r, value) table, one row per bin, in
// ascending abscissa order. It is the format read back by ReadTable.
func WriteTable(w io.Writer, x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("table columns have different lengths (%d vs %d)", len(x), len(y))
	}
	for i := range x {
		if _, err := fmt.Fprintf(w, "%.10e %.10e\n", x[i], y[i]); err != nil {
			return err
		}
	}
	return nil
}

// ReadTable reads exactly n rows of a two-column table and returns the
// second column. Blank lines and lines starting with '#' are skipped. The
// abscissas must be in ascending order.
func ReadTable(r io.Reader, n int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	y := make([]float64, 0, n)
	lastX := 0.0
	for sc.Scan() {
		l := strings.TrimSpace(sc.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		fields := strings.Fields(l)
		if len(fields) < 2 {
			return nil, fmt.Errorf("row %d: expected 2 columns (got %q)", len(y), l)
		}
		xv, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(y), err)
		}
		yv, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(y), err)
		}
		if len(y) > 0 && xv <= lastX {
			return nil, fmt.Errorf("row %d: abscissas must be ascending", len(y))
		}
		lastX = xv
		y = append(y, yv)
		if len(y) == n {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(y) != n {
		return nil, fmt.Errorf("table has %d rows (expected %d)", len(y), n)
	}
	return y, nil
}
