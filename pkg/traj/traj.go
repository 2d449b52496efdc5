// Package traj reads LAMMPS-style trajectory dumps frame by frame and
// provides the output-file helpers shared by the calculations.
package traj

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kpotier/pairentropy/pkg/box"
	"github.com/kpotier/pairentropy/pkg/vec"
)

// Frame is one configuration of a trajectory: the timestep recorded in the
// file, the periodic cell and the positions indexed 0..N-1.
type Frame struct {
	Step int
	Box  box.Box
	Pos  []vec.Vec
}

// Reader reads a trajectory sequentially. The column layout is taken from
// the first frame and must not change afterwards.
type Reader struct {
	r *bufio.Reader

	cols    [3]int // x, y, z
	idCol   int    // -1 if the dump carries no id column
	colsLen int
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), idCol: -1}
}

// Read reads the next frame. It returns io.EOF once the trajectory is
// exhausted.
func (t *Reader) Read() (Frame, error) {
	step, atoms, bx, err := t.header()
	if err != nil {
		return Frame{}, err
	}

	if err := t.columns(); err != nil {
		return Frame{}, fmt.Errorf("columns: %w", err)
	}

	pos := make([]vec.Vec, atoms)
	for i := 0; i < atoms; i++ {
		if err := t.atom(i, pos); err != nil {
			return Frame{}, fmt.Errorf("atom %d: %w", i, err)
		}
	}

	return Frame{Step: step, Box: bx, Pos: pos}, nil
}

// Skip reads and discards n frames.
func (t *Reader) Skip(n int) error {
	for i := 0; i < n; i++ {
		_, atoms, _, err := t.header()
		if err != nil {
			return err
		}
		for j := 0; j < atoms+1; j++ { // columns line + atom lines
			if _, err := t.line(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Reader) line() (string, error) {
	b, err := t.r.ReadString('\n')
	if err != nil && (err != io.EOF || b == "") {
		return "", err
	}
	return strings.TrimSpace(b), nil
}

// header consumes the TIMESTEP, NUMBER OF ATOMS and BOX BOUNDS items.
func (t *Reader) header() (step, atoms int, bx box.Box, err error) {
	l, err := t.line()
	if err != nil {
		return 0, 0, box.Box{}, err
	}
	if !strings.HasPrefix(l, "ITEM: TIMESTEP") {
		return 0, 0, box.Box{}, fmt.Errorf("expected ITEM: TIMESTEP (got %q)", l)
	}
	if l, err = t.line(); err != nil {
		return 0, 0, box.Box{}, err
	}
	if step, err = strconv.Atoi(l); err != nil {
		return 0, 0, box.Box{}, fmt.Errorf("timestep: %w", err)
	}

	if l, err = t.line(); err != nil {
		return 0, 0, box.Box{}, err
	}
	if !strings.HasPrefix(l, "ITEM: NUMBER OF ATOMS") {
		return 0, 0, box.Box{}, fmt.Errorf("expected ITEM: NUMBER OF ATOMS (got %q)", l)
	}
	if l, err = t.line(); err != nil {
		return 0, 0, box.Box{}, err
	}
	if atoms, err = strconv.Atoi(l); err != nil {
		return 0, 0, box.Box{}, fmt.Errorf("number of atoms: %w", err)
	}

	if l, err = t.line(); err != nil {
		return 0, 0, box.Box{}, err
	}
	if !strings.HasPrefix(l, "ITEM: BOX BOUNDS") {
		return 0, 0, box.Box{}, fmt.Errorf("expected ITEM: BOX BOUNDS (got %q)", l)
	}

	var edge [3]float64
	for k := 0; k < 3; k++ {
		if l, err = t.line(); err != nil {
			return 0, 0, box.Box{}, err
		}
		fields := strings.Fields(l)
		if len(fields) != 2 {
			return 0, 0, box.Box{}, fmt.Errorf("box bounds: expected 2 fields (got %q)", l)
		}
		lo, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, 0, box.Box{}, fmt.Errorf("box bounds: %w", err)
		}
		hi, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, 0, box.Box{}, fmt.Errorf("box bounds: %w", err)
		}
		edge[k] = hi - lo
	}
	bx, err = box.New(edge[0], edge[1], edge[2])
	if err != nil {
		return 0, 0, box.Box{}, err
	}
	return step, atoms, bx, nil
}

// columns parses the ITEM: ATOMS line and locates the x, y, z (and, when
// present, id) columns. The layout found on the first frame is pinned.
func (t *Reader) columns() error {
	l, err := t.line()
	if err != nil {
		return err
	}
	fields := strings.Fields(l)
	if len(fields) < 3 || fields[0] != "ITEM:" || fields[1] != "ATOMS" {
		return fmt.Errorf("expected ITEM: ATOMS (got %q)", l)
	}
	fields = fields[2:]

	if t.colsLen > 0 {
		if len(fields) != t.colsLen {
			return fmt.Errorf("column layout changed (%d columns, expected %d)", len(fields), t.colsLen)
		}
		return nil
	}

	found := 0
	for k, v := range fields {
		switch v {
		case "x", "xu":
			t.cols[0] = k
			found++
		case "y", "yu":
			t.cols[1] = k
			found++
		case "z", "zu":
			t.cols[2] = k
			found++
		case "id":
			t.idCol = k
		}
	}
	if found != 3 {
		return fmt.Errorf("cannot find the columns x, y and z")
	}
	t.colsLen = len(fields)
	return nil
}

// atom reads one atom line into pos. Atoms are placed by their id column if
// the dump carries one, in file order otherwise.
func (t *Reader) atom(i int, pos []vec.Vec) error {
	l, err := t.line()
	if err != nil {
		return err
	}
	fields := strings.Fields(l)
	if len(fields) != t.colsLen {
		return fmt.Errorf("number of columns don't match: %d (expected %d)", len(fields), t.colsLen)
	}

	idx := i
	if t.idCol >= 0 {
		id, err := strconv.Atoi(fields[t.idCol])
		if err != nil {
			return fmt.Errorf("id: %w", err)
		}
		if id < 1 || id > len(pos) {
			return fmt.Errorf("id %d out of range (1..%d)", id, len(pos))
		}
		idx = id - 1
	}

	for k := 0; k < 3; k++ {
		pos[idx][k], err = strconv.ParseFloat(fields[t.cols[k]], 64)
		if err != nil {
			return fmt.Errorf("coordinate: %w", err)
		}
	}
	return nil
}
