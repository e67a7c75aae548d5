package ghosting

import (
	"fmt"
	"strings"
)

// CouplingMatrix marks which variable pairs (row variable, column variable)
// interact. A nil *CouplingMatrix means every pair couples.
type CouplingMatrix struct {
	n    int
	data []bool
}

// NewCouplingMatrix returns an n by n matrix with no couplings
func NewCouplingMatrix(n int) *CouplingMatrix {
	return &CouplingMatrix{n: n, data: make([]bool, n*n)}
}

// Size is the number of variables
func (c *CouplingMatrix) Size() int { return c.n }

// At reports whether variable i couples to variable j
func (c *CouplingMatrix) At(i, j int) bool {
	if c == nil {
		return true
	}
	return c.data[i*c.n+j]
}

// Set marks or clears the coupling of i to j
func (c *CouplingMatrix) Set(i, j int, v bool) {
	c.data[i*c.n+j] = v
}

// Empty reports whether no pair couples
func (c *CouplingMatrix) Empty() bool {
	if c == nil {
		return false
	}
	for _, v := range c.data {
		if v {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (c *CouplingMatrix) Clone() *CouplingMatrix {
	if c == nil {
		return nil
	}
	return &CouplingMatrix{n: c.n, data: append([]bool(nil), c.data...)}
}

// Merge ORs o into c
func (c *CouplingMatrix) Merge(o *CouplingMatrix) error {
	if o.n != c.n {
		return fmt.Errorf("merging %dx%d coupling into %dx%d", o.n, o.n, c.n, c.n)
	}
	for i, v := range o.data {
		c.data[i] = c.data[i] || v
	}
	return nil
}

func (c *CouplingMatrix) String() string {
	if c == nil {
		return "full"
	}
	var sb strings.Builder
	for i := 0; i < c.n; i++ {
		for j := 0; j < c.n; j++ {
			if c.At(i, j) {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
		if i < c.n-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
