package dofmap

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/ghosting"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/parallel"
	"github.com/notargets/dofmap/sparsity"
)

// NeighborDofs selects whether elements couple to their face neighbors
type NeighborDofs uint8

const (
	// NeighborDofsAuto couples neighbors when any variable is discontinuous
	NeighborDofsAuto NeighborDofs = iota
	NeighborDofsOn
	NeighborDofsOff
)

// ParseNeighborDofs reads "auto", "on" or "off"
func ParseNeighborDofs(s string) (NeighborDofs, error) {
	switch s {
	case "", "auto":
		return NeighborDofsAuto, nil
	case "on", "true":
		return NeighborDofsOn, nil
	case "off", "false":
		return NeighborDofsOff, nil
	}
	return NeighborDofsAuto, fmt.Errorf("unknown neighbor dof setting %q", s)
}

func (n NeighborDofs) String() string {
	switch n {
	case NeighborDofsOn:
		return "on"
	case NeighborDofsOff:
		return "off"
	}
	return "auto"
}

// Options configure a DofMap
type Options struct {
	// NodeMajorDofs numbers all groups of an entity together instead of one
	// group at a time across the whole processor
	NodeMajorDofs bool
	// ImplicitNeighborDofs controls face-neighbor coupling of the default
	// coupling functor
	ImplicitNeighborDofs NeighborDofs
	// ConstrainedSparsity builds the pattern of the constrained operator
	ConstrainedSparsity bool
	// FullSparsity retains the column indices of the pattern
	FullSparsity bool
	// ErrorOnConstraintLoop fails ProcessConstraints on a cyclic constraint
	// instead of pruning the cycle
	ErrorOnConstraintLoop bool
	// LookForConstrainees also sends every row to the owners of its sources
	// during the gather
	LookForConstrainees bool
	// Logger receives progress and warnings; nil discards
	Logger *log.Logger
}

// SendListFunc augments the send list before it is sorted
type SendListFunc func(sendList []int) []int

// DofMap numbers the unknowns of a set of variables on a distributed mesh,
// tracks which of them this processor needs from others, and resolves
// linear constraints among them
type DofMap struct {
	topo mesh.Topology
	comm *parallel.Comm
	opts Options
	log  *log.Logger

	vars   []Variable
	groups []VariableGroup

	distributed bool
	firstDof    []int // Per processor
	endDof      []int
	nDofs       int
	nSCALAR     int
	firstOldDof []int
	endOldDof   []int
	nOldDofs    int

	sendList      []int
	extraSendList []SendListFunc

	defaultCoupling   *ghosting.DefaultCoupling
	defaultAlgebraic  *ghosting.DefaultCoupling
	couplingFunctors  []ghosting.Functor
	algebraicFunctors []ghosting.Functor

	conditions       []BoundaryCondition
	periodic         []PeriodicBoundary
	adjointDirichlet map[int][]*DirichletBoundary
	constraints      *DofConstraints
	stash            *DofConstraints

	pattern       *sparsity.Pattern
	matrices      []Matrix
	extraSparsity []sparsity.ExtraFunc
}

// New creates an empty DofMap for the processor comm on topo
func New(topo mesh.Topology, comm *parallel.Comm, opts Options) *DofMap {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	d := &DofMap{
		topo: topo,
		comm: comm,
		opts: opts,
		log: logger.WithPrefix(fmt.Sprintf("rank %d", comm.Rank())).
			With("world", comm.ID().String()[:8]),
		adjointDirichlet: make(map[int][]*DirichletBoundary),
		constraints:      NewDofConstraints(),
	}
	d.defaultCoupling = ghosting.NewDefaultCoupling(topo, 0)
	d.defaultAlgebraic = ghosting.NewDefaultCoupling(topo, 1)
	d.couplingFunctors = []ghosting.Functor{d.defaultCoupling}
	d.algebraicFunctors = []ghosting.Functor{d.defaultAlgebraic}
	return d
}

// Topology is the mesh being numbered
func (d *DofMap) Topology() mesh.Topology { return d.topo }

// Comm is the communicator of this processor
func (d *DofMap) Comm() *parallel.Comm { return d.comm }

// Options returns the configuration
func (d *DofMap) Options() Options { return d.opts }

// Logger is the rank-prefixed logger
func (d *DofMap) Logger() *log.Logger { return d.log }

// Reinit renumbers every DOF, rebuilds the send list and the constraints, and
// recomputes the sparsity of attached matrices. It is collective.
func (d *DofMap) Reinit(ctx context.Context, time float64) error {
	ctx, span := d.startSpan(ctx, "Reinit")
	defer span.End()

	if err := d.Distribute(ctx); err != nil {
		return recordError(span, err)
	}
	d.ReinitSendList()
	if err := d.CreateDofConstraints(ctx, time); err != nil {
		return recordError(span, err)
	}
	if err := d.ProcessConstraints(ctx); err != nil {
		return recordError(span, err)
	}
	d.PrepareSendList()
	if err := d.ComputeSparsity(ctx); err != nil {
		return recordError(span, err)
	}
	return nil
}

// Clear drops numbering, constraints, sparsity and variables, leaving the
// attached functors and callbacks in place
func (d *DofMap) Clear() {
	for _, n := range d.topo.Nodes() {
		n.InvalidateDofs()
	}
	for _, e := range d.topo.Elements() {
		e.InvalidateDofs()
	}
	d.vars, d.groups = nil, nil
	d.distributed = false
	d.firstDof, d.endDof, d.nDofs, d.nSCALAR = nil, nil, 0, 0
	d.firstOldDof, d.endOldDof, d.nOldDofs = nil, nil, 0
	d.sendList = nil
	d.constraints = NewDofConstraints()
	d.stash = nil
	d.pattern = nil
	d.AddDefaultGhosting()
}

// AddCouplingFunctor registers a functor deciding matrix coupling. Coupling
// functors are also used for algebraic ghosting.
func (d *DofMap) AddCouplingFunctor(f ghosting.Functor) {
	d.couplingFunctors = append(d.couplingFunctors, f)
}

// RemoveCouplingFunctor unregisters f, which must be a comparable value
// such as a pointer
func (d *DofMap) RemoveCouplingFunctor(f ghosting.Functor) {
	d.couplingFunctors = slices.DeleteFunc(d.couplingFunctors, func(g ghosting.Functor) bool { return g == f })
}

// AddAlgebraicGhostingFunctor registers a functor deciding which elements'
// DOF values must be available locally
func (d *DofMap) AddAlgebraicGhostingFunctor(f ghosting.Functor) {
	d.algebraicFunctors = append(d.algebraicFunctors, f)
}

// RemoveAlgebraicGhostingFunctor unregisters f, which must be comparable
func (d *DofMap) RemoveAlgebraicGhostingFunctor(f ghosting.Functor) {
	d.algebraicFunctors = slices.DeleteFunc(d.algebraicFunctors, func(g ghosting.Functor) bool { return g == f })
}

// CouplingFunctors lists the registered coupling functors, default first
func (d *DofMap) CouplingFunctors() []ghosting.Functor { return d.couplingFunctors }

// AlgebraicGhostingFunctors lists the registered algebraic functors
func (d *DofMap) AlgebraicGhostingFunctors() []ghosting.Functor { return d.algebraicFunctors }

// DefaultCoupling is the built-in coupling functor
func (d *DofMap) DefaultCoupling() *ghosting.DefaultCoupling { return d.defaultCoupling }

// DefaultAlgebraicGhosting is the built-in algebraic ghosting functor
func (d *DofMap) DefaultAlgebraicGhosting() *ghosting.DefaultCoupling { return d.defaultAlgebraic }

// RemoveDefaultGhosting unregisters both built-in functors, leaving only the
// caller's
func (d *DofMap) RemoveDefaultGhosting() {
	d.RemoveCouplingFunctor(d.defaultCoupling)
	d.RemoveAlgebraicGhostingFunctor(d.defaultAlgebraic)
}

// AddDefaultGhosting puts back the built-in functors at the front of their
// lists if they were removed
func (d *DofMap) AddDefaultGhosting() {
	if f := ghosting.Functor(d.defaultCoupling); !slices.Contains(d.couplingFunctors, f) {
		d.couplingFunctors = slices.Insert(d.couplingFunctors, 0, f)
	}
	if f := ghosting.Functor(d.defaultAlgebraic); !slices.Contains(d.algebraicFunctors, f) {
		d.algebraicFunctors = slices.Insert(d.algebraicFunctors, 0, f)
	}
}

// SetImplicitNeighborDofs overrides the neighbor coupling setting
func (d *DofMap) SetImplicitNeighborDofs(n NeighborDofs) { d.opts.ImplicitNeighborDofs = n }

// UseCoupledNeighborDofs reports whether elements couple to face neighbors:
// the explicit setting if any, else whether a variable is discontinuous
func (d *DofMap) UseCoupledNeighborDofs() bool {
	switch d.opts.ImplicitNeighborDofs {
	case NeighborDofsOn:
		return true
	case NeighborDofsOff:
		return false
	}
	for _, g := range d.groups {
		if g.Type.IsDiscontinuous() {
			return true
		}
	}
	return false
}

func (d *DofMap) updateDefaultFunctors() {
	n := 0
	if d.UseCoupledNeighborDofs() {
		n = 1
	}
	d.defaultCoupling.SetNLevels(n)
	d.defaultAlgebraic.SetNLevels(max(1, n))
}

// visibleElements are the local active elements plus every element the
// algebraic and coupling functors ghost onto this processor
func (d *DofMap) visibleElements() []*mesh.Elem {
	rank := d.comm.Rank()
	local := d.topo.ActiveLocalElements(rank)
	functors := append(slices.Clone(d.algebraicFunctors), d.couplingFunctors...)
	ghosts := ghosting.Compute(functors, rank, local)
	out := slices.Clone(local)
	for e := range ghosts {
		if e.ProcessorID() != rank && e.Active() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (d *DofMap) requireDistributed() error {
	if !d.distributed {
		return ErrNotDistributed
	}
	return nil
}

// NDofs is the global number of unknowns
func (d *DofMap) NDofs() int { return d.nDofs }

// NOldDofs is the global number of unknowns before the last renumbering
func (d *DofMap) NOldDofs() int { return d.nOldDofs }

// NSCALARDofs is the number of SCALAR unknowns, all owned by the last processor
func (d *DofMap) NSCALARDofs() int { return d.nSCALAR }

// FirstDof is the first index owned here
func (d *DofMap) FirstDof() int { return d.FirstDofOn(d.comm.Rank()) }

// EndDof is one past the last index owned here
func (d *DofMap) EndDof() int { return d.EndDofOn(d.comm.Rank()) }

// FirstDofOn is the first index owned by processor p
func (d *DofMap) FirstDofOn(p int) int {
	if p >= len(d.firstDof) {
		return 0
	}
	return d.firstDof[p]
}

// EndDofOn is one past the last index owned by processor p
func (d *DofMap) EndDofOn(p int) int {
	if p >= len(d.endDof) {
		return 0
	}
	return d.endDof[p]
}

// NLocalDofs is the number of indices owned here
func (d *DofMap) NLocalDofs() int { return d.NDofsOn(d.comm.Rank()) }

// NDofsOn is the number of indices owned by processor p
func (d *DofMap) NDofsOn(p int) int { return d.EndDofOn(p) - d.FirstDofOn(p) }

// FirstOldDof is the first index owned here before the last renumbering
func (d *DofMap) FirstOldDof() int {
	if r := d.comm.Rank(); r < len(d.firstOldDof) {
		return d.firstOldDof[r]
	}
	return 0
}

// EndOldDof is one past the last old index owned here
func (d *DofMap) EndOldDof() int {
	if r := d.comm.Rank(); r < len(d.endOldDof) {
		return d.endOldDof[r]
	}
	return 0
}

// LocalIndex reports whether dof is owned here
func (d *DofMap) LocalIndex(dof int) bool {
	return dof >= d.FirstDof() && dof < d.EndDof()
}

// DofOwner is the processor owning dof
func (d *DofMap) DofOwner(dof int) int {
	// endDof is non-decreasing; the owner is the first with end > dof
	p := sort.SearchInts(d.endDof, dof+1)
	if p >= len(d.endDof) {
		return len(d.endDof) - 1
	}
	return p
}

// SendList is the sorted list of non-owned DOFs this processor reads
func (d *DofMap) SendList() []int { return d.sendList }

// DofIndices returns the unknowns of the listed variables on e, per variable
// node components first then element components; no variables means all
func (d *DofMap) DofIndices(e *mesh.Elem, vars ...int) []int {
	var out []int
	if len(vars) == 0 {
		for v := range d.vars {
			out = d.appendDofs(out, e, v, false)
		}
		return out
	}
	for _, v := range vars {
		out = d.appendDofs(out, e, v, false)
	}
	return out
}

// VariableDofIndices returns the unknowns of variable v on e
func (d *DofMap) VariableDofIndices(e *mesh.Elem, v int) []int {
	return d.appendDofs(nil, e, v, false)
}

// OldDofIndices is DofIndices in the numbering before the last Distribute
func (d *DofMap) OldDofIndices(e *mesh.Elem, vars ...int) []int {
	var out []int
	if len(vars) == 0 {
		for v := range d.vars {
			out = d.appendDofs(out, e, v, true)
		}
		return out
	}
	for _, v := range vars {
		out = d.appendDofs(out, e, v, true)
	}
	return out
}

// NodeDofIndices returns the unknowns of the listed variables stored on n;
// no variables means all
func (d *DofMap) NodeDofIndices(n *mesh.Node, vars ...int) ([]int, error) {
	vars, err := d.checkVariables(nilIfEmpty(vars))
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", n.ID(), err)
	}
	var out []int
	for _, v := range vars {
		vr := d.vars[v]
		for c := 0; c < n.NComp(vr.group); c++ {
			out = append(out, n.DofNumber(vr.group, vr.indexInGroup, c))
		}
	}
	return out, nil
}

func nilIfEmpty(s []int) []int {
	if len(s) == 0 {
		return nil
	}
	return s
}

func (d *DofMap) appendDofs(out []int, e *mesh.Elem, v int, old bool) []int {
	vr := d.vars[v]
	if vr.Type.Family == element.Scalar {
		if old {
			if d.nOldDofs == 0 {
				return out
			}
			return append(out, d.scalarDofs(v, d.nOldDofs)...)
		}
		return append(out, d.SCALARDofIndices(v)...)
	}
	if !vr.ActiveOnSubdomain(e.SubdomainID) || !e.Active() {
		return out
	}
	number := func(o *mesh.DofObject, c int) int {
		if old {
			return o.OldDofNumber(vr.group, vr.indexInGroup, c)
		}
		return o.DofNumber(vr.group, vr.indexInGroup, c)
	}
	for i, n := range e.Nodes {
		nc := vr.Type.NDofsAtNode(e.Type, i)
		for c := 0; c < nc; c++ {
			out = append(out, number(&n.DofObject, c))
		}
	}
	for c := 0; c < e.NComp(vr.group); c++ {
		out = append(out, number(&e.DofObject, c))
	}
	return out
}

// SCALARDofIndices returns the unknowns of SCALAR variable v
func (d *DofMap) SCALARDofIndices(v int) []int {
	return d.scalarDofs(v, d.nDofs)
}

// scalarDofs places the SCALAR block at the end of a numbering of n unknowns
func (d *DofMap) scalarDofs(v, n int) []int {
	if d.vars[v].Type.Family != element.Scalar {
		return nil
	}
	first := n - d.nSCALAR
	for _, w := range d.vars[:v] {
		if w.Type.Family == element.Scalar {
			first += w.Type.Order
		}
	}
	out := make([]int, d.vars[v].Type.Order)
	for i := range out {
		out[i] = first + i
	}
	return out
}

// LocalDofIndices returns the owned unknowns of variable v, sorted
func (d *DofMap) LocalDofIndices(v int) []int {
	var out []int
	for _, e := range d.topo.ActiveLocalElements(d.comm.Rank()) {
		for _, dof := range d.VariableDofIndices(e, v) {
			if d.LocalIndex(dof) {
				out = append(out, dof)
			}
		}
	}
	if d.vars[v].Type.Family == element.Scalar {
		for _, dof := range d.SCALARDofIndices(v) {
			if d.LocalIndex(dof) {
				out = append(out, dof)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AllSemilocalIndices reports whether every DOF is owned here or in the send list
func (d *DofMap) AllSemilocalIndices(dofs []int) bool {
	for _, dof := range dofs {
		if !d.SemilocalIndex(dof) {
			return false
		}
	}
	return true
}

// SemilocalIndex reports whether dof is owned here or in the send list
func (d *DofMap) SemilocalIndex(dof int) bool {
	if d.LocalIndex(dof) {
		return true
	}
	_, found := slices.BinarySearch(d.sendList, dof)
	return found
}

// IsEvaluable reports whether every unknown of the listed variables on e is
// available to this processor
func (d *DofMap) IsEvaluable(e *mesh.Elem, vars ...int) bool {
	return d.AllSemilocalIndices(d.DofIndices(e, vars...))
}
