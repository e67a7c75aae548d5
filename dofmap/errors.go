package dofmap

import "errors"

var (
	// ErrInvalidVariable reports a bad variable index, name or discretization
	ErrInvalidVariable = errors.New("dofmap: invalid variable")
	// ErrSizeMismatch reports element data whose shape disagrees with its DOF list
	ErrSizeMismatch = errors.New("dofmap: size mismatch")
	// ErrNotDistributed is returned by queries made before Distribute
	ErrNotDistributed = errors.New("dofmap: dofs not distributed")
	// ErrInconsistentDofs reports processors disagreeing about a DOF layout
	ErrInconsistentDofs = errors.New("dofmap: inconsistent dof layout")
	// ErrConstraintLoop reports a constraint depending on itself
	ErrConstraintLoop = errors.New("dofmap: constraint loop")
	// ErrConstraintOverwrite reports an attempt to replace an existing row
	ErrConstraintOverwrite = errors.New("dofmap: constraint already exists")
	// ErrUnknownBoundary reports a boundary id missing from the mesh
	ErrUnknownBoundary = errors.New("dofmap: unknown boundary id")
	// ErrInconsistentBoundary reports processors registering different boundaries
	ErrInconsistentBoundary = errors.New("dofmap: inconsistent boundary ids")
	// ErrNotFound reports a lookup of something that was never created
	ErrNotFound = errors.New("dofmap: not found")
	// ErrStashNotEmpty reports a stash or unstash into a non-empty table
	ErrStashNotEmpty = errors.New("dofmap: constraint stash not empty")
)
