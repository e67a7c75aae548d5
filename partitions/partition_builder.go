package partitions

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/dofmap/element"
)

// PartitionBuilder constructs partitions from mesh connectivity
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *MeshConnectivity

	// Partitioning parameters
	NumPartitions int // One partition per processor
	Strategy      PartitionStrategy
}

// MeshConnectivity provides the mesh topology needed for partitioning
type MeshConnectivity struct {
	NumElements  int
	ElementTypes []element.Type
	Centroids    [][2]float64 // Used by SpaceFillingCurve

	// Element-to-element connectivity, -1 on boundaries. Used by GraphPartition
	EToE [][]int
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Locality preserving strategies
	GraphPartition    // Breadth-first traversal of EToE, then blocked
	SpaceFillingCurve // Morton curve ordering of centroids, then blocked
)

// ParseStrategy converts a strategy name into a PartitionStrategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case "block":
		return BlockPartition, nil
	case "roundrobin":
		return RoundRobin, nil
	case "graph":
		return GraphPartition, nil
	case "sfc":
		return SpaceFillingCurve, nil
	}
	return 0, fmt.Errorf("unknown partition strategy %q", name)
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumPartitions < 1 {
		return nil, fmt.Errorf("invalid partition count %d", pb.NumPartitions)
	}

	// Partition the elements
	eToP, err := pb.partitionElements(pb.NumPartitions)
	if err != nil {
		return nil, err
	}

	// Create partition structures
	partitions := pb.createPartitions(eToP, pb.NumPartitions)

	// Create the layout
	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxElements:   calculateMaxElements(partitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: pb.NumPartitions,
		EToP:          eToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) ([]int, error) {
	n := pb.Mesh.NumElements
	switch pb.Strategy {
	case BlockPartition:
		return blockAssign(identityOrder(n), numPartitions), nil

	case RoundRobin:
		// Distribute elements cyclically
		eToP := make([]int, n)
		for i := 0; i < n; i++ {
			eToP[i] = i % numPartitions
		}
		return eToP, nil

	case GraphPartition:
		if len(pb.Mesh.EToE) != n {
			return nil, fmt.Errorf("graph partitioning needs EToE for %d elements, have %d",
				n, len(pb.Mesh.EToE))
		}
		return blockAssign(breadthFirstOrder(pb.Mesh.EToE), numPartitions), nil

	case SpaceFillingCurve:
		if len(pb.Mesh.Centroids) != n {
			return nil, fmt.Errorf("space filling curve needs %d centroids, have %d",
				n, len(pb.Mesh.Centroids))
		}
		return blockAssign(mortonOrder(pb.Mesh.Centroids), numPartitions), nil
	}
	return nil, fmt.Errorf("unsupported partition strategy %d", pb.Strategy)
}

// blockAssign splits an element ordering into numPartitions consecutive runs
func blockAssign(order []int, numPartitions int) []int {
	eToP := make([]int, len(order))
	if len(order) == 0 {
		return eToP
	}
	elementsPerPartition := int(math.Ceil(float64(len(order)) / float64(numPartitions)))
	for pos, elem := range order {
		eToP[elem] = pos / elementsPerPartition
		if eToP[elem] >= numPartitions {
			eToP[elem] = numPartitions - 1
		}
	}
	return eToP
}

func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// breadthFirstOrder visits every connected component from its lowest element
func breadthFirstOrder(eToE [][]int) []int {
	n := len(eToE)
	visited := make([]bool, n)
	order := make([]int, 0, n)
	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue := []int{start}
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			order = append(order, k)
			for _, nb := range eToE[k] {
				if nb >= 0 && nb < n && !visited[nb] {
					visited[nb] = true
					queue = append(queue, nb)
				}
			}
		}
	}
	return order
}

// mortonOrder sorts elements along a Z-order curve through their centroids
func mortonOrder(centroids [][2]float64) []int {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range centroids {
		minX, maxX = math.Min(minX, c[0]), math.Max(maxX, c[0])
		minY, maxY = math.Min(minY, c[1]), math.Max(maxY, c[1])
	}
	scale := func(v, lo, hi float64) uint32 {
		if hi <= lo {
			return 0
		}
		return uint32((v - lo) / (hi - lo) * float64(1<<16-1))
	}
	keys := make([]uint64, len(centroids))
	for i, c := range centroids {
		keys[i] = interleave(scale(c[0], minX, maxX), scale(c[1], minY, maxY))
	}
	order := identityOrder(len(centroids))
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })
	return order
}

// interleave spreads the low 16 bits of x and y into alternating bits
func interleave(x, y uint32) uint64 {
	var key uint64
	for b := 0; b < 16; b++ {
		key |= uint64((x>>b)&1) << (2 * b)
		key |= uint64((y>>b)&1) << (2*b + 1)
	}
	return key
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	// Initialize partitions
	for i := range partitions {
		partitions[i] = Partition{
			ID:           i,
			Elements:     make([]int, 0),
			ElementTypes: make([]element.Type, 0),
		}
	}

	// Assign elements to partitions
	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		if pb.Mesh.ElementTypes != nil {
			partitions[part].ElementTypes = append(partitions[part].ElementTypes,
				pb.Mesh.ElementTypes[elem])
		}
		partitions[part].NumElements++
	}

	return partitions
}

// calculateMaxElements finds maximum elements across all partitions
func calculateMaxElements(partitions []Partition) int {
	maxElements := 0
	for _, p := range partitions {
		if p.NumElements > maxElements {
			maxElements = p.NumElements
		}
	}
	return maxElements
}

// PartitionStatistics computes load balance metrics
func (layout *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: layout.NumPartitions,
		MinElements:   math.MaxInt32,
		MaxElements:   0,
		AvgElements:   float64(layout.TotalElements) / float64(layout.NumPartitions),
	}

	for _, p := range layout.Partitions {
		if p.NumElements < stats.MinElements {
			stats.MinElements = p.NumElements
		}
		if p.NumElements > stats.MaxElements {
			stats.MaxElements = p.NumElements
		}
	}

	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}
