package config

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"github.com/notargets/dofmap/dofmap"
	"github.com/notargets/dofmap/element"
	"github.com/notargets/dofmap/mesh"
	"github.com/notargets/dofmap/partitions"
)

// Config holds the settings of a DOF map run
type Config struct {
	Mesh       MeshConfig       `mapstructure:"mesh"`
	Variables  []VariableConfig `mapstructure:"variables"`
	Boundaries BoundaryConfig   `mapstructure:"boundaries"`
	DofMap     DofMapConfig     `mapstructure:"dofmap"`
	Log        LogConfig        `mapstructure:"log"`
}

type MeshConfig struct {
	Processors  int       `mapstructure:"processors"`
	NX          int       `mapstructure:"nx"`
	NY          int       `mapstructure:"ny"` // Zero builds a line mesh
	Length      []float64 `mapstructure:"length"`
	ElementType string    `mapstructure:"element_type"`
	Partitioner string    `mapstructure:"partitioner"`
	Refine      []int     `mapstructure:"refine"` // Element ids refined once, in order
}

type VariableConfig struct {
	Name   string `mapstructure:"name"`
	Family string `mapstructure:"family"`
	Order  int    `mapstructure:"order"`
}

type BoundaryConfig struct {
	Dirichlet []DirichletConfig `mapstructure:"dirichlet"`
	Periodic  []PeriodicConfig  `mapstructure:"periodic"`
}

type DirichletConfig struct {
	Boundaries []int    `mapstructure:"boundaries"`
	Variables  []string `mapstructure:"variables"`
	Value      float64  `mapstructure:"value"`
}

type PeriodicConfig struct {
	Boundary    int       `mapstructure:"boundary"`
	Paired      int       `mapstructure:"paired"`
	Translation []float64 `mapstructure:"translation"`
	Variables   []string  `mapstructure:"variables"`
}

type DofMapConfig struct {
	NodeMajorDofs         bool   `mapstructure:"node_major_dofs"`
	ImplicitNeighborDofs  string `mapstructure:"implicit_neighbor_dofs"`
	ConstrainedSparsity   bool   `mapstructure:"constrained_sparsity"`
	FullSparsity          bool   `mapstructure:"full_sparsity"`
	ErrorOnConstraintLoop bool   `mapstructure:"error_on_constraint_loop"`
	LookForConstrainees   bool   `mapstructure:"look_for_constrainees"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mesh.processors", 1)
	v.SetDefault("mesh.nx", 4)
	v.SetDefault("mesh.ny", 4)
	v.SetDefault("mesh.element_type", "Quad4")
	v.SetDefault("mesh.partitioner", "block")
	v.SetDefault("dofmap.implicit_neighbor_dofs", "auto")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from path and the DOFMAP_ environment. An empty
// path uses the defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DOFMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if len(cfg.Variables) == 0 {
		cfg.Variables = []VariableConfig{{Name: "u", Family: "Lagrange", Order: 1}}
	}
	return &cfg, nil
}

// Validate checks the configuration and returns one message per problem
func (c *Config) Validate() []string {
	var problems []string

	if c.Mesh.Processors < 1 {
		problems = append(problems, fmt.Sprintf("mesh processors %d must be positive", c.Mesh.Processors))
	}
	if c.Mesh.NX < 1 || c.Mesh.NY < 0 {
		problems = append(problems, fmt.Sprintf("mesh size %d x %d is invalid", c.Mesh.NX, c.Mesh.NY))
	}
	if l := len(c.Mesh.Length); l != 0 && l != c.dim() {
		problems = append(problems, fmt.Sprintf("mesh length has %d entries for a %dD mesh", l, c.dim()))
	}
	if _, err := element.ParseType(c.Mesh.ElementType); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := partitions.ParseStrategy(c.Mesh.Partitioner); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := dofmap.ParseNeighborDofs(c.DofMap.ImplicitNeighborDofs); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log level: %v", err))
	}

	names := make(map[string]bool)
	for _, vc := range c.Variables {
		if vc.Name == "" {
			problems = append(problems, "variable with empty name")
		}
		if names[vc.Name] {
			problems = append(problems, fmt.Sprintf("variable %q defined twice", vc.Name))
		}
		names[vc.Name] = true
		if _, err := element.ParseFamily(vc.Family); err != nil {
			problems = append(problems, err.Error())
		}
	}
	checkNames := func(kind string, vars []string) {
		for _, n := range vars {
			if !names[n] {
				problems = append(problems, fmt.Sprintf("%s boundary names unknown variable %q", kind, n))
			}
		}
	}
	for _, dc := range c.Boundaries.Dirichlet {
		checkNames("dirichlet", dc.Variables)
	}
	for _, pc := range c.Boundaries.Periodic {
		checkNames("periodic", pc.Variables)
		if len(pc.Translation) != c.dim() {
			problems = append(problems, fmt.Sprintf("periodic translation has %d entries for a %dD mesh",
				len(pc.Translation), c.dim()))
		}
	}
	return problems
}

func (c *Config) dim() int {
	if c.Mesh.NY == 0 {
		return 1
	}
	return 2
}

// Options converts the dofmap section into dofmap.Options
func (c *Config) Options() (dofmap.Options, error) {
	nd, err := dofmap.ParseNeighborDofs(c.DofMap.ImplicitNeighborDofs)
	if err != nil {
		return dofmap.Options{}, err
	}
	return dofmap.Options{
		NodeMajorDofs:         c.DofMap.NodeMajorDofs,
		ImplicitNeighborDofs:  nd,
		ConstrainedSparsity:   c.DofMap.ConstrainedSparsity,
		FullSparsity:          c.DofMap.FullSparsity,
		ErrorOnConstraintLoop: c.DofMap.ErrorOnConstraintLoop,
		LookForConstrainees:   c.DofMap.LookForConstrainees,
	}, nil
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// BuildMesh builds, refines and partitions the configured mesh
func (c *Config) BuildMesh() (*mesh.Mesh, error) {
	et, err := element.ParseType(c.Mesh.ElementType)
	if err != nil {
		return nil, err
	}
	strategy, err := partitions.ParseStrategy(c.Mesh.Partitioner)
	if err != nil {
		return nil, err
	}
	length := c.Mesh.Length
	if len(length) == 0 {
		length = []float64{float64(c.Mesh.NX), float64(c.Mesh.NY)}
	}

	var m *mesh.Mesh
	if c.dim() == 1 {
		m, err = mesh.BuildLine(c.Mesh.NX, 0, length[0], et)
	} else {
		m, err = mesh.BuildSquare(c.Mesh.NX, c.Mesh.NY, mesh.Point{},
			mesh.Point{X: length[0], Y: length[1]}, et)
	}
	if err != nil {
		return nil, err
	}
	for _, id := range c.Mesh.Refine {
		if id < 0 || id >= len(m.Elements()) {
			return nil, fmt.Errorf("refine: element %d out of range", id)
		}
		if err := m.Refine(m.Elem(id)); err != nil {
			return nil, fmt.Errorf("refine element %d: %w", id, err)
		}
	}
	if err := m.Partition(c.Mesh.Processors, strategy); err != nil {
		return nil, err
	}
	return m, nil
}

// Setup adds the configured variables and boundary conditions to d
func (c *Config) Setup(d *dofmap.DofMap) error {
	for _, vc := range c.Variables {
		fam, err := element.ParseFamily(vc.Family)
		if err != nil {
			return err
		}
		if _, err := d.AddVariable(vc.Name, element.FEType{Order: vc.Order, Family: fam}); err != nil {
			return fmt.Errorf("variable %q: %w", vc.Name, err)
		}
	}
	numbers := func(names []string) ([]int, error) {
		var out []int
		for _, n := range names {
			v, err := d.VariableNumber(n)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	for _, pc := range c.Boundaries.Periodic {
		vars, err := numbers(pc.Variables)
		if err != nil {
			return err
		}
		pb := &dofmap.PeriodicBoundary{Boundary: pc.Boundary, PairedBoundary: pc.Paired, Variables: vars}
		if len(pc.Translation) > 0 {
			pb.Translation.X = pc.Translation[0]
		}
		if len(pc.Translation) > 1 {
			pb.Translation.Y = pc.Translation[1]
		}
		if err := d.AddPeriodicBoundary(pb); err != nil {
			return err
		}
	}
	for _, dc := range c.Boundaries.Dirichlet {
		vars, err := numbers(dc.Variables)
		if err != nil {
			return err
		}
		db := &dofmap.DirichletBoundary{Boundaries: dc.Boundaries, Variables: vars}
		if dc.Value != 0 {
			val := dc.Value
			db.Value = func(mesh.Point, float64) float64 { return val }
		}
		if err := d.AddDirichletBoundary(db); err != nil {
			return err
		}
	}
	return nil
}
