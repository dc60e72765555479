package formula

import (
	"fmt"
	"sort"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/aevon-lab/recalc/internal/model"
	"github.com/hashicorp/hcl/v2"
)

// RecordRoot is the variable that exposes the evaluated record itself.
const RecordRoot = "record"

// hop is one relation followed from model From to model To.
type hop struct {
	Name     string
	From     string
	To       string
	Relation model.Relation
}

// backStep returns the hierarchy step that leads from records of h.To back
// to records of h.From.
func (h hop) backStep() HierarchyStep {
	if h.Relation.ForeignKey != "" {
		return HierarchyStep{Model: h.From, Field: v1.IDField, Via: h.Relation.ForeignKey}
	}
	return HierarchyStep{Model: h.From, Field: h.Relation.Field}
}

// relationPath is a resolved `<relation>...<relation>.<field>` reference.
type relationPath struct {
	Hops  []hop
	Field string
}

func (p relationPath) names() []string {
	out := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		out[i] = h.Name
	}
	return out
}

func (p relationPath) leaf() string {
	return p.Hops[len(p.Hops)-1].To
}

// stepsFrom returns the steps leading from records reached after n hops back
// to the owning records.
func (p relationPath) stepsFrom(n int) []HierarchyStep {
	if n == 0 {
		return nil
	}
	steps := make([]HierarchyStep, 0, n)
	for i := n - 1; i >= 0; i-- {
		steps = append(steps, p.Hops[i].backStep())
	}
	return steps
}

// analysis is the static result of inspecting a formula's references.
type analysis struct {
	recordFields []string
	paths        []relationPath
	deps         []Dependency
}

// analyze resolves every variable traversal against the model registry.
func analyze(traversals []hcl.Traversal, owner *model.Model, registry *model.Registry) (*analysis, error) {
	a := &analysis{}
	seenDeps := make(map[string]struct{})
	seenFields := make(map[string]struct{})
	seenPaths := make(map[string]struct{})

	addDep := func(d Dependency) {
		if _, ok := seenDeps[d.key()]; ok {
			return
		}
		seenDeps[d.key()] = struct{}{}
		a.deps = append(a.deps, d)
	}

	for _, traversal := range traversals {
		attrs := attrNames(traversal)
		root := traversal.RootName()

		if root == RecordRoot {
			if len(attrs) == 0 {
				return nil, fmt.Errorf("%s must be followed by a field name", RecordRoot)
			}
			field := attrs[0]
			if !hasField(owner, field) {
				return nil, fmt.Errorf("model %q has no field %q", owner.Key, field)
			}
			if _, ok := seenFields[field]; !ok {
				seenFields[field] = struct{}{}
				a.recordFields = append(a.recordFields, field)
			}
			if field != v1.IDField {
				addDep(Dependency{Model: owner.Key, Field: field})
			}
			continue
		}

		path, err := resolvePath(root, attrs, owner, registry)
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%v.%s", path.names(), path.Field)
		if _, ok := seenPaths[key]; !ok {
			seenPaths[key] = struct{}{}
			a.paths = append(a.paths, path)
		}

		if path.Field != v1.IDField {
			addDep(Dependency{Model: path.leaf(), Field: path.Field, Parents: path.stepsFrom(len(path.Hops))})
		}

		// Changing which records a relation reaches must recompute as well.
		for i, h := range path.Hops {
			if h.Relation.ForeignKey != "" {
				addDep(Dependency{Model: h.To, Field: h.Relation.ForeignKey, Parents: path.stepsFrom(i + 1)})
			} else {
				addDep(Dependency{Model: h.From, Field: h.Relation.Field, Parents: path.stepsFrom(i)})
			}
		}
	}

	sort.Strings(a.recordFields)
	return a, nil
}

// resolvePath follows relation names from the owning model until the first
// attribute that is not a relation, which must be a field of the model
// reached at that point.
func resolvePath(root string, attrs []string, owner *model.Model, registry *model.Registry) (relationPath, error) {
	names := append([]string{root}, attrs...)
	current := owner
	var path relationPath

	for i, name := range names {
		rel, ok := current.Relation(name)
		if !ok {
			if i == 0 {
				return relationPath{}, fmt.Errorf("unknown reference %q: not %s and not a relation of %q", root, RecordRoot, owner.Key)
			}
			if !hasField(current, name) {
				return relationPath{}, fmt.Errorf("model %q has no field or relation %q", current.Key, name)
			}
			path.Field = name
			return path, nil
		}
		next, err := registry.Lookup(rel.Model)
		if err != nil {
			return relationPath{}, fmt.Errorf("relation %q: %w", name, err)
		}
		path.Hops = append(path.Hops, hop{Name: name, From: current.Key, To: next.Key, Relation: rel})
		current = next
	}
	return relationPath{}, fmt.Errorf("reference %q must end with a field of %q", root, current.Key)
}

// attrNames collects the attribute names that follow the root, stopping at
// the first index or splat step.
func attrNames(t hcl.Traversal) []string {
	var out []string
	for _, step := range t[1:] {
		attr, ok := step.(hcl.TraverseAttr)
		if !ok {
			break
		}
		out = append(out, attr.Name)
	}
	return out
}

func hasField(m *model.Model, field string) bool {
	if field == v1.IDField {
		return true
	}
	_, ok := m.Fields[field]
	return ok
}
