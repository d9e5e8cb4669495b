// Package registry holds the validated set of deployment units declared for a project.
package registry

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// Registry is an immutable, validated collection of deployment units
type Registry struct {
	units []models.DeploymentUnit
	index map[string]int
}

// New validates the declared units and builds a registry. Every violation is
// collected into a single *domain.ConfigError.
func New(units []models.DeploymentUnit) (*Registry, error) {
	r := &Registry{
		units: make([]models.DeploymentUnit, 0, len(units)),
		index: make(map[string]int, len(units)),
	}

	var violations []error
	for _, u := range units {
		if u.Name == "" {
			violations = append(violations, fmt.Errorf("unit #%d has no name", len(r.units)+1))
			continue
		}
		if _, dup := r.index[u.Name]; dup {
			violations = append(violations, fmt.Errorf("unit %q is declared more than once", u.Name))
			continue
		}
		r.index[u.Name] = len(r.units)
		r.units = append(r.units, u)
	}

	names := r.Names()
	for _, u := range r.units {
		violations = append(violations, validateUnit(u, r.index, names)...)
	}

	if cerr := domain.NewConfigError(violations); cerr != nil {
		return nil, cerr
	}
	return r, nil
}

func validateUnit(u models.DeploymentUnit, index map[string]int, names []string) []error {
	var errs []error

	if !u.Kind.Valid() {
		errs = append(errs, fmt.Errorf("unit %q: unknown kind %q (expected contract, library or proxy)", u.Name, u.Kind))
	}

	checkRef := func(where string, arg models.Arg) {
		if !arg.IsRef() {
			return
		}
		if _, ok := index[arg.Ref]; ok {
			return
		}
		msg := fmt.Sprintf("unit %q: %s references unknown unit %q", u.Name, where, arg.Ref)
		if s := Suggest(arg.Ref, names); s != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", s)
		}
		errs = append(errs, fmt.Errorf("%s", msg))
	}
	for i, arg := range u.ConstructorArgs {
		checkRef(fmt.Sprintf("argument %d", i), arg)
	}
	for _, slot := range u.LibrarySlots() {
		checkRef(fmt.Sprintf("library %s", slot), u.LibraryLinks[slot])
	}

	switch {
	case u.Kind == models.ProxiedContract && u.Proxy == nil:
		errs = append(errs, fmt.Errorf("unit %q: kind proxy requires a proxy section", u.Name))
	case u.Kind != models.ProxiedContract && u.Proxy != nil:
		errs = append(errs, fmt.Errorf("unit %q: proxy section is only allowed for kind proxy", u.Name))
	}

	if u.Proxy != nil {
		if !u.Proxy.Type.Valid() {
			errs = append(errs, fmt.Errorf("unit %q: unknown proxy type %q (expected uups or transparent)", u.Name, u.Proxy.Type))
		}
		for _, flag := range u.Proxy.UnsafeAllow.Sorted() {
			if !flag.Valid() {
				msg := fmt.Sprintf("unit %q: unrecognized unsafe_allow flag %q", u.Name, flag)
				known := lo.Map(models.KnownUnsafeAllowFlags(), func(f models.UnsafeAllowFlag, _ int) string { return string(f) })
				if s := Suggest(string(flag), known); s != "" {
					msg += fmt.Sprintf(" (did you mean %q?)", s)
				}
				errs = append(errs, fmt.Errorf("%s", msg))
			}
		}
	}

	return errs
}

// Units returns the units in declaration order
func (r *Registry) Units() []models.DeploymentUnit {
	out := make([]models.DeploymentUnit, len(r.units))
	copy(out, r.units)
	return out
}

// Get returns the named unit
func (r *Registry) Get(name string) (models.DeploymentUnit, bool) {
	i, ok := r.index[name]
	if !ok {
		return models.DeploymentUnit{}, false
	}
	return r.units[i], true
}

// Index returns the declaration position of the named unit, or -1
func (r *Registry) Index(name string) int {
	i, ok := r.index[name]
	if !ok {
		return -1
	}
	return i
}

// Names returns unit names in declaration order
func (r *Registry) Names() []string {
	return lo.Map(r.units, func(u models.DeploymentUnit, _ int) string { return u.Name })
}

// Len returns the number of units
func (r *Registry) Len() int {
	return len(r.units)
}

// Suggest returns the closest candidate to name, or "" if nothing is close
func Suggest(name string, candidates []string) string {
	if name == "" || len(candidates) == 0 {
		return ""
	}
	for _, c := range candidates {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	matches := fuzzy.Find(strings.ToLower(name), lo.Map(candidates, func(c string, _ int) string { return strings.ToLower(c) }))
	if len(matches) == 0 {
		return ""
	}
	return candidates[matches[0].Index]
}
