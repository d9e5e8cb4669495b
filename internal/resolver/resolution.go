package resolver

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/bundler/internal/domain"
	"github.com/trebuchet-org/bundler/internal/domain/models"
)

// LockReader is the read side of the lock store used to resolve references
type LockReader interface {
	Get(network, name string) (models.LockEntry, bool)
}

// Resolution resolves unit names to addresses for a single run on a single
// network. Addresses come from units completed during the run or, failing
// that, from the lock store.
type Resolution struct {
	network string
	lock    LockReader
	done    map[string]common.Address
}

// NewResolution creates a resolution context for a run
func NewResolution(network string, lock LockReader) *Resolution {
	return &Resolution{
		network: network,
		lock:    lock,
		done:    make(map[string]common.Address),
	}
}

// Record registers the address of a unit completed in this run
func (r *Resolution) Record(name string, addr common.Address) {
	r.done[name] = addr
}

// Resolve returns the address of the named unit
func (r *Resolution) Resolve(name string) (common.Address, error) {
	if addr, ok := r.done[name]; ok {
		return addr, nil
	}
	if r.lock != nil {
		if entry, ok := r.lock.Get(r.network, name); ok {
			return entry.Address, nil
		}
	}
	return common.Address{}, &domain.UnresolvedReferenceError{Ref: name}
}

// ResolveArgs returns the argument values with every reference replaced by
// its address
func (r *Resolution) ResolveArgs(unit string, args []models.Arg) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		if !arg.IsRef() {
			out[i] = arg.Literal
			continue
		}
		addr, err := r.resolveFor(unit, arg.Ref)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

// ResolveLibraries returns the library slot addresses of a unit
func (r *Resolution) ResolveLibraries(unit string, links map[string]models.Arg) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(links))
	for slot, arg := range links {
		if !arg.IsRef() {
			addr, err := literalAddress(unit, slot, arg.Literal)
			if err != nil {
				return nil, err
			}
			out[slot] = addr
			continue
		}
		addr, err := r.resolveFor(unit, arg.Ref)
		if err != nil {
			return nil, err
		}
		out[slot] = addr
	}
	return out, nil
}

func (r *Resolution) resolveFor(unit, ref string) (common.Address, error) {
	addr, err := r.Resolve(ref)
	if err != nil {
		return common.Address{}, &domain.UnresolvedReferenceError{Unit: unit, Ref: ref}
	}
	return addr, nil
}

// literalAddress accepts a pre-deployed library given as a literal address
func literalAddress(unit, slot string, v any) (common.Address, error) {
	s, ok := v.(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, &domain.UnresolvedReferenceError{Unit: unit, Ref: slot}
	}
	return common.HexToAddress(s), nil
}
