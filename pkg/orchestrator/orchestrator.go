// Package orchestrator implements the compound-action engine: given an
// action, a state filter and a type ordering, it drives every matching
// element of a topology through that action in two passes — an ordered
// pass that visits each type in turn, then a residual pass for whatever
// types the ordering didn't name.
//
// Both passes re-evaluate the state filter against each element's current,
// live state at the moment it is about to be called, rather than against a
// snapshot taken at the start of the action. An element whose state already
// satisfies the target (for instance an interface cascaded into place by
// its parent's own transition, earlier in the same pass) is silently
// skipped rather than acted on twice.
package orchestrator

import (
	"github.com/google/uuid"

	"github.com/opentomato/tomato/pkg/registry"
)

// Element is the live view of one topology member the orchestrator drives.
// Implementations must reflect state changes made by Do immediately, since
// the orchestrator re-reads State() between every call.
type Element interface {
	ID() uuid.UUID
	Type() string
	State() registry.State
}

// Do invokes action on el. An error aborts the compound action and
// propagates to Run's caller; elements whose live state no longer matches
// the filter are skipped before Do is ever called.
type Do func(el Element, action registry.Action) error

// Spec describes one compound action: the action to invoke, the filter an
// element's current state must satisfy to be acted on, the type visit
// order for the first pass, and the types that never participate (their
// lifecycle is slaved to a parent and is cascaded directly instead).
type Spec struct {
	Action       registry.Action
	StateFilter  func(registry.State) bool
	TypeOrder    []string
	TypesExclude []string
}

// Run drives every element matching spec through spec.Action, in two
// passes, and returns the first error encountered (aborting the remaining
// work), or nil if every call succeeded.
func Run(elements []Element, spec Spec, do Do) error {
	excluded := make(map[string]bool, len(spec.TypesExclude))
	for _, t := range spec.TypesExclude {
		excluded[t] = true
	}
	ordered := make(map[string]bool, len(spec.TypeOrder))
	for _, t := range spec.TypeOrder {
		ordered[t] = true
	}

	for _, typ := range spec.TypeOrder {
		if excluded[typ] {
			continue
		}
		for _, el := range elements {
			if el.Type() != typ {
				continue
			}
			if !spec.StateFilter(el.State()) {
				continue
			}
			if err := do(el, spec.Action); err != nil {
				return err
			}
		}
	}

	for _, el := range elements {
		if ordered[el.Type()] || excluded[el.Type()] {
			continue
		}
		if !spec.StateFilter(el.State()) {
			continue
		}
		if err := do(el, spec.Action); err != nil {
			return err
		}
	}

	return nil
}
