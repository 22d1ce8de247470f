package cbam

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// This file defines how the module variables are scoped in the context, the parameter store owned by the
// enclosing model.

// ScopeName returns the context scope used by the module with the given index, e.g. "cbam_1".
// Any scope separator in the formatted index is replaced, so it always maps to a single scope element.
func ScopeName(index any) string {
	return context.EscapeScopeName(fmt.Sprintf("cbam_%v", index))
}

// Variables returns the variables of the module with the given index, sorted by their scope and name.
// It is empty if the module was never built in ctx.
func Variables(ctx *context.Context, index any) []*context.Variable {
	var vars []*context.Variable
	for v := range ctx.In(ScopeName(index)).IterVariablesInScope() {
		vars = append(vars, v)
	}
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		return strings.Compare(a.ScopeAndName(), b.ScopeAndName())
	})
	return vars
}

// NumParameters returns the number of scalars held by the variables of the module with the given index.
func NumParameters(ctx *context.Context, index any) int {
	var total int
	for _, v := range Variables(ctx, index) {
		total += v.Shape().Size()
	}
	return total
}

// ExpectedNumParameters returns the number of scalars the module learns for the given number of channels,
// inner units ratio and spatial kernel size.
func ExpectedNumParameters(channels int, innerUnitsRatio float64, spatialKernelSize int) int {
	units := BottleneckUnits(channels, innerUnitsRatio)
	fc1 := channels*units + units
	fc2 := units*channels + channels
	conv := spatialKernelSize*spatialKernelSize*2 + 1
	return fc1 + fc2 + conv
}

// VariablesByName returns the variables of the module with the given index keyed by their path relative to
// the module scope, e.g. "fc_1/dense/weights".
//
// It returns an error if the module has no variables in ctx.
func VariablesByName(ctx *context.Context, index any) (map[string]*context.Variable, error) {
	vars := Variables(ctx, index)
	if len(vars) == 0 {
		return nil, errors.Errorf("no variables found for module %q in scope %q -- was it built with this context?",
			ScopeName(index), ctx.Scope())
	}
	base := moduleAbsScope(ctx, index) + context.ScopeSeparator
	byName := make(map[string]*context.Variable, len(vars))
	for _, v := range vars {
		relScope := strings.TrimPrefix(v.Scope()+context.ScopeSeparator, base)
		relScope = strings.TrimSuffix(relScope, context.ScopeSeparator)
		byName[context.JoinScope(relScope, v.Name())] = v
	}
	return byName, nil
}

// moduleAbsScope returns the absolute scope of the module with the given index, relative to the current
// scope of ctx.
func moduleAbsScope(ctx *context.Context, index any) string {
	return ctx.In(ScopeName(index)).Scope()
}
