package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// builtinOps are deterministic transforms that need no network access.
var builtinOps = map[string]func(string) string{
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"reverse": reverseRunes,
	"exclaim": func(s string) string { return s + "!" },
	"echo":    func(s string) string { return s },
	"trim":    strings.TrimSpace,
}

// BuiltinOps lists the supported builtin operation names.
func BuiltinOps() []string {
	ops := make([]string, 0, len(builtinOps))
	for op := range builtinOps {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Builtin is a local, deterministic capability.
type Builtin struct {
	name string
	op   string
	fn   func(string) string
}

// NewBuiltin returns the builtin transform named op.
func NewBuiltin(name, op string) (*Builtin, error) {
	fn, ok := builtinOps[op]
	if !ok {
		return nil, fmt.Errorf("unknown builtin op %q (available: %s)", op, strings.Join(BuiltinOps(), ", "))
	}
	if name == "" {
		name = "builtin-" + op
	}
	return &Builtin{name: name, op: op, fn: fn}, nil
}

func (b *Builtin) Name() string { return b.name }

// Generate applies the transform. It honours cancellation but never fails
// otherwise.
func (b *Builtin) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ports.Generation{Text: b.fn(text)}, nil
}

func reverseRunes(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
