package patch

import (
	"fmt"
	"strings"

	"github.com/wI2L/jsondiff"
	"github.com/xeipuuv/gojsonpointer"
)

// OpKind is the kind of a structural edit.
type OpKind string

const (
	OpAdd     OpKind = jsondiff.OperationAdd
	OpRemove  OpKind = jsondiff.OperationRemove
	OpReplace OpKind = jsondiff.OperationReplace
)

// Op is one edit at a JSON Pointer path. Value is unset for removals.
type Op struct {
	Kind  OpKind
	Path  []string
	Value any
}

// Pointer renders the path as an RFC 6901 JSON Pointer.
func (o Op) Pointer() string {
	var b strings.Builder
	for _, token := range o.Path {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(token))
	}
	return b.String()
}

var (
	pointerEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// Diff lists the edits turning a into b, with object keys visited in sorted
// order. Arrays of equal length are compared element by element; an array
// whose length changed is replaced whole.
func Diff(a, b any) ([]Op, error) {
	p, err := jsondiff.CompareWithoutMarshal(a, b)
	if err != nil {
		return nil, err
	}

	ops := make([]Op, 0, len(p))
	for _, o := range p {
		kind := OpKind(o.Type)
		switch kind {
		case OpAdd, OpRemove, OpReplace:
		default:
			return nil, fmt.Errorf("unexpected %s operation at %q", o.Type, o.Path)
		}
		ops = append(ops, Op{Kind: kind, Path: splitPointer(o.Path), Value: o.Value})
	}
	return replaceResized(ops, a, b), nil
}

func splitPointer(ptr string) []string {
	if ptr == "" {
		return []string{}
	}
	tokens := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, t := range tokens {
		tokens[i] = pointerUnescaper.Replace(t)
	}
	return tokens
}

// replaceResized folds the element edits of every array whose length
// changed into one replacement of the array, placed where its first edit was.
func replaceResized(ops []Op, a, b any) []Op {
	var resized []string
	for _, op := range ops {
		if op.Kind == OpReplace || len(op.Path) == 0 {
			continue
		}
		parent := Op{Path: op.Path[:len(op.Path)-1]}.Pointer()
		if _, ok := valueAt(a, parent).([]any); ok {
			resized = append(resized, parent)
		}
	}
	if len(resized) == 0 {
		return ops
	}

	out := make([]Op, 0, len(ops))
	emitted := make(map[string]bool)
	for _, op := range ops {
		ptr := op.Pointer()
		owner := ""
		for _, r := range resized {
			if (ptr == r || strings.HasPrefix(ptr, r+"/")) && (owner == "" || len(r) < len(owner)) {
				owner = r
			}
		}
		if owner == "" {
			out = append(out, op)
			continue
		}
		if emitted[owner] {
			continue
		}
		emitted[owner] = true
		out = append(out, Op{Kind: OpReplace, Path: splitPointer(owner), Value: valueAt(b, owner)})
	}
	return out
}

func valueAt(doc any, ptr string) any {
	p, err := gojsonpointer.NewJsonPointer(ptr)
	if err != nil {
		return nil
	}
	v, _, err := p.Get(doc)
	if err != nil {
		return nil
	}
	return v
}
