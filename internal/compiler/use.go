package compiler

import (
	"fmt"
	"strings"
)

// UseKey is the map key that pulls a template into a node.
const UseKey = "use"

// ResolveUses returns a copy of root in which every map carrying a "use"
// reference is merged over the node it references. The input tree is not
// modified.
//
// A reference is a dotted path from the root ("templates.service"), or a
// path relative to the referencing node's parent when prefixed with "%"
// ("%web" is a sibling); each extra "%" climbs one more level. Fields of
// the referencing node win over the template's; maps merge recursively,
// lists and scalars are replaced. Templates may themselves use templates.
func ResolveUses(root *Node) (*Node, error) {
	r := &resolver{root: root, done: make(map[*Node]*Node), active: make(map[*Node]bool)}
	return r.resolve(root, nil)
}

type resolver struct {
	root   *Node
	done   map[*Node]*Node
	active map[*Node]bool
}

// resolve returns the resolved copy of n. path holds the chain of
// ancestors from the root down to n's parent.
func (r *resolver) resolve(n *Node, path []*Node) (*Node, error) {
	if out, ok := r.done[n]; ok {
		return out.Clone(), nil
	}
	if r.active[n] {
		return nil, &CompileError{Field: UseKey, Message: "template reference cycle", Pos: n.Pos}
	}
	r.active[n] = true
	defer delete(r.active, n)

	var out *Node
	switch n.Kind {
	case KindMap:
		childPath := append(append([]*Node{}, path...), n)
		own := NewMap()
		own.Pos = n.Pos
		for _, k := range n.Keys {
			if k == UseKey {
				continue
			}
			child, err := r.resolve(n.Fields[k], childPath)
			if err != nil {
				return nil, err
			}
			own.Set(k, child)
		}

		out = own
		if ref, ok := n.Fields[UseKey]; ok {
			name, ok := ref.Value.(string)
			if ref.Kind != KindScalar || !ok {
				return nil, &CompileError{Field: UseKey, Message: "use must be a string path", Pos: ref.Pos}
			}
			target, tpath, err := r.lookup(name, path)
			if err != nil {
				return nil, &CompileError{Field: UseKey, Message: err.Error(), Pos: ref.Pos}
			}
			base, err := r.resolve(target, tpath)
			if err != nil {
				return nil, err
			}
			out = merge(base, own)
		}

	case KindList:
		out = &Node{Kind: KindList, Items: make([]*Node, len(n.Items)), Pos: n.Pos}
		for i, item := range n.Items {
			child, err := r.resolve(item, path)
			if err != nil {
				return nil, err
			}
			out.Items[i] = child
		}

	default:
		out = n.Clone()
	}

	r.done[n] = out
	return out.Clone(), nil
}

// lookup finds the node a reference points at. path is the ancestor
// chain of the referencing node, ending with its parent.
func (r *resolver) lookup(ref string, path []*Node) (*Node, []*Node, error) {
	start := r.root
	startPath := []*Node{}

	rest := strings.TrimLeft(ref, "%")
	if up := len(ref) - len(rest); up > 0 {
		if up > len(path) {
			return nil, nil, fmt.Errorf("reference %q climbs above the root", ref)
		}
		idx := len(path) - up
		start = path[idx]
		startPath = path[:idx]
	}
	if rest == "" {
		return nil, nil, fmt.Errorf("empty reference %q", ref)
	}

	cur := start
	curPath := startPath
	for _, part := range strings.Split(rest, ".") {
		next, ok := cur.Get(part)
		if !ok {
			return nil, nil, fmt.Errorf("unknown reference %q", ref)
		}
		curPath = append(append([]*Node{}, curPath...), cur)
		cur = next
	}
	return cur, curPath, nil
}

// merge overlays own on base. Both are already resolved.
func merge(base, own *Node) *Node {
	if base.Kind != KindMap || own.Kind != KindMap {
		return own.Clone()
	}
	out := base.Clone()
	out.Pos = own.Pos
	for _, k := range own.Keys {
		v := own.Fields[k]
		if cur, ok := out.Fields[k]; ok && cur.Kind == KindMap && v.Kind == KindMap {
			out.Set(k, merge(cur, v))
			continue
		}
		out.Set(k, v.Clone())
	}
	return out
}
