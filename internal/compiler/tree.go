package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"
)

// NodeKind tags a config tree node.
type NodeKind int

const (
	KindMap NodeKind = iota
	KindList
	KindScalar
)

// Node is one value of the config tree. Maps keep declaration order.
type Node struct {
	Kind NodeKind

	Keys   []string
	Fields map[string]*Node

	Items []*Node

	// Value is a string, int64 or bool for scalars.
	Value any

	Pos token.Pos
}

// NewMap returns an empty map node.
func NewMap() *Node {
	return &Node{Kind: KindMap, Fields: make(map[string]*Node)}
}

// Set adds or replaces a field, keeping first-seen order.
func (n *Node) Set(key string, v *Node) {
	if _, ok := n.Fields[key]; !ok {
		n.Keys = append(n.Keys, key)
	}
	n.Fields[key] = v
}

// Get returns a field of a map node.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != KindMap {
		return nil, false
	}
	v, ok := n.Fields[key]
	return v, ok
}

// Delete removes a field from a map node.
func (n *Node) Delete(key string) {
	if _, ok := n.Fields[key]; !ok {
		return
	}
	delete(n.Fields, key)
	for i, k := range n.Keys {
		if k == key {
			n.Keys = append(n.Keys[:i:i], n.Keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Kind: n.Kind, Value: n.Value, Pos: n.Pos}
	switch n.Kind {
	case KindMap:
		c.Fields = make(map[string]*Node, len(n.Fields))
		c.Keys = append([]string{}, n.Keys...)
		for k, v := range n.Fields {
			c.Fields[k] = v.Clone()
		}
	case KindList:
		c.Items = make([]*Node, len(n.Items))
		for i, v := range n.Items {
			c.Items[i] = v.Clone()
		}
	}
	return c
}

// Interface converts the node into plain Go values: map[string]any, []any,
// string, int64 or bool.
func (n *Node) Interface() any {
	switch n.Kind {
	case KindMap:
		out := make(map[string]any, len(n.Fields))
		for k, v := range n.Fields {
			out[k] = v.Interface()
		}
		return out
	case KindList:
		out := make([]any, len(n.Items))
		for i, v := range n.Items {
			out[i] = v.Interface()
		}
		return out
	default:
		return n.Value
	}
}

// FromCUE decodes a concrete CUE value into a config tree. Floats and
// nulls are rejected.
func FromCUE(v cue.Value) (*Node, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n := NewMap()
		n.Pos = v.Pos()
		for iter.Next() {
			child, err := FromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			n.Set(iter.Selector().Unquoted(), child)
		}
		return n, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n := &Node{Kind: KindList, Items: []*Node{}, Pos: v.Pos()}
		for iter.Next() {
			child, err := FromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return &Node{Kind: KindScalar, Value: s, Pos: v.Pos()}, nil

	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return &Node{Kind: KindScalar, Value: i, Pos: v.Pos()}, nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return &Node{Kind: KindScalar, Value: b, Pos: v.Pos()}, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: "type", Message: "float values are forbidden, use int", Pos: v.Pos()}

	default:
		return nil, &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
