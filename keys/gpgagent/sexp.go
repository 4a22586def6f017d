package gpgagent

import (
	"bytes"
	"strconv"
)

// Node is one node of a canonical S-expression: an atom carrying raw bytes,
// or a list of child nodes.
type Node struct {
	Bytes []byte
	Items []*Node
	atom  bool
}

// IsAtom reports whether the node is a raw byte atom.
func (n *Node) IsAtom() bool {
	return n.atom
}

// Atom returns the bytes of the i-th child if it is an atom, nil otherwise.
func (n *Node) Atom(i int) []byte {
	if n == nil || i < 0 || i >= len(n.Items) || !n.Items[i].atom {
		return nil
	}
	return n.Items[i].Bytes
}

// Child finds the first child list whose head atom equals name. The head of
// the receiver itself (its tag) is not considered.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, item := range n.Items {
		if item.atom || len(item.Items) == 0 {
			continue
		}
		if item.Items[0].atom && bytes.Equal(item.Items[0].Bytes, []byte(name)) {
			return item
		}
	}
	return nil
}

// ParseSexp reads a canonical S-expression - parenthesised lists of
// length-prefixed atoms of the form len:bytes - and returns its root node.
func ParseSexp(data []byte) (*Node, error) {
	root := &Node{}
	stack := []*Node{root}
	idx := 0
	for idx < len(data) {
		top := stack[len(stack)-1]
		switch data[idx] {
		case '(':
			list := &Node{}
			top.Items = append(top.Items, list)
			stack = append(stack, list)
			idx++
		case ')':
			if len(stack) == 1 {
				return nil, agentError("unbalanced S-expression")
			}
			stack = stack[:len(stack)-1]
			idx++
		default:
			sep := bytes.IndexByte(data[idx:], ':')
			if sep <= 0 {
				return nil, agentError("malformed S-expression atom at %d", idx)
			}
			length, err := strconv.Atoi(string(data[idx : idx+sep]))
			if err != nil || length < 0 {
				return nil, agentError("invalid S-expression atom length at %d", idx)
			}
			start := idx + sep + 1
			if start+length > len(data) {
				return nil, agentError("S-expression atom exceeds input at %d", idx)
			}
			top.Items = append(top.Items, &Node{Bytes: data[start : start+length], atom: true})
			idx = start + length
		}
	}
	if len(root.Items) == 0 {
		return nil, agentError("empty S-expression")
	}
	return root.Items[0], nil
}
