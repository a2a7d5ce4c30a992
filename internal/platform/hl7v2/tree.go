package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser turns one raw HL7v2 message into a parse tree. Implementations must
// be deterministic and safe for concurrent use.
type Parser interface {
	Parse(raw string) (*Tree, error)
}

// Node is one element of a parse tree: a segment, field, repetition,
// component or subcomponent. Leaves have no children.
type Node struct {
	Name     string `json:"name" bson:"name"`
	Value    string `json:"value,omitempty" bson:"value,omitempty"`
	Children []Node `json:"children,omitempty" bson:"children,omitempty"`
}

// Tree is the parsed form of a message. Its children are the message
// segments in order.
type Tree struct {
	Type      string
	ControlID string
	Version   string
	Children  []Node
}

// Engine is the built-in Parser.
type Engine struct{}

// NewEngine creates a parsing engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Parse implements Parser.
func (e *Engine) Parse(raw string) (*Tree, error) {
	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}
	return msg.Tree(), nil
}

// Tree converts the message into its node representation. Field nodes are
// named SEG.n using HL7 positions, repetitions SEG.n[r], components SEG.n.c
// and subcomponents SEG.n.c.s. A level with a single element is collapsed
// into its parent.
func (m *Message) Tree() *Tree {
	t := &Tree{
		Type:      m.Type,
		ControlID: m.ControlID,
		Version:   m.Version,
		Children:  make([]Node, 0, len(m.Segments)),
	}
	for _, seg := range m.Segments {
		t.Children = append(t.Children, m.enc.segmentNode(seg))
	}
	return t
}

func (e encoding) segmentNode(seg Segment) Node {
	n := Node{Name: seg.Name}
	for i, f := range seg.Fields {
		n.Children = append(n.Children, e.fieldNode(fmt.Sprintf("%s.%d", seg.Name, i+1), f))
	}
	return n
}

func (e encoding) fieldNode(name string, f Field) Node {
	n := Node{Name: name, Value: f.Value}
	switch {
	case len(f.Repeats) > 1:
		for r, rep := range f.Repeats {
			repNode := Node{
				Name:     name + "[" + strconv.Itoa(r+1) + "]",
				Value:    e.joinComponents(rep),
				Children: e.componentNodes(name, rep),
			}
			n.Children = append(n.Children, repNode)
		}
	case len(f.Repeats) == 1:
		n.Children = e.componentNodes(name, f.Repeats[0])
	}
	return n
}

func (e encoding) componentNodes(name string, comps [][]string) []Node {
	if len(comps) < 2 && (len(comps) == 0 || len(comps[0]) < 2) {
		return nil
	}
	nodes := make([]Node, 0, len(comps))
	for c, subs := range comps {
		compName := name + "." + strconv.Itoa(c+1)
		cn := Node{Name: compName, Value: strings.Join(subs, string(e.subcomponent))}
		if len(subs) > 1 {
			for s, sub := range subs {
				cn.Children = append(cn.Children, Node{Name: compName + "." + strconv.Itoa(s+1), Value: sub})
			}
		}
		nodes = append(nodes, cn)
	}
	return nodes
}

func (e encoding) joinComponents(comps [][]string) string {
	parts := make([]string, len(comps))
	for i, subs := range comps {
		parts[i] = strings.Join(subs, string(e.subcomponent))
	}
	return strings.Join(parts, string(e.component))
}
