package segmentation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Hash generates a deterministic hash of a rule tree for cache keying.
// The tree is normalized first (trimmed values, children sorted by their
// canonical encoding) so that re-issuing an identical rule set hits the
// cache even if the author reordered conditions.
func Hash(n RuleNode) string {
	canonical := Canonicalize(n)
	jsonBytes, _ := json.Marshal(canonical)
	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:])
}

// Canonicalize returns a normalized copy of the tree: condition values are
// whitespace-trimmed and every group's children are sorted by their own
// canonical JSON form. Logically identical trees canonicalize identically.
func Canonicalize(n RuleNode) RuleNode {
	switch {
	case n.Condition != nil:
		c := *n.Condition
		c.Value = strings.TrimSpace(c.Value)
		c.SecondValue = strings.TrimSpace(c.SecondValue)
		return RuleNode{Condition: &c}
	case n.Group != nil:
		children := make([]RuleNode, len(n.Group.Children))
		for i, child := range n.Group.Children {
			children[i] = Canonicalize(child)
		}
		sort.Slice(children, func(i, j int) bool {
			a, _ := json.Marshal(children[i])
			b, _ := json.Marshal(children[j])
			return string(a) < string(b)
		})
		return RuleNode{Group: &Group{Logic: n.Group.Logic, Children: children}}
	default:
		return RuleNode{}
	}
}
