package event

import "strings"

// Node is one element of a decoded accessibility view hierarchy.
//
// Only the attributes extraction rules can match on are carried; the
// platform glue strips everything else before handing the tree over.
type Node struct {
	// ClassName is the widget class, e.g. "android.widget.TextView".
	ClassName string `json:"class,omitempty"`

	// ViewID is the view's resource-id, e.g. "com.app:id/fare_text".
	ViewID string `json:"view_id,omitempty"`

	// Text is the node's visible text.
	Text string `json:"text,omitempty"`

	// ContentDesc is the accessibility content description.
	ContentDesc string `json:"content_desc,omitempty"`

	Children []*Node `json:"children,omitempty"`
}

// Label returns the node's text, falling back to its content
// description, trimmed.
func (n *Node) Label() string {
	if t := strings.TrimSpace(n.Text); t != "" {
		return t
	}
	return strings.TrimSpace(n.ContentDesc)
}

// Walk visits n and its descendants in document (preorder) order. The
// visit stops early when fn returns false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// FlatText concatenates the labels of the whole subtree into one
// lowercased, whitespace-collapsed string. Used by the cheap offer-hint
// gate before the full rule table runs.
func (n *Node) FlatText() string {
	var b strings.Builder
	n.Walk(func(c *Node) bool {
		if t := c.Label(); t != "" {
			b.WriteString(t)
			b.WriteByte(' ')
		}
		return true
	})
	return CollapseText(b.String())
}
