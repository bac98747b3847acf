// Package event defines the raw inputs of the extraction pipeline.
//
// A Raw value is a tagged union over the two source streams the daemon
// observes: accessibility-tree snapshots of the driver app's screen, and
// system notifications posted by it. Raw values are immutable once built
// and are owned by the pipeline coordinator until consumed.
package event

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the raw event variants.
type Kind int

const (
	// KindAccessibility is a snapshot of the observed app's view hierarchy.
	KindAccessibility Kind = iota + 1
	// KindNotification is a posted system notification.
	KindNotification
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAccessibility:
		return "accessibility"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Raw is one observed event. Exactly one of Snapshot or Notification is
// set, matching Kind.
type Raw struct {
	// ID correlates log lines for this event across pipeline stages.
	ID string `json:"id"`

	Kind Kind `json:"kind"`

	// Timestamp is when the event was observed at the source.
	Timestamp time.Time `json:"timestamp"`

	Snapshot     *Snapshot     `json:"snapshot,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Snapshot is a decoded accessibility-tree snapshot.
type Snapshot struct {
	// SourceApp is the package name of the app that owns the window.
	SourceApp string `json:"source_app"`

	// Root is the root of the decoded node tree.
	Root *Node `json:"root"`
}

// Notification is a decoded posted notification.
type Notification struct {
	// Package is the posting app's package name.
	Package string `json:"package"`

	// PostID is the notification id assigned by the platform.
	PostID int `json:"post_id"`

	// PostTime is when the platform posted the notification.
	PostTime time.Time `json:"post_time"`

	Title   string `json:"title,omitempty"`
	Text    string `json:"text,omitempty"`
	BigText string `json:"big_text,omitempty"`
	SubText string `json:"sub_text,omitempty"`
	Ticker  string `json:"ticker,omitempty"`

	// Lines are the expanded inbox-style lines, when present.
	Lines []string `json:"lines,omitempty"`

	// Extras carries any remaining string extras by key.
	Extras map[string]string `json:"extras,omitempty"`
}

// NewSnapshot builds an accessibility Raw stamped with a fresh id.
func NewSnapshot(sourceApp string, root *Node, ts time.Time) Raw {
	return Raw{
		ID:        uuid.NewString(),
		Kind:      KindAccessibility,
		Timestamp: ts,
		Snapshot:  &Snapshot{SourceApp: sourceApp, Root: root},
	}
}

// NewNotification builds a notification Raw stamped with a fresh id.
func NewNotification(n Notification, ts time.Time) Raw {
	return Raw{
		ID:           uuid.NewString(),
		Kind:         KindNotification,
		Timestamp:    ts,
		Notification: &n,
	}
}

// SourcePackage returns the package name of whichever app produced the
// event, or "" for a malformed value.
func (r Raw) SourcePackage() string {
	switch r.Kind {
	case KindAccessibility:
		if r.Snapshot != nil {
			return r.Snapshot.SourceApp
		}
	case KindNotification:
		if r.Notification != nil {
			return r.Notification.Package
		}
	}
	return ""
}

// Key identifies a posted notification instance. Re-posts of the same
// notification carry the same key and are dropped before extraction.
func (n *Notification) Key() string {
	var b strings.Builder
	b.WriteString(n.Package)
	b.WriteByte('/')
	b.WriteString(strings.TrimSpace(n.Title))
	b.WriteByte('#')
	b.WriteString(strconv.Itoa(n.PostID))
	b.WriteByte('@')
	b.WriteString(strconv.FormatInt(n.PostTime.UnixMilli(), 10))
	return b.String()
}

// AllText flattens every textual part of the notification into one
// lowercased, whitespace-collapsed string for keyword and regex matching.
func (n *Notification) AllText() string {
	parts := make([]string, 0, 6+len(n.Lines)+len(n.Extras))
	parts = append(parts, n.Title, n.Text, n.BigText, n.SubText, n.Ticker)
	parts = append(parts, n.Lines...)
	for _, v := range n.Extras {
		parts = append(parts, v)
	}
	return CollapseText(strings.Join(parts, " "))
}

// CollapseText lowercases s and collapses all runs of whitespace
// (including newlines) into single spaces.
func CollapseText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
