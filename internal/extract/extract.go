package extract

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"offerwatchd/internal/event"
)

// Extractor applies the current rule table to raw events.
//
// Extract is a pure function of its input and the installed rules, so
// swapping the table with Reload is the only mutation and is safe while
// the pipeline worker keeps extracting.
type Extractor struct {
	mu sync.RWMutex
	rs *RuleSet
}

// New creates an Extractor over the given rule set.
func New(rs *RuleSet) *Extractor {
	if rs == nil {
		rs = DefaultRules()
	}
	return &Extractor{rs: rs}
}

// Reload atomically installs a new rule table.
func (e *Extractor) Reload(rs *RuleSet) {
	e.mu.Lock()
	e.rs = rs
	e.mu.Unlock()
}

func (e *Extractor) rules() *RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rs
}

// Noisy reports whether the notification matches a configured noise
// phrase (status lines, promos) and should be dropped before extraction.
func (e *Extractor) Noisy(n *event.Notification) bool {
	body := n.AllText()
	for _, phrase := range e.rules().noise {
		if strings.Contains(body, phrase) {
			return true
		}
	}
	return false
}

// Extract pulls candidate fields out of raw. It is total: events from
// unlisted packages, events with no offer hint, and events no rule fires
// for all yield an empty FieldSet.
func (e *Extractor) Extract(raw event.Raw) event.FieldSet {
	rs := e.rules()
	fs := make(event.FieldSet)

	switch raw.Kind {
	case event.KindAccessibility:
		if raw.Snapshot == nil || raw.Snapshot.Root == nil {
			return fs
		}
		if !rs.allowed(raw.Snapshot.SourceApp) {
			return fs
		}
		flat := raw.Snapshot.Root.FlatText()
		if !rs.hinted(flat) {
			return fs
		}
		rs.applyNodeRules(raw.Snapshot.Root, fs)
		rs.applyTextRules(fs, func(scope string) string {
			if scope == ScopeAny {
				return flat
			}
			return ""
		})
		rs.splitDistances(fs, flat)

	case event.KindNotification:
		n := raw.Notification
		if n == nil || !rs.allowed(n.Package) {
			return fs
		}
		all := n.AllText()
		if !rs.hinted(all) {
			return fs
		}
		rs.applyTextRules(fs, func(scope string) string {
			switch scope {
			case ScopeTitle:
				return event.CollapseText(n.Title)
			case ScopeBody:
				return event.CollapseText(n.Text + " " + n.BigText)
			default:
				return all
			}
		})
		rs.splitDistances(fs, all)
	}

	return fs
}

func (rs *RuleSet) allowed(pkg string) bool {
	if len(rs.packages) == 0 {
		return true
	}
	_, ok := rs.packages[pkg]
	return ok
}

func (rs *RuleSet) hinted(text string) bool {
	if len(rs.hints) == 0 {
		return true
	}
	for _, h := range rs.hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

// applyNodeRules runs the node rule table in priority order over the
// tree. Rule order is the outer loop so that an earlier rule always
// beats a later one, regardless of node position.
func (rs *RuleSet) applyNodeRules(root *event.Node, fs event.FieldSet) {
	for _, r := range rs.nodeRules {
		if _, done := fs.Get(r.field); done {
			continue
		}
		root.Walk(func(n *event.Node) bool {
			v, ok := r.match(n)
			if !ok {
				return true
			}
			fs.Set(r.field, v)
			return false
		})
	}
}

func (r nodeRule) match(n *event.Node) (string, bool) {
	if r.viewID != nil && !r.viewID.MatchString(n.ViewID) {
		return "", false
	}
	if r.class != nil && !r.class.MatchString(n.ClassName) {
		return "", false
	}
	label := n.Label()
	if r.text != nil {
		m := r.text.FindStringSubmatch(label)
		if m == nil {
			return "", false
		}
		return captured(m), true
	}
	if label == "" {
		return "", false
	}
	return label, true
}

// applyTextRules runs the text rule table in priority order. scoped
// returns the text for a scope, or "" when the scope does not apply to
// this event kind.
func (rs *RuleSet) applyTextRules(fs event.FieldSet, scoped func(scope string) string) {
	for _, r := range rs.textRules {
		if _, done := fs.Get(r.field); done {
			continue
		}
		text := scoped(r.scope)
		if text == "" {
			continue
		}
		if m := r.pattern.FindStringSubmatch(text); m != nil {
			fs.Set(r.field, strings.TrimSpace(captured(m)))
		}
	}
}

// splitDistances applies the two-distance heuristic from the observed
// app: when the text carries two or more distances, the smaller one is
// the pickup leg and the larger the trip.
func (rs *RuleSet) splitDistances(fs event.FieldSet, text string) {
	dist, ok := fs.Get(event.FieldDistance)
	if !ok {
		return
	}

	var winner *textRule
	for i := range rs.textRules {
		if rs.textRules[i].field == event.FieldDistance {
			winner = &rs.textRules[i]
			break
		}
	}
	if winner == nil {
		return
	}

	matches := winner.pattern.FindAllStringSubmatch(text, -1)
	if len(matches) < 2 {
		return
	}

	minVal, maxVal := dist, dist
	minM, maxM := roughMeters(dist), roughMeters(dist)
	for _, m := range matches {
		v := strings.TrimSpace(captured(m))
		meters := roughMeters(v)
		if meters <= 0 {
			continue
		}
		if meters < minM {
			minVal, minM = v, meters
		}
		if meters > maxM {
			maxVal, maxM = v, meters
		}
	}
	if minVal == maxVal {
		return
	}

	pickup, pok := fs.Get(event.FieldPickupDistance)
	if !pok {
		fs[event.FieldPickupDistance] = minVal
		fs[event.FieldDistance] = maxVal
		return
	}
	// A dedicated pickup rule already fired. The generic distance rule
	// may still have grabbed the pickup leg; steer it to the larger one.
	if roughMeters(dist) <= roughMeters(pickup) {
		fs[event.FieldDistance] = maxVal
	}
}

func captured(m []string) string {
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

var leadingNumber = regexp.MustCompile(`^\s*(\d+(?:[.,]\d+)?)\s*(km|mi|m)?\b`)

// roughMeters parses just enough of a raw distance string to order two
// distances. The normalizer owns the strict conversion.
func roughMeters(s string) float64 {
	m := leadingNumber.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "km", "":
		return v * 1000
	case "mi":
		return v * 1609.344
	default:
		return v
	}
}
