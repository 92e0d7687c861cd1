package dashboard

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nthlayer/nthlayer/internal/logging"
	"github.com/nthlayer/nthlayer/internal/metrics"
	"github.com/nthlayer/nthlayer/internal/spec"
)

// Dashboard is the generated Grafana dashboard model. Field order and panel
// order are stable so rendered bytes are identical across runs.
type Dashboard struct {
	UID           string   `json:"uid"`
	Title         string   `json:"title"`
	Tags          []string `json:"tags"`
	SchemaVersion int      `json:"schemaVersion"`
	Refresh       string   `json:"refresh"`
	Time          struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"time"`
	Panels []Panel `json:"panels"`
}

// Panel is a single dashboard panel: a timeseries query panel or a text
// guidance card.
type Panel struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	GridPos GridPos  `json:"gridPos"`
	Targets []Target `json:"targets,omitempty"`
	Options *Text    `json:"options,omitempty"`
	// Resolution records how the panel's intent resolved.
	Resolution ResolutionStatus `json:"-"`
}

type GridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

type Target struct {
	Expr  string `json:"expr"`
	RefID string `json:"refId"`
}

type Text struct {
	Mode    string `json:"mode"`
	Content string `json:"content"`
}

// PanelSpec pairs a panel slot with the intent that fills it.
type PanelSpec struct {
	Intent Intent
}

// Generator produces a dashboard for one service spec.
type Generator struct {
	logger *logging.Logger
}

func NewGenerator() *Generator {
	return &Generator{logger: logging.GetLogger("dashboard")}
}

// PanelSpecs returns the ordered panel slots for a spec: the service's own
// serving technology first, then the Go runtime, then one intent group per
// declared dependency technology in declaration order (deduplicated).
func (g *Generator) PanelSpecs(svc *spec.ServiceSpec) []PanelSpec {
	var techs []metrics.Technology
	switch svc.Type {
	case spec.TypeAPI, spec.TypeFrontend:
		techs = append(techs, metrics.TechHTTP)
	}
	techs = append(techs, metrics.TechGoRuntime)

	seen := make(map[metrics.Technology]struct{}, len(techs))
	for _, t := range techs {
		seen[t] = struct{}{}
	}
	for _, dep := range svc.Dependencies {
		tech := metrics.Technology(dep.Technology)
		if _, dup := seen[tech]; dup {
			continue
		}
		seen[tech] = struct{}{}
		techs = append(techs, tech)
	}

	var out []PanelSpec
	for _, tech := range techs {
		for _, intent := range IntentsFor(tech) {
			out = append(out, PanelSpec{Intent: intent})
		}
	}
	return out
}

// Generate resolves every panel spec against the discovered metric set and
// assembles the dashboard. Unresolved intents become guidance cards; no
// query panel references a metric discovery has not seen, unless the
// operator overrode the intent.
func (g *Generator) Generate(svc *spec.ServiceSpec, discovered map[string]struct{}) *Dashboard {
	resolver := NewResolver(svc.Name, discovered, svc.MetricOverrides)

	d := &Dashboard{
		UID:           "nthlayer-" + svc.Name,
		Title:         svc.Name + " — Service Overview",
		Tags:          []string{"nthlayer", string(svc.Tier)},
		SchemaVersion: 39,
		Refresh:       "1m",
	}
	d.Time.From = "now-6h"
	d.Time.To = "now"

	const (
		panelW = 8
		panelH = 8
		cols   = 3
	)

	specs := g.PanelSpecs(svc)
	for i, ps := range specs {
		result := resolver.Resolve(ps.Intent)
		panel := Panel{
			ID:    i + 1,
			Title: ps.Intent.Title,
			GridPos: GridPos{
				H: panelH, W: panelW,
				X: (i % cols) * panelW,
				Y: (i / cols) * panelH,
			},
			Resolution: result.Status,
		}
		if result.Resolved() {
			panel.Type = "timeseries"
			panel.Targets = []Target{{Expr: result.Expr, RefID: "A"}}
		} else {
			panel.Type = "text"
			panel.Options = &Text{
				Mode:    "markdown",
				Content: fmt.Sprintf("**No metrics found for %s.**\n\n%s", ps.Intent.Title, result.Guidance),
			}
		}
		d.Panels = append(d.Panels, panel)
	}
	return d
}

// Render serializes the dashboard with stable byte output: indented JSON,
// sorted tags, trailing newline.
func (d *Dashboard) Render() ([]byte, error) {
	sort.Strings(d.Tags)
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
