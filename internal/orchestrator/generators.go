package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nthlayer/nthlayer/internal/dashboard"
	"github.com/nthlayer/nthlayer/internal/spec"
)

// ExternalData is the snapshot of non-spec inputs the generators may use.
// It is gathered once per run so every generator sees the same state.
type ExternalData struct {
	DiscoveredMetrics map[string]struct{}
	// DiscoveredDependencies are canonical names from the discovery graph.
	DiscoveredDependencies []string
	Owner                  string
	ChatChannel            string
}

// Prometheus rule file model. yaml.v3 marshals struct fields in declaration
// order and map keys sorted, so rendered bytes are stable.
type ruleFile struct {
	Groups []ruleGroup `yaml:"groups"`
}

type ruleGroup struct {
	Name     string `yaml:"name"`
	Interval string `yaml:"interval,omitempty"`
	Rules    []rule `yaml:"rules"`
}

type rule struct {
	Record      string            `yaml:"record,omitempty"`
	Alert       string            `yaml:"alert,omitempty"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// burnRateWindows is the multiwindow multi-burn-rate alert ladder. The
// recording windows are the union of short and long windows plus the SLO
// window itself.
var burnRateWindows = []struct {
	Factor   float64
	Short    string
	Long     string
	Severity string
}{
	{14.4, "5m", "1h", "page"},
	{6, "30m", "6h", "page"},
	{3, "2h", "1d", "ticket"},
	{1, "6h", "3d", "ticket"},
}

func recordingWindows() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range burnRateWindows {
		for _, w := range []string{b.Short, b.Long} {
			if _, dup := seen[w]; !dup {
				seen[w] = struct{}{}
				out = append(out, w)
			}
		}
	}
	return out
}

// errorRatioExpr builds the SLI error-ratio expression for one SLO over one
// range window.
func errorRatioExpr(service string, slo spec.SLO, window string) string {
	if slo.Indicator == "latency" {
		le := strconv.FormatFloat(slo.LatencyThreshold, 'g', -1, 64)
		return fmt.Sprintf(
			`1 - (sum(rate(http_request_duration_seconds_bucket{service=%q,le=%q}[%s])) / sum(rate(http_request_duration_seconds_count{service=%q}[%s])))`,
			service, le, window, service, window)
	}
	return fmt.Sprintf(
		`sum(rate(http_requests_total{service=%q,code=~"5.."}[%s])) / sum(rate(http_requests_total{service=%q}[%s]))`,
		service, window, service, window)
}

func recordName(window string) string {
	return "nthlayer:error_ratio:rate" + window
}

// generateSLO renders the SLO declarations themselves as a stable artifact.
func generateSLO(index *ResourceIndex, _ *ExternalData) ([]byte, error) {
	type sloEntry struct {
		Name             string  `yaml:"name"`
		Objective        float64 `yaml:"objective"`
		Window           string  `yaml:"window"`
		Indicator        string  `yaml:"indicator,omitempty"`
		LatencyThreshold float64 `yaml:"latency_threshold,omitempty"`
	}
	doc := struct {
		Service string     `yaml:"service"`
		Tier    string     `yaml:"tier"`
		SLOs    []sloEntry `yaml:"slos"`
	}{
		Service: index.Spec.Name,
		Tier:    string(index.Spec.Tier),
	}
	for _, s := range index.SLOs {
		doc.SLOs = append(doc.SLOs, sloEntry{
			Name: s.Name, Objective: s.Objective, Window: s.Window,
			Indicator: s.Indicator, LatencyThreshold: s.LatencyThreshold,
		})
	}
	return marshalYAML(doc)
}

// generateRecordingRules emits per-SLO error-ratio rules for every burn-rate
// window plus the budget-remaining ratio over the SLO window.
func generateRecordingRules(index *ResourceIndex, _ *ExternalData) ([]byte, error) {
	service := index.Spec.Name
	file := ruleFile{}

	for _, slo := range index.SLOs {
		group := ruleGroup{
			Name:     fmt.Sprintf("nthlayer-%s-%s-recording", service, slo.Name),
			Interval: "1m",
		}
		labels := map[string]string{"service": service, "slo": slo.Name}

		for _, window := range recordingWindows() {
			group.Rules = append(group.Rules, rule{
				Record: recordName(window),
				Expr:   errorRatioExpr(service, slo, window),
				Labels: labels,
			})
		}
		group.Rules = append(group.Rules, rule{
			Record: "nthlayer:error_budget_remaining:ratio",
			Expr: fmt.Sprintf(`clamp_min(1 - (%s) / %s, 0)`,
				errorRatioExpr(service, slo, slo.Window),
				strconv.FormatFloat(1-slo.Objective, 'g', -1, 64)),
			Labels: labels,
		})

		file.Groups = append(file.Groups, group)
	}
	return marshalYAML(file)
}

// generateAlerts emits the multiwindow multi-burn-rate alerts over the
// recorded error-ratio series.
func generateAlerts(index *ResourceIndex, _ *ExternalData) ([]byte, error) {
	service := index.Spec.Name
	file := ruleFile{}

	for _, slo := range index.SLOs {
		group := ruleGroup{Name: fmt.Sprintf("nthlayer-%s-%s-alerts", service, slo.Name)}
		budget := 1 - slo.Objective

		for _, b := range burnRateWindows {
			threshold := strconv.FormatFloat(b.Factor*budget, 'g', -1, 64)
			selector := fmt.Sprintf(`{service=%q,slo=%q}`, service, slo.Name)
			alertName := "TicketBudgetBurn"
			if b.Severity == "page" {
				alertName = "PageBudgetBurn"
			}
			group.Rules = append(group.Rules, rule{
				Alert: alertName,
				Expr: fmt.Sprintf("%s%s > %s and %s%s > %s",
					recordName(b.Long), selector, threshold,
					recordName(b.Short), selector, threshold),
				For: b.Short,
				Labels: map[string]string{
					"service":  service,
					"severity": b.Severity,
					"slo":      slo.Name,
				},
				Annotations: map[string]string{
					"summary": fmt.Sprintf("%s is burning its %s error budget at %gx", service, slo.Name, b.Factor),
				},
			})
		}
		file.Groups = append(file.Groups, group)
	}
	return marshalYAML(file)
}

// generateDashboard delegates to the intent-based dashboard generator.
func generateDashboard(index *ResourceIndex, data *ExternalData) ([]byte, error) {
	d := dashboard.NewGenerator().Generate(index.Spec, data.DiscoveredMetrics)
	return d.Render()
}

// generateDirectory renders the service-directory registry entry.
func generateDirectory(index *ResourceIndex, data *ExternalData) ([]byte, error) {
	declared := make([]string, 0, len(index.Dependencies))
	for _, dep := range index.Dependencies {
		declared = append(declared, dep.Name)
	}
	sort.Strings(declared)

	discovered := append([]string(nil), data.DiscoveredDependencies...)
	sort.Strings(discovered)

	owner := data.Owner
	if owner == "" {
		owner = index.Spec.Team
	}

	doc := struct {
		Service      string   `yaml:"service"`
		Tier         string   `yaml:"tier"`
		Type         string   `yaml:"type"`
		Owner        string   `yaml:"owner,omitempty"`
		ChatChannel  string   `yaml:"chat_channel,omitempty"`
		Repository   string   `yaml:"repository,omitempty"`
		Dashboard    string   `yaml:"dashboard"`
		Declared     []string `yaml:"declared_dependencies,omitempty"`
		Discovered   []string `yaml:"discovered_dependencies,omitempty"`
		SLOCount     int      `yaml:"slo_count"`
		DriftEnabled bool     `yaml:"drift_enabled"`
	}{
		Service:      index.Spec.Name,
		Tier:         string(index.Spec.Tier),
		Type:         string(index.Spec.Type),
		Owner:        owner,
		ChatChannel:  data.ChatChannel,
		Repository:   index.Spec.Repository,
		Dashboard:    "nthlayer-" + index.Spec.Name,
		Declared:     declared,
		Discovered:   discovered,
		SLOCount:     len(index.SLOs),
		DriftEnabled: index.Spec.Drift != nil && index.Spec.Drift.Enabled,
	}
	return marshalYAML(doc)
}

// marshalYAML renders with 2-space indentation and a trailing newline.
func marshalYAML(v interface{}) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
