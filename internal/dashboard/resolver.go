package dashboard

import "strings"

// Resolver binds intents to metrics discovered for one service.
type Resolver struct {
	service    string
	discovered map[string]struct{}
	// overrides pins expressions per intent name, from the service spec.
	overrides map[string]string
}

// NewResolver creates a resolver over the service's discovered metric set.
func NewResolver(service string, discovered map[string]struct{}, overrides map[string]string) *Resolver {
	return &Resolver{service: service, discovered: discovered, overrides: overrides}
}

// Resolve walks the waterfall: operator override, then the primary
// candidate, then the fallback chain, then guidance. Apart from overrides,
// no resolved expression ever references a metric absent from the
// discovered set.
func (r *Resolver) Resolve(intent Intent) ResolutionResult {
	if expr, ok := r.overrides[intent.Name]; ok && expr != "" {
		return ResolutionResult{
			Intent: intent,
			Status: StatusOverride,
			Expr:   r.substitute(expr, ""),
		}
	}

	for i, candidate := range intent.Candidates {
		if _, ok := r.discovered[candidate.Metric]; !ok {
			continue
		}
		status := StatusResolved
		if i > 0 {
			status = StatusFallback
		}
		return ResolutionResult{
			Intent: intent,
			Status: status,
			Metric: candidate.Metric,
			Expr:   r.substitute(candidate.Expr, candidate.Metric),
		}
	}

	return ResolutionResult{
		Intent:   intent,
		Status:   StatusUnresolved,
		Guidance: r.substitute(intent.Guidance, ""),
	}
}

// substitute expands $metric then $service. Substitution is purely textual
// and deterministic.
func (r *Resolver) substitute(expr, metric string) string {
	if metric != "" {
		expr = strings.ReplaceAll(expr, "$metric", metric)
	}
	return strings.ReplaceAll(expr, "$service", r.service)
}
