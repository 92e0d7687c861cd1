package identity

import (
	"regexp"
	"strings"
)

var (
	envSuffixPattern     = regexp.MustCompile(`-(prod|production|staging|stage|dev|development|qa|uat|test)$`)
	versionSuffixPattern = regexp.MustCompile(`-v\d+$`)
	repeatedDashPattern  = regexp.MustCompile(`-{2,}`)
)

// tldPrefixes are first segments that identify Java-style package names
// (com.example.payment) as opposed to dotted service names.
var tldPrefixes = map[string]struct{}{
	"com": {}, "org": {}, "net": {}, "io": {}, "co": {}, "dev": {}, "app": {},
}

// Normalize converts a raw service identifier into canonical form: lowercase,
// dash-separated, with environment and version suffixes removed. Normalize is
// idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	// Java-style package names keep only the final segment.
	if segments := strings.Split(s, "."); len(segments) >= 3 {
		if _, ok := tldPrefixes[segments[0]]; ok {
			s = segments[len(segments)-1]
		}
	}

	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = repeatedDashPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	// Suffix stripping loops so "payments-v2-prod" reduces fully.
	for {
		next := envSuffixPattern.ReplaceAllString(s, "")
		next = versionSuffixPattern.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}

	return strings.Trim(s, "-")
}

// typeAffixes are common service-type tokens that vary between providers
// ("payment" vs "payment-service" vs "payment-svc").
var typeAffixes = []string{"service", "svc", "api", "srv", "app"}

// variants returns the candidate keys a normalized name is indexed and looked
// up under: the name itself, affix-stripped forms, and affix-extended forms.
// The result always starts with the input and contains no duplicates.
func variants(normalized string) []string {
	if normalized == "" {
		return nil
	}

	seen := map[string]struct{}{normalized: {}}
	out := []string{normalized}
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	for _, affix := range typeAffixes {
		if strings.HasSuffix(normalized, "-"+affix) {
			add(strings.TrimSuffix(normalized, "-"+affix))
		}
		if strings.HasPrefix(normalized, affix+"-") {
			add(strings.TrimPrefix(normalized, affix+"-"))
		}
	}

	// Extended forms let "payment" match an identity indexed as
	// "payment-service".
	for _, affix := range typeAffixes {
		add(normalized + "-" + affix)
	}

	return out
}
