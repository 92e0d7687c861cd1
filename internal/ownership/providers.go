package ownership

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nthlayer/nthlayer/internal/discovery"
)

// httpClient builds a pooled client shared by the HTTP-backed signal
// providers.
func httpClient(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func getJSON(ctx context.Context, client *http.Client, token, reqURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	// Always read the body to completion for connection reuse.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// AttributeProvider adapts a discovery provider's service attributes into
// ownership signals: a team attribute becomes a signal at the mapped source,
// a cost_center attribute becomes a cost-center signal.
type AttributeProvider struct {
	provider discovery.Provider
	source   Source
}

// NewAttributeProvider wraps a discovery provider. The source should reflect
// where the provider's attributes come from (portal, cloud tags,
// orchestrator labels).
func NewAttributeProvider(provider discovery.Provider, source Source) *AttributeProvider {
	return &AttributeProvider{provider: provider, source: source}
}

func (p *AttributeProvider) Name() string { return "attrs." + p.provider.Name() }

func (p *AttributeProvider) Signals(ctx context.Context, service, repo string) ([]Signal, error) {
	attrs, err := p.provider.ServiceAttributes(ctx, service)
	if err != nil {
		return nil, err
	}

	var out []Signal
	if team := attrs["team"]; team != "" {
		signal := Signal{Source: p.source, Owner: team, Confidence: 1.0}
		if ch := attrs["chat_channel"]; ch != "" {
			signal.Metadata = map[string]string{"chat_channel": ch}
		}
		out = append(out, signal)
	}
	if cc := attrs["cost_center"]; cc != "" {
		out = append(out, Signal{Source: SourceCostCenter, Owner: cc, Confidence: 0.9})
	}
	return out, nil
}

// PagerDutyConfig configures the on-call escalation provider.
type PagerDutyConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// PagerDutyProvider reads escalation policies: the team on the first
// escalation level is the incident on-call owner, the second level the
// secondary.
type PagerDutyProvider struct {
	config PagerDutyConfig
	client *http.Client
}

func NewPagerDutyProvider(config PagerDutyConfig) *PagerDutyProvider {
	return &PagerDutyProvider{config: config, client: httpClient(config.Timeout)}
}

func (p *PagerDutyProvider) Name() string { return "pagerduty" }

type pagerdutyPolicies struct {
	EscalationPolicies []struct {
		Name            string `json:"name"`
		EscalationRules []struct {
			Targets []struct {
				Summary string `json:"summary"`
			} `json:"targets"`
		} `json:"escalation_rules"`
	} `json:"escalation_policies"`
}

func (p *PagerDutyProvider) Signals(ctx context.Context, service, repo string) ([]Signal, error) {
	var policies pagerdutyPolicies
	reqURL := fmt.Sprintf("%s/escalation_policies?query=%s", p.config.URL, url.QueryEscape(service))
	if err := getJSON(ctx, p.client, p.config.Token, reqURL, &policies); err != nil {
		return nil, err
	}
	if len(policies.EscalationPolicies) == 0 {
		return nil, nil
	}

	policy := policies.EscalationPolicies[0]
	var out []Signal
	for i, rule := range policy.EscalationRules {
		if i > 1 || len(rule.Targets) == 0 {
			break
		}
		source := SourceIncidentOnCall
		if i == 1 {
			source = SourceSecondaryOnCall
		}
		out = append(out, Signal{
			Source:     source,
			Owner:      rule.Targets[0].Summary,
			Confidence: 1.0,
			Metadata:   map[string]string{"escalation": policy.Name},
		})
	}
	return out, nil
}

// CodeownersConfig configures the code-owners provider. RawURL is a template
// with %s replaced by the repository slug, pointing at the raw CODEOWNERS
// file.
type CodeownersConfig struct {
	RawURL  string
	Token   string
	Timeout time.Duration
}

// CodeownersProvider parses the repository's CODEOWNERS file and emits the
// catch-all rule's first owner.
type CodeownersProvider struct {
	config CodeownersConfig
	client *http.Client
}

func NewCodeownersProvider(config CodeownersConfig) *CodeownersProvider {
	return &CodeownersProvider{config: config, client: httpClient(config.Timeout)}
}

func (p *CodeownersProvider) Name() string { return "codeowners" }

func (p *CodeownersProvider) Signals(ctx context.Context, service, repo string) ([]Signal, error) {
	if repo == "" {
		return nil, nil
	}

	reqURL := fmt.Sprintf(p.config.RawURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	owner := parseCodeowners(string(body))
	if owner == "" {
		return nil, nil
	}
	return []Signal{{Source: SourceCodeowners, Owner: owner, Confidence: 1.0}}, nil
}

// parseCodeowners returns the first owner of the catch-all rule, or of the
// first rule when no catch-all exists. The leading @ and org prefix are
// stripped so the owner matches team names from other sources.
func parseCodeowners(content string) string {
	var first string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		owner := normalizeCodeowner(fields[1])
		if owner == "" {
			continue
		}
		if first == "" {
			first = owner
		}
		if fields[0] == "*" {
			return owner
		}
	}
	return first
}

func normalizeCodeowner(raw string) string {
	owner := strings.TrimPrefix(raw, "@")
	if _, team, ok := strings.Cut(owner, "/"); ok {
		return team
	}
	return owner
}

// ChatConventionConfig configures the chat-channel convention provider.
type ChatConventionConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// ChatConventionProvider infers ownership from the channel naming convention
// #<service>-team. Conventions are weak evidence; the source weight reflects
// that.
type ChatConventionProvider struct {
	config ChatConventionConfig
	client *http.Client
}

func NewChatConventionProvider(config ChatConventionConfig) *ChatConventionProvider {
	return &ChatConventionProvider{config: config, client: httpClient(config.Timeout)}
}

func (p *ChatConventionProvider) Name() string { return "chat" }

type chatChannelList struct {
	Channels []struct {
		Name string `json:"name"`
	} `json:"channels"`
}

func (p *ChatConventionProvider) Signals(ctx context.Context, service, repo string) ([]Signal, error) {
	var list chatChannelList
	reqURL := fmt.Sprintf("%s/api/conversations.list", p.config.URL)
	if err := getJSON(ctx, p.client, p.config.Token, reqURL, &list); err != nil {
		return nil, err
	}

	want := service + "-team"
	for _, ch := range list.Channels {
		if ch.Name != want {
			continue
		}
		return []Signal{{
			Source:     SourceChatConvention,
			Owner:      want,
			Confidence: 1.0,
			Metadata:   map[string]string{"chat_channel": "#" + want},
		}}, nil
	}
	return nil, nil
}

// GitActivityConfig configures the commit-activity provider. URL is the
// repository host API base.
type GitActivityConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Window bounds how many recent commits are considered (default 50).
	Window int
}

// GitActivityProvider attributes ownership to the most active recent
// committer. Activity is the weakest signal: contractors and drive-by fixes
// skew it.
type GitActivityProvider struct {
	config GitActivityConfig
	client *http.Client
}

func NewGitActivityProvider(config GitActivityConfig) *GitActivityProvider {
	if config.Window == 0 {
		config.Window = 50
	}
	return &GitActivityProvider{config: config, client: httpClient(config.Timeout)}
}

func (p *GitActivityProvider) Name() string { return "gitactivity" }

type gitCommit struct {
	Commit struct {
		Author struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"commit"`
}

func (p *GitActivityProvider) Signals(ctx context.Context, service, repo string) ([]Signal, error) {
	if repo == "" {
		return nil, nil
	}

	var commits []gitCommit
	reqURL := fmt.Sprintf("%s/repos/%s/commits?per_page=%d", p.config.URL, repo, p.config.Window)
	if err := getJSON(ctx, p.client, p.config.Token, reqURL, &commits); err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}

	counts := make(map[string]int)
	emails := make(map[string]string)
	for _, c := range commits {
		name := c.Commit.Author.Name
		if name == "" {
			continue
		}
		counts[name]++
		if emails[name] == "" {
			emails[name] = c.Commit.Author.Email
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) == 0 {
		return nil, nil
	}

	top := names[0]
	signal := Signal{
		Source:     SourceGitActivity,
		Owner:      top,
		Confidence: float64(counts[top]) / float64(len(commits)),
	}
	if email := emails[top]; email != "" {
		signal.Metadata = map[string]string{"email": email}
	}
	return []Signal{signal}, nil
}
