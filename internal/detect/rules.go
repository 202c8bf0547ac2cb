package detect

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"socwatch/internal/events"
	"socwatch/internal/incidents"
)

type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is one data-driven matcher. A named "key" capture group in a pattern
// selects the counter an event increments. With Tiers set, a candidate is
// emitted exactly when a key's count reaches a tier's Count; without Tiers,
// every match emits a candidate at Severity.
type Rule struct {
	Name        string             `yaml:"name"`
	Source      events.Source      `yaml:"source"`
	Patterns    []string           `yaml:"patterns"`
	Severity    incidents.Severity `yaml:"severity"`
	Tiers       []Tier             `yaml:"tiers"`
	Description string             `yaml:"description"`
}

type Tier struct {
	Count    int                `yaml:"count"`
	Severity incidents.Severity `yaml:"severity"`
}

const ipPattern = `\d{1,3}(?:\.\d{1,3}){3}`

// DefaultRules returns the built-in detector table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   BruteForce,
			Source: events.SourceLog,
			Patterns: []string{
				`(?i)\b(?:failed password|failed authentication|authentication failure|failed login)\b.*?\bfrom\s+(?P<key>` + ipPattern + `)\b`,
			},
			Tiers: []Tier{
				{Count: 3, Severity: incidents.SeverityMedium},
				{Count: 5, Severity: incidents.SeverityHigh},
			},
			Description: "Brute-force detected from {key}: {count} failed attempts",
		},
		{
			Name:        "privilege_escalation",
			Source:      events.SourceLog,
			Patterns:    []string{`\bsudo\b.*\bCOMMAND=(?P<key>\S.*)$`},
			Severity:    incidents.SeverityHigh,
			Description: "Privilege escalation via sudo: {key}",
		},
		{
			Name:   "malware_execution",
			Source: events.SourceLog,
			Patterns: []string{
				`(?i)\b(?:wget|curl)\b\s+(?:-\S+\s+)*https?://\S+`,
				`(?i)\bbase64\s+(?:-d|--decode)\b`,
				`(?i)\bpowershell(?:\.exe)?\b.*\s-e(?:nc|ncodedcommand)?\s+[A-Za-z0-9+/=]{16,}`,
				`(?i)(?:>>?|\btee\b|\s-[oO]|\bchmod\s+\+x)\s*/(?:tmp|dev/shm|var/tmp)/\S+`,
			},
			Severity:    incidents.SeverityHigh,
			Description: "Suspicious execution: {match}",
		},
		{
			Name:   "suspicious_outbound",
			Source: events.SourceLog,
			Patterns: []string{
				`(?i)\b(?:connect(?:ed|ing)?|post(?:ed|ing)?|upload(?:ed|ing)?)\b.*?(?:\bto\s+|https?://|->\s*)(?P<key>` + ipPattern + `)\b`,
			},
			Tiers:       []Tier{{Count: 3, Severity: incidents.SeverityHigh}},
			Description: "Suspicious outbound traffic to {key}: {count} transfers",
		},
	}
}

// LoadRules reads a rule file and merges it over the defaults: a rule whose
// name matches a default replaces it, others are appended. An empty path
// returns the defaults.
func LoadRules(path string) ([]Rule, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for _, r := range rs.Rules {
		if r.Source == "" {
			r.Source = events.SourceLog
		}
		replaced := false
		for i := range rules {
			if rules[i].Name == r.Name {
				rules[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// Compile validates the rule and returns its detector.
func (r Rule) Compile() (Detector, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("rule without name")
	}
	if len(r.Patterns) == 0 {
		return nil, fmt.Errorf("rule %s: no patterns", r.Name)
	}
	d := &ruleDetector{rule: r}
	for _, p := range r.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		d.patterns = append(d.patterns, re)
	}
	if len(r.Tiers) == 0 && !r.Severity.Valid() {
		return nil, fmt.Errorf("rule %s: invalid severity %q", r.Name, r.Severity)
	}
	for _, t := range r.Tiers {
		if t.Count <= 0 || !t.Severity.Valid() {
			return nil, fmt.Errorf("rule %s: invalid tier %+v", r.Name, t)
		}
	}
	return d, nil
}

type ruleDetector struct {
	rule     Rule
	patterns []*regexp.Regexp
}

func (d *ruleDetector) Name() string { return d.rule.Name }

func (d *ruleDetector) Scan(evts []events.Event) []Candidate {
	var out []Candidate
	counts := make(map[string]int)
	firstSeen := make(map[string]events.Event)

	for _, ev := range evts {
		if ev.Source != d.rule.Source {
			continue
		}
		match, key, ok := d.match(ev.Message)
		if !ok {
			continue
		}
		if len(d.rule.Tiers) == 0 {
			out = append(out, d.candidate(ev, key, match, 1, d.rule.Severity, false))
			continue
		}
		counts[key]++
		if counts[key] == 1 {
			firstSeen[key] = ev
		}
		for _, t := range d.rule.Tiers {
			if counts[key] == t.Count {
				out = append(out, d.candidate(firstSeen[key], key, match, t.Count, t.Severity, true))
			}
		}
	}
	return out
}

func (d *ruleDetector) match(msg string) (match, key string, ok bool) {
	for _, re := range d.patterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		if i := re.SubexpIndex("key"); i > 0 {
			key = strings.TrimSpace(m[i])
		}
		return m[0], key, true
	}
	return "", "", false
}

func (d *ruleDetector) candidate(ev events.Event, key, match string, count int, sev incidents.Severity, keyed bool) Candidate {
	desc := strings.NewReplacer(
		"{key}", key,
		"{count}", strconv.Itoa(count),
		"{match}", strings.TrimSpace(match),
	).Replace(d.rule.Description)
	return Candidate{
		Detector:    d.rule.Name,
		Key:         key,
		Keyed:       keyed,
		Source:      ev.Source,
		Timestamp:   ev.Timestamp,
		Untimed:     ev.Synthesized,
		Description: desc,
		Severity:    sev,
	}
}
