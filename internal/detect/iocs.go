package detect

import (
	"regexp"
	"sort"

	"socwatch/internal/events"
)

// BruteForce is the name of the built-in failed-login detector. Its keys are
// the attacker addresses reported in IOCs.
const BruteForce = "brute_force"

var (
	acceptedLogin = regexp.MustCompile(`\bAccepted (?:password|publickey) for ([\w.-]+)`)
	fromAddr      = regexp.MustCompile(`\bfrom\s+(` + ipPattern + `)\b`)
)

// IOCs are the indicators of compromise seen in one pass.
type IOCs struct {
	AttackerIPs      []string `json:"attacker_ips"`
	CompromisedUsers []string `json:"compromised_users"`
	Targets          []string `json:"targets"`
}

// ExtractIOCs collects attacker addresses from brute-force candidates, users
// with a successful login and every address a log line names after "from".
// Each list is sorted and free of repeats.
func ExtractIOCs(evts []events.Event, cands []Candidate) IOCs {
	attackers := map[string]struct{}{}
	for _, c := range cands {
		if c.Detector == BruteForce && c.Key != "" {
			attackers[c.Key] = struct{}{}
		}
	}
	users := map[string]struct{}{}
	targets := map[string]struct{}{}
	for _, ev := range evts {
		if ev.Source != events.SourceLog {
			continue
		}
		for _, m := range acceptedLogin.FindAllStringSubmatch(ev.Message, -1) {
			users[m[1]] = struct{}{}
		}
		for _, m := range fromAddr.FindAllStringSubmatch(ev.Message, -1) {
			targets[m[1]] = struct{}{}
		}
	}
	return IOCs{
		AttackerIPs:      sortedKeys(attackers),
		CompromisedUsers: sortedKeys(users),
		Targets:          sortedKeys(targets),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
