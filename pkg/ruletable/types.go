package ruletable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParserVersion identifies the dump formats ParseRuleLine understands:
// iptables -S rule specs and the legacy iptables -L -n listing.
const ParserVersion = "ezfwd-rules/1"

// ForwardRule is one directional mapping from a relay port on this host to
// a port on the target host. Identity is the relay port alone.
type ForwardRule struct {
	RelayPort  uint16
	TargetHost string
	TargetPort uint16
}

// String returns a human-readable representation of the rule.
func (r ForwardRule) String() string {
	return fmt.Sprintf("*:%d -> %s:%d", r.RelayPort, r.TargetHost, r.TargetPort)
}

// Target returns the host:port the relay port is redirected to.
func (r ForwardRule) Target() string {
	return fmt.Sprintf("%s:%d", r.TargetHost, r.TargetPort)
}

var (
	// -A PREROUTING -p tcp -m tcp --dport 3389 -j DNAT --to-destination 203.0.113.9:3389
	specDportPattern  = regexp.MustCompile(`--dport (\d+)(?:\s|$)`)
	specTargetPattern = regexp.MustCompile(`--to-destination (\d{1,3}(?:\.\d{1,3}){3}):(\d+)(?:\s|$)`)

	// DNAT  tcp  --  0.0.0.0/0  0.0.0.0/0  tcp dpt:3389 to:203.0.113.9:3389
	listDportPattern  = regexp.MustCompile(`\bdpt:(\d+)(?:\s|$)`)
	listTargetPattern = regexp.MustCompile(`\bto:(\d{1,3}(?:\.\d{1,3}){3}):(\d+)(?:\s|$)`)
)

// ParseRuleLine extracts a ForwardRule from a single line of a NAT table dump.
// It returns false for lines that are not TCP DNAT redirects to a single
// host:port (policies, chain headers, port ranges, other targets).
func ParseRuleLine(line string) (ForwardRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.Contains(line, "DNAT") {
		return ForwardRule{}, false
	}

	var dportMatch, targetMatch []string
	switch {
	case strings.HasPrefix(line, "-A ") || strings.Contains(line, "--to-destination"):
		if !strings.Contains(line, "-j DNAT") || !strings.Contains(line, "-p tcp") {
			return ForwardRule{}, false
		}
		dportMatch = specDportPattern.FindStringSubmatch(line)
		targetMatch = specTargetPattern.FindStringSubmatch(line)
	case strings.HasPrefix(line, "DNAT"):
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "tcp" {
			return ForwardRule{}, false
		}
		dportMatch = listDportPattern.FindStringSubmatch(line)
		targetMatch = listTargetPattern.FindStringSubmatch(line)
	default:
		return ForwardRule{}, false
	}

	if dportMatch == nil || targetMatch == nil {
		return ForwardRule{}, false
	}

	relayPort, ok := parsePort(dportMatch[1])
	if !ok {
		return ForwardRule{}, false
	}
	targetPort, ok := parsePort(targetMatch[2])
	if !ok {
		return ForwardRule{}, false
	}

	return ForwardRule{
		RelayPort:  relayPort,
		TargetHost: targetMatch[1],
		TargetPort: targetPort,
	}, true
}

// ParseDump parses every redirect rule in a multi-line dump, preserving order.
func ParseDump(dump string) []ForwardRule {
	var rules []ForwardRule
	for _, line := range strings.Split(dump, "\n") {
		if rule, ok := ParseRuleLine(line); ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

func parsePort(s string) (uint16, bool) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return uint16(port), true
}
