// Package agents holds the static archetype tables and the pure routing
// logic that maps tasks and tool categories to the best-suited archetype.
package agents

import (
	"errors"
	"fmt"
	"strings"

	"cyber_range/internal/domain"
)

var (
	ErrMalformedAgentID = errors.New("agent id must be <archetype>-<instance>")
	ErrUnknownArchetype = errors.New("unknown agent archetype")
)

// StealthArchetype generates reduced trace on tool use.
const StealthArchetype = "spectre"

// Archetype order within a team is fixed so routing ties resolve the same
// way on every run.
var (
	redArchetypes  = []string{"oracle", "breaker", StealthArchetype}
	blueArchetypes = []string{"sentinel", "warden", "medic"}
)

// effectiveness holds per-archetype, per-category multipliers. Categories
// absent from an archetype's row default to 1.0.
var effectiveness = map[string]map[string]float64{
	"oracle": {
		"reconnaissance":    1.5,
		"scanning":          1.4,
		"exploitation":      0.8,
		"credential_access": 0.7,
		"exfiltration":      0.9,
	},
	"breaker": {
		"exploitation":      1.5,
		"credential_access": 1.3,
		"lateral_movement":  1.4,
		"reconnaissance":    0.7,
		"persistence":       0.9,
	},
	StealthArchetype: {
		"exfiltration":     1.5,
		"persistence":      1.4,
		"lateral_movement": 1.1,
		"exploitation":     0.8,
		"scanning":         0.6,
	},
	"sentinel": {
		"detection":  1.5,
		"monitoring": 1.4,
		"forensics":  0.9,
		"hardening":  0.7,
	},
	"warden": {
		"hardening":   1.5,
		"containment": 1.3,
		"detection":   0.8,
		"recovery":    0.7,
	},
	"medic": {
		"recovery":    1.5,
		"forensics":   1.3,
		"hardening":   0.9,
		"containment": 0.8,
	},
}

// keywordCapabilities maps task-ID/name fragments to the capability used
// for archetype selection. Checked in order, first match wins.
var keywordCapabilities = []struct {
	keyword    string
	capability string
}{
	{"recon", "reconnaissance"},
	{"scan", "scanning"},
	{"exploit", "exploitation"},
	{"phish", "exploitation"},
	{"credential", "credential_access"},
	{"lateral", "lateral_movement"},
	{"escalate", "exploitation"},
	{"persist", "persistence"},
	{"exfiltrat", "exfiltration"},
	{"ransom", "exfiltration"},
	{"detect", "detection"},
	{"monitor", "monitoring"},
	{"harden", "hardening"},
	{"isolat", "containment"},
	{"rotate", "containment"},
	{"forensic", "forensics"},
	{"restore", "recovery"},
	{"recover", "recovery"},
}

func teamDefaults(team domain.Team) string {
	if team == domain.TeamRed {
		return "breaker"
	}
	return "sentinel"
}

// TeamOf resolves which team an archetype belongs to. Archetype names
// partition cleanly into the two teams.
func TeamOf(archetype string) (domain.Team, bool) {
	for _, a := range redArchetypes {
		if a == archetype {
			return domain.TeamRed, true
		}
	}
	for _, a := range blueArchetypes {
		if a == archetype {
			return domain.TeamBlue, true
		}
	}
	return "", false
}

// Parse builds the explicit AgentID value from a raw "<archetype>-<instance>"
// identifier. This happens once at the boundary; nothing downstream parses
// agent strings again.
func Parse(raw string) (domain.AgentID, error) {
	idx := strings.LastIndex(raw, "-")
	if idx <= 0 || idx == len(raw)-1 {
		return domain.AgentID{}, fmt.Errorf("%w: %q", ErrMalformedAgentID, raw)
	}
	archetype := raw[:idx]
	team, ok := TeamOf(archetype)
	if !ok {
		return domain.AgentID{}, fmt.Errorf("%w: %q", ErrUnknownArchetype, archetype)
	}
	return domain.AgentID{
		Archetype: archetype,
		Team:      team,
		Instance:  raw[idx+1:],
	}, nil
}

// Multiplier returns the specialization multiplier of an archetype for a
// tool category. Unlisted categories have no effect.
func Multiplier(archetype, category string) float64 {
	row, ok := effectiveness[archetype]
	if !ok {
		return 1.0
	}
	m, ok := row[category]
	if !ok {
		return 1.0
	}
	return m
}

// RouteTask picks the archetype for a task. An explicit agent-type override
// on the template is returned unchanged. Otherwise a capability is derived
// by keyword matching against the task ID, then its name, and the team's
// archetype with the highest multiplier for that capability is selected.
// Falls back to the team default when no keyword matches.
func RouteTask(tpl domain.TaskTemplate) string {
	if tpl.AgentType != "" {
		return tpl.AgentType
	}
	capability := matchCapability(tpl.ID)
	if capability == "" {
		capability = matchCapability(tpl.Name)
	}
	if capability == "" {
		return teamDefaults(tpl.Team)
	}
	return bestForCapability(tpl.Team, capability)
}

func matchCapability(text string) string {
	lowered := strings.ToLower(text)
	for _, kc := range keywordCapabilities {
		if strings.Contains(lowered, kc.keyword) {
			return kc.capability
		}
	}
	return ""
}

func bestForCapability(team domain.Team, capability string) string {
	pool := blueArchetypes
	if team == domain.TeamRed {
		pool = redArchetypes
	}
	best := pool[0]
	bestValue := Multiplier(best, capability)
	for _, archetype := range pool[1:] {
		if v := Multiplier(archetype, capability); v > bestValue {
			best = archetype
			bestValue = v
		}
	}
	return best
}
