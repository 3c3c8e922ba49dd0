package agents

import (
	"errors"
	"testing"

	"cyber_range/internal/domain"
)

func TestParse(t *testing.T) {
	agent, err := Parse("oracle-1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if agent.Archetype != "oracle" || agent.Team != domain.TeamRed || agent.Instance != "1" {
		t.Fatalf("unexpected agent: %+v", agent)
	}
	if agent.String() != "oracle-1" {
		t.Fatalf("string=%s want=oracle-1", agent.String())
	}

	// The archetype is everything before the last dash.
	if _, err := Parse("sentinel-blue-7"); !errors.Is(err, ErrUnknownArchetype) {
		t.Fatalf("err=%v want ErrUnknownArchetype for compound prefix", err)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "nodash", "-1", "oracle-"} {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformedAgentID) {
			t.Fatalf("parse(%q) err=%v want ErrMalformedAgentID", raw, err)
		}
	}
	if _, err := Parse("wizard-1"); !errors.Is(err, ErrUnknownArchetype) {
		t.Fatalf("err=%v want ErrUnknownArchetype", err)
	}
}

func TestTeamOf(t *testing.T) {
	for _, a := range []string{"oracle", "breaker", "spectre"} {
		team, ok := TeamOf(a)
		if !ok || team != domain.TeamRed {
			t.Fatalf("TeamOf(%s)=%s,%t want red", a, team, ok)
		}
	}
	for _, a := range []string{"sentinel", "warden", "medic"} {
		team, ok := TeamOf(a)
		if !ok || team != domain.TeamBlue {
			t.Fatalf("TeamOf(%s)=%s,%t want blue", a, team, ok)
		}
	}
	if _, ok := TeamOf("wizard"); ok {
		t.Fatalf("unknown archetype should not resolve")
	}
}

func TestMultiplierDefaultsToOne(t *testing.T) {
	if m := Multiplier("oracle", "reconnaissance"); m != 1.5 {
		t.Fatalf("oracle/reconnaissance=%v want=1.5", m)
	}
	if m := Multiplier("oracle", "containment"); m != 1.0 {
		t.Fatalf("unlisted category multiplier=%v want=1.0", m)
	}
	if m := Multiplier("wizard", "reconnaissance"); m != 1.0 {
		t.Fatalf("unknown archetype multiplier=%v want=1.0", m)
	}
}

func TestRouteTaskKeywordMatching(t *testing.T) {
	cases := []struct {
		id   string
		team domain.Team
		want string
	}{
		{"red_recon_network", domain.TeamRed, "oracle"},
		{"red_scan_services", domain.TeamRed, "oracle"},
		{"red_exploit_web", domain.TeamRed, "breaker"},
		{"red_credential_dump", domain.TeamRed, "breaker"},
		{"red_lateral_move", domain.TeamRed, "breaker"},
		{"red_persist_backdoor", domain.TeamRed, "spectre"},
		{"red_exfiltrate_data", domain.TeamRed, "spectre"},
		{"blue_detect_anomaly", domain.TeamBlue, "sentinel"},
		{"blue_monitor_traffic", domain.TeamBlue, "sentinel"},
		{"blue_harden_perimeter", domain.TeamBlue, "warden"},
		{"blue_isolate_host", domain.TeamBlue, "warden"},
		{"blue_forensic_analysis", domain.TeamBlue, "medic"},
		{"blue_restore_backups", domain.TeamBlue, "medic"},
	}
	for _, tc := range cases {
		got := RouteTask(domain.TaskTemplate{ID: tc.id, Team: tc.team})
		if got != tc.want {
			t.Fatalf("RouteTask(%s)=%s want=%s", tc.id, got, tc.want)
		}
	}
}

func TestRouteTaskExplicitOverride(t *testing.T) {
	got := RouteTask(domain.TaskTemplate{ID: "red_recon_network", Team: domain.TeamRed, AgentType: "spectre"})
	if got != "spectre" {
		t.Fatalf("override=%s want=spectre", got)
	}
}

func TestRouteTaskFallsBackToName(t *testing.T) {
	got := RouteTask(domain.TaskTemplate{ID: "task_17", Name: "Exfiltrate staged archives", Team: domain.TeamRed})
	if got != "spectre" {
		t.Fatalf("name-based route=%s want=spectre", got)
	}
}

func TestRouteTaskTeamDefault(t *testing.T) {
	if got := RouteTask(domain.TaskTemplate{ID: "task_99", Name: "Do the thing", Team: domain.TeamRed}); got != "breaker" {
		t.Fatalf("red default=%s want=breaker", got)
	}
	if got := RouteTask(domain.TaskTemplate{ID: "task_98", Name: "Do the thing", Team: domain.TeamBlue}); got != "sentinel" {
		t.Fatalf("blue default=%s want=sentinel", got)
	}
}
