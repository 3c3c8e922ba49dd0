// Package mission provides the static scenario configuration a round is
// built from: the phase table, the task dependency template and the tool
// registry. The reference scenario is embedded; deployments can override it
// with a TOML file.
package mission

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"cyber_range/internal/domain"
)

const (
	PhaseInitialAccess  = "initial_access"
	PhaseEscalation     = "escalation"
	PhaseImpactRecovery = "impact_recovery"
)

// Default returns the embedded reference scenario: three strictly ordered
// phases, the 16-task dependency template and the tool registry.
func Default() domain.Scenario {
	return domain.Scenario{
		Name:          "reference",
		RoundDuration: 60 * time.Minute,
		Phases: []domain.Phase{
			{ID: PhaseInitialAccess, Order: 1, Duration: 20 * time.Minute, ScoreMultiplier: 1.0},
			{ID: PhaseEscalation, Order: 2, Duration: 20 * time.Minute, ScoreMultiplier: 1.2},
			{ID: PhaseImpactRecovery, Order: 3, Duration: 20 * time.Minute, ScoreMultiplier: 1.5},
		},
		Tasks: []domain.TaskTemplate{
			{ID: "red_recon_network", Name: "Map the target network", Phase: PhaseInitialAccess, Team: domain.TeamRed, Required: true, Points: 100},
			{ID: "red_scan_services", Name: "Enumerate exposed services", Phase: PhaseInitialAccess, Team: domain.TeamRed, Required: true, Points: 120, Prerequisites: []string{"red_recon_network"}},
			{ID: "red_exploit_web", Name: "Exploit the web frontend", Phase: PhaseInitialAccess, Team: domain.TeamRed, Required: true, Points: 150, Prerequisites: []string{"red_scan_services"}},
			{ID: "red_phish_user", Name: "Phish an internal user", Phase: PhaseInitialAccess, Team: domain.TeamRed, Required: false, Points: 80, Prerequisites: []string{"red_recon_network"}},
			{ID: "blue_harden_perimeter", Name: "Harden the perimeter", Phase: PhaseInitialAccess, Team: domain.TeamBlue, Required: true, Points: 100},
			{ID: "blue_monitor_traffic", Name: "Baseline network traffic", Phase: PhaseInitialAccess, Team: domain.TeamBlue, Required: true, Points: 100},

			{ID: "red_credential_dump", Name: "Dump cached credentials", Phase: PhaseEscalation, Team: domain.TeamRed, Required: true, Points: 150, Prerequisites: []string{"red_exploit_web"}},
			{ID: "red_lateral_move", Name: "Move laterally to the file server", Phase: PhaseEscalation, Team: domain.TeamRed, Required: true, Points: 160, Prerequisites: []string{"red_credential_dump"}},
			{ID: "red_escalate_privileges", Name: "Escalate to domain admin", Phase: PhaseEscalation, Team: domain.TeamRed, Required: true, Points: 180, Prerequisites: []string{"red_lateral_move"}},
			{ID: "red_persist_backdoor", Name: "Plant a persistence backdoor", Phase: PhaseEscalation, Team: domain.TeamRed, Required: false, Points: 120, Prerequisites: []string{"red_lateral_move"}},
			{ID: "blue_detect_anomaly", Name: "Detect anomalous activity", Phase: PhaseEscalation, Team: domain.TeamBlue, Required: true, Points: 140, Prerequisites: []string{"blue_monitor_traffic"}},
			{ID: "blue_isolate_host", Name: "Isolate the compromised host", Phase: PhaseEscalation, Team: domain.TeamBlue, Required: true, Points: 150, Prerequisites: []string{"blue_detect_anomaly"}},
			{ID: "blue_rotate_credentials", Name: "Rotate exposed credentials", Phase: PhaseEscalation, Team: domain.TeamBlue, Required: false, Points: 100, Prerequisites: []string{"blue_detect_anomaly"}},

			{ID: "red_exfiltrate_data", Name: "Exfiltrate staged data", Phase: PhaseImpactRecovery, Team: domain.TeamRed, Required: true, Points: 250, Prerequisites: []string{"red_escalate_privileges"}},
			{ID: "blue_forensic_analysis", Name: "Run forensic analysis", Phase: PhaseImpactRecovery, Team: domain.TeamBlue, Required: true, Points: 180, Prerequisites: []string{"blue_isolate_host"}},
			{ID: "blue_restore_backups", Name: "Restore from clean backups", Phase: PhaseImpactRecovery, Team: domain.TeamBlue, Required: true, Points: 200, Prerequisites: []string{"blue_forensic_analysis"}},
		},
		Tools: []domain.Tool{
			{ID: "nmap", Affinity: domain.ToolAffinityOffensive, Category: "reconnaissance", Cooldown: 60 * time.Second, BaseEffectiveness: 1.0, BaseTrace: 8, Observable: true, OptionalParams: []string{"ports"}},
			{ID: "masscan", Affinity: domain.ToolAffinityOffensive, Category: "scanning", Cooldown: 90 * time.Second, BaseEffectiveness: 1.1, BaseTrace: 12, Observable: true, RequiredParams: []string{"port_range"}},
			{ID: "metasploit", Affinity: domain.ToolAffinityOffensive, Category: "exploitation", Cooldown: 180 * time.Second, BaseEffectiveness: 0.9, BaseTrace: 20, Observable: true, RequiredParams: []string{"exploit", "payload"}},
			{ID: "hydra", Affinity: domain.ToolAffinityOffensive, Category: "credential_access", Cooldown: 120 * time.Second, BaseEffectiveness: 0.8, BaseTrace: 15, Observable: true, RequiredParams: []string{"wordlist"}},
			{ID: "mimikatz", Affinity: domain.ToolAffinityOffensive, Category: "credential_access", Cooldown: 150 * time.Second, BaseEffectiveness: 1.0, BaseTrace: 10, Observable: false},
			{ID: "psexec", Affinity: domain.ToolAffinityOffensive, Category: "lateral_movement", Cooldown: 120 * time.Second, BaseEffectiveness: 0.9, BaseTrace: 12, Observable: true},
			{ID: "implant_beacon", Affinity: domain.ToolAffinityOffensive, Category: "persistence", Cooldown: 240 * time.Second, BaseEffectiveness: 1.0, BaseTrace: 6, Observable: false},
			{ID: "exfil_tunnel", Affinity: domain.ToolAffinityOffensive, Category: "exfiltration", Cooldown: 300 * time.Second, BaseEffectiveness: 0.9, BaseTrace: 18, Observable: true, RequiredParams: []string{"destination"}},

			{ID: "ids_sweep", Affinity: domain.ToolAffinityDefensive, Category: "detection", Cooldown: 60 * time.Second, BaseEffectiveness: 1.0, Observable: true},
			{ID: "netflow_monitor", Affinity: domain.ToolAffinityDefensive, Category: "monitoring", Cooldown: 45 * time.Second, BaseEffectiveness: 1.0, Observable: false},
			{ID: "harden_config", Affinity: domain.ToolAffinityDefensive, Category: "hardening", Cooldown: 120 * time.Second, BaseEffectiveness: 1.0, Observable: false},
			{ID: "quarantine_host", Affinity: domain.ToolAffinityDefensive, Category: "containment", Cooldown: 90 * time.Second, BaseEffectiveness: 0.9, Observable: true, RequiredParams: []string{"host"}},
			{ID: "disk_forensics", Affinity: domain.ToolAffinityDefensive, Category: "forensics", Cooldown: 180 * time.Second, BaseEffectiveness: 0.9, Observable: false},
			{ID: "backup_restore", Affinity: domain.ToolAffinityDefensive, Category: "recovery", Cooldown: 240 * time.Second, BaseEffectiveness: 1.0, Observable: true, RequiredParams: []string{"snapshot"}},
		},
	}
}

type scenarioFile struct {
	Scenario struct {
		Name                 string `toml:"name"`
		RoundDurationMinutes int    `toml:"round_duration_minutes"`
	} `toml:"scenario"`
	Phases []struct {
		ID              string  `toml:"id"`
		Order           int     `toml:"order"`
		DurationMinutes int     `toml:"duration_minutes"`
		ScoreMultiplier float64 `toml:"score_multiplier"`
	} `toml:"phases"`
	Tasks []domain.TaskTemplate `toml:"tasks"`
	Tools []struct {
		ID                string   `toml:"id"`
		Affinity          string   `toml:"affinity"`
		Category          string   `toml:"category"`
		CooldownSeconds   int      `toml:"cooldown_seconds"`
		BaseEffectiveness float64  `toml:"base_effectiveness"`
		BaseTrace         int      `toml:"base_trace"`
		Observable        bool     `toml:"observable"`
		RequiredParams    []string `toml:"required_params"`
		OptionalParams    []string `toml:"optional_params"`
	} `toml:"tools"`
}

// Load reads a scenario override from a TOML file and validates it.
func Load(path string) (domain.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("read scenario file %s: %w", path, err)
	}
	var file scenarioFile
	if _, err := toml.Decode(string(raw), &file); err != nil {
		return domain.Scenario{}, fmt.Errorf("decode scenario file: %w", err)
	}

	scenario := domain.Scenario{
		Name:          file.Scenario.Name,
		RoundDuration: time.Duration(file.Scenario.RoundDurationMinutes) * time.Minute,
		Tasks:         file.Tasks,
	}
	for _, p := range file.Phases {
		scenario.Phases = append(scenario.Phases, domain.Phase{
			ID:              p.ID,
			Order:           p.Order,
			Duration:        time.Duration(p.DurationMinutes) * time.Minute,
			ScoreMultiplier: p.ScoreMultiplier,
		})
	}
	for _, t := range file.Tools {
		scenario.Tools = append(scenario.Tools, domain.Tool{
			ID:                t.ID,
			Affinity:          domain.ToolAffinity(t.Affinity),
			Category:          t.Category,
			Cooldown:          time.Duration(t.CooldownSeconds) * time.Second,
			BaseEffectiveness: t.BaseEffectiveness,
			BaseTrace:         t.BaseTrace,
			Observable:        t.Observable,
			RequiredParams:    t.RequiredParams,
			OptionalParams:    t.OptionalParams,
		})
	}
	if err := Validate(scenario); err != nil {
		return domain.Scenario{}, err
	}
	return scenario, nil
}

// Validate checks structural soundness: ordered phases, tasks referencing
// known phases, valid teams and a non-empty tool registry.
func Validate(s domain.Scenario) error {
	if len(s.Phases) == 0 {
		return fmt.Errorf("scenario has no phases")
	}
	if s.RoundDuration <= 0 {
		return fmt.Errorf("scenario round duration must be positive")
	}
	phaseIDs := make(map[string]bool, len(s.Phases))
	for i, p := range s.Phases {
		if p.ID == "" {
			return fmt.Errorf("phase %d has empty id", i)
		}
		if phaseIDs[p.ID] {
			return fmt.Errorf("duplicate phase id %s", p.ID)
		}
		phaseIDs[p.ID] = true
		if p.Duration <= 0 {
			return fmt.Errorf("phase %s has non-positive duration", p.ID)
		}
		if i > 0 && s.Phases[i-1].Order >= p.Order {
			return fmt.Errorf("phase %s breaks strict phase ordering", p.ID)
		}
	}
	if len(s.Tasks) == 0 {
		return fmt.Errorf("scenario has no tasks")
	}
	taskIDs := make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if taskIDs[t.ID] {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		taskIDs[t.ID] = true
		if !phaseIDs[t.Phase] {
			return fmt.Errorf("task %s references unknown phase %s", t.ID, t.Phase)
		}
		if t.Team != domain.TeamRed && t.Team != domain.TeamBlue {
			return fmt.Errorf("task %s has invalid team %q", t.ID, t.Team)
		}
	}
	if len(s.Tools) == 0 {
		return fmt.Errorf("scenario has no tools")
	}
	toolIDs := make(map[string]bool, len(s.Tools))
	for _, tool := range s.Tools {
		if tool.ID == "" {
			return fmt.Errorf("tool with empty id")
		}
		if toolIDs[tool.ID] {
			return fmt.Errorf("duplicate tool id %s", tool.ID)
		}
		toolIDs[tool.ID] = true
		if tool.Affinity != domain.ToolAffinityOffensive && tool.Affinity != domain.ToolAffinityDefensive {
			return fmt.Errorf("tool %s has invalid affinity %q", tool.ID, tool.Affinity)
		}
		if tool.Cooldown < 0 {
			return fmt.Errorf("tool %s has negative cooldown", tool.ID)
		}
	}
	return nil
}
