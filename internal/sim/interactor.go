// Package sim is the in-process system interactor: it applies the simulated
// domain effect of each tool category against a target environment. The
// category set is closed and dispatched through a single method.
package sim

import (
	"fmt"

	"cyber_range/internal/domain"
)

// Per-category effectiveness floor below which the simulated action fails.
// Failure here is a normal game outcome, not an error.
var successThresholds = map[string]float64{
	"reconnaissance":    0.3,
	"scanning":          0.4,
	"exploitation":      0.8,
	"credential_access": 0.7,
	"lateral_movement":  0.75,
	"persistence":       0.6,
	"exfiltration":      0.7,
	"detection":         0.5,
	"monitoring":        0.3,
	"hardening":         0.4,
	"containment":       0.6,
	"forensics":         0.5,
	"recovery":          0.5,
}

type Interactor struct{}

func New() *Interactor {
	return &Interactor{}
}

// Apply runs the simulated effect for one category. Unknown categories are
// an integration error and surface as an error to the pipeline boundary.
func (i *Interactor) Apply(category string, target string, ctx domain.EffectContext) (domain.EffectResult, error) {
	threshold, ok := successThresholds[category]
	if !ok {
		return domain.EffectResult{}, fmt.Errorf("no effect handler for category %s", category)
	}

	if ctx.Effectiveness < threshold {
		return domain.EffectResult{
			Success: false,
			Output:  fmt.Sprintf("%s against %s failed (effectiveness %.2f below %.2f)", category, target, ctx.Effectiveness, threshold),
			Metadata: map[string]any{
				"category":  category,
				"threshold": threshold,
			},
		}, nil
	}

	return domain.EffectResult{
		Success:            true,
		Output:             successOutput(category, target),
		SystemStateChanges: stateChanges(category, target),
		Metadata: map[string]any{
			"category":  category,
			"threshold": threshold,
		},
	}, nil
}

func successOutput(category, target string) string {
	switch category {
	case "reconnaissance":
		return fmt.Sprintf("network reconnaissance of %s mapped the target segment", target)
	case "scanning":
		return fmt.Sprintf("service scan of %s enumerated open ports and versions", target)
	case "exploitation":
		return fmt.Sprintf("exploit against %s landed, shell access obtained", target)
	case "credential_access":
		return fmt.Sprintf("credential material harvested from %s", target)
	case "lateral_movement":
		return fmt.Sprintf("pivoted through %s into the adjacent segment", target)
	case "persistence":
		return fmt.Sprintf("persistence mechanism planted on %s", target)
	case "exfiltration":
		return fmt.Sprintf("staged data exfiltrated from %s", target)
	case "detection":
		return fmt.Sprintf("anomalous activity on %s flagged by detection rules", target)
	case "monitoring":
		return fmt.Sprintf("traffic baseline established for %s", target)
	case "hardening":
		return fmt.Sprintf("%s hardened, attack surface reduced", target)
	case "containment":
		return fmt.Sprintf("%s isolated from the network", target)
	case "forensics":
		return fmt.Sprintf("forensic timeline reconstructed for %s", target)
	case "recovery":
		return fmt.Sprintf("%s restored from known-good state", target)
	default:
		return fmt.Sprintf("%s effect applied to %s", category, target)
	}
}

func stateChanges(category, target string) map[string]any {
	switch category {
	case "reconnaissance":
		return map[string]any{"network_mapped": true}
	case "scanning":
		return map[string]any{"services_enumerated": target}
	case "exploitation":
		return map[string]any{"shell_access": target}
	case "credential_access":
		return map[string]any{"credentials_compromised": true}
	case "lateral_movement":
		return map[string]any{"foothold": target}
	case "persistence":
		return map[string]any{"backdoor_present": target}
	case "exfiltration":
		return map[string]any{"data_exfiltrated": true}
	case "detection":
		return map[string]any{"intrusion_detected": true}
	case "monitoring":
		return map[string]any{"monitoring_active": true}
	case "hardening":
		return map[string]any{"target_hardened": target}
	case "containment":
		return map[string]any{"host_isolated": target}
	case "forensics":
		return map[string]any{"evidence_collected": target}
	case "recovery":
		return map[string]any{"systems_restored": target}
	default:
		return nil
	}
}
