package pipeline

import (
	"time"

	"github.com/ternarybob/pagemill/internal/common"
	"github.com/ternarybob/pagemill/internal/models"
)

// phaseOrder is the fixed linear build chain. Phases are hardcoded, not
// user-defined; there is no workflow DSL here.
var phaseOrder = []models.Phase{
	models.PhaseResearch,
	models.PhaseArchitecture,
	models.PhaseContent,
	models.PhaseElementor,
	models.PhaseLinking,
}

// NextPhase returns the phase after p, or false when p is the last build
// phase (or unknown).
func NextPhase(p models.Phase) (models.Phase, bool) {
	for i, phase := range phaseOrder {
		if phase == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1], true
		}
	}
	return "", false
}

// Delays holds the resolved inter-stage timing values. The increasing gaps
// between build phases give upstream artifacts time to settle before the
// next phase consumes them.
type Delays struct {
	Architecture    time.Duration
	Content         time.Duration
	Elementor       time.Duration
	Linking         time.Duration
	PublishStagger  time.Duration
	IndexToMonitor  time.Duration
	MonitorInterval time.Duration
}

// DelaysFromConfig parses the pipeline config into concrete durations.
func DelaysFromConfig(cfg common.PipelineConfig) Delays {
	return Delays{
		Architecture:    common.Duration(cfg.ArchitectureDelay, 30*time.Second),
		Content:         common.Duration(cfg.ContentDelay, 120*time.Second),
		Elementor:       common.Duration(cfg.ElementorDelay, 300*time.Second),
		Linking:         common.Duration(cfg.LinkingDelay, 600*time.Second),
		PublishStagger:  common.Duration(cfg.PublishStagger, 2*time.Second),
		IndexToMonitor:  common.Duration(cfg.IndexToMonitorDelay, 60*time.Second),
		MonitorInterval: common.Duration(cfg.MonitorInterval, 24*time.Hour),
	}
}

// PhaseDelay returns how long to wait before dispatching the given phase.
func (d Delays) PhaseDelay(next models.Phase) time.Duration {
	switch next {
	case models.PhaseArchitecture:
		return d.Architecture
	case models.PhaseContent:
		return d.Content
	case models.PhaseElementor:
		return d.Elementor
	case models.PhaseLinking:
		return d.Linking
	default:
		return 0
	}
}
