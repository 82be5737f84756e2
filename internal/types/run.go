package types

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a pipeline run state.
type Stage int

const (
	StageUploaded Stage = iota
	StageAnalyzed
	StageConfigured
	StageConverting
	StageExported
	StageFailed
)

var stageNames = [...]string{"uploaded", "analyzed", "configured", "converting", "exported", "failed"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Terminal reports whether no forward transition leaves s.
func (s Stage) Terminal() bool { return s == StageExported || s == StageFailed }

// ParseStage accepts the names returned by Stage.String.
func ParseStage(v string) (Stage, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown stage %q", ErrInput, v)
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PipelineRun is one migration session. It is owned by a single controller
// and never mutated concurrently.
type PipelineRun struct {
	ID                string             `json:"id"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	Stage             Stage              `json:"stage"`
	Source            *SourceFileSet     `json:"-"`
	DetectedAssets    []DetectedAsset    `json:"detectedAssets"`
	Options           *MigrationOptions  `json:"options,omitempty"`
	// ConversionResults holds one route result per selected handler.
	ConversionResults []ConversionResult `json:"conversionResults"`
	MiddlewareResults []ConversionResult `json:"middlewareResults,omitempty"`
	Conversion        *PartialResult     `json:"-"`
	Output            *OutputFileSet     `json:"-"`
	Warnings          []string           `json:"warnings,omitempty"`
	LastError         string             `json:"lastError,omitempty"`
	LastTransfer      *TransferSummary   `json:"lastTransfer,omitempty"`
}
