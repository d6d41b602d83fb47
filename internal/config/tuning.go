package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is a pointer so that partial JSON configs are safe:
// omitted fields fall back to defaults via the Get* accessors.
type TuningConfig struct {
	// Selection gate (which anchors feed recalibration and confidence)
	SelectionWindowDB     *float64 `json:"selection_window_db,omitempty"`
	MaxSignificantAnchors *int     `json:"max_significant_anchors,omitempty"`
	EWMAThreshold         *float64 `json:"ewma_threshold,omitempty"`

	// Health gate (which anchors get their reliability updated)
	DeltaRDB    *float64 `json:"delta_r_db,omitempty"`
	TVisSeconds *float64 `json:"t_vis_seconds,omitempty"`
	EWMALambda  *float64 `json:"ewma_lambda,omitempty"`

	// Path-loss model
	PathLossD0    *float64 `json:"path_loss_d0,omitempty"`
	PathLossSigma *float64 `json:"path_loss_sigma,omitempty"`

	// Confidence model
	StudentTDOF     *float64 `json:"student_t_dof,omitempty"`
	ConfidenceScale *float64 `json:"confidence_scale,omitempty"`

	// Confidence -> error radius curve as [confidence, radius_m] pairs,
	// confidence strictly increasing, radius strictly decreasing.
	CEP95Table [][2]float64 `json:"cep95_table,omitempty"`

	// Runner params
	StaleAfter *string `json:"stale_after,omitempty"` // duration string like "15m"

	// Anchor directory service (bootstrap position lookup)
	DirectoryBaseURL  *string `json:"directory_base_url,omitempty"`
	DirectoryUsername *string `json:"directory_username,omitempty"`
	DirectoryPassword *string `json:"directory_password,omitempty"`
	DirectoryTimeout  *string `json:"directory_timeout,omitempty"` // duration string like "30s"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under
// the max file size. Fields omitted from the JSON file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory
// and common parent directories. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/<pkg>/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SelectionWindowDB != nil && *c.SelectionWindowDB <= 0 {
		return fmt.Errorf("selection_window_db must be positive, got %f", *c.SelectionWindowDB)
	}
	if c.MaxSignificantAnchors != nil && *c.MaxSignificantAnchors < 1 {
		return fmt.Errorf("max_significant_anchors must be at least 1, got %d", *c.MaxSignificantAnchors)
	}
	if c.EWMALambda != nil {
		if *c.EWMALambda <= 0 || *c.EWMALambda > 1 {
			return fmt.Errorf("ewma_lambda must be in (0, 1], got %f", *c.EWMALambda)
		}
	}
	if c.PathLossD0 != nil && *c.PathLossD0 <= 0 {
		return fmt.Errorf("path_loss_d0 must be positive, got %f", *c.PathLossD0)
	}
	if c.PathLossSigma != nil && *c.PathLossSigma <= 0 {
		return fmt.Errorf("path_loss_sigma must be positive, got %f", *c.PathLossSigma)
	}
	if c.StudentTDOF != nil && *c.StudentTDOF <= 0 {
		return fmt.Errorf("student_t_dof must be positive, got %f", *c.StudentTDOF)
	}
	if c.ConfidenceScale != nil && *c.ConfidenceScale <= 0 {
		return fmt.Errorf("confidence_scale must be positive, got %f", *c.ConfidenceScale)
	}
	if len(c.CEP95Table) == 1 {
		return fmt.Errorf("cep95_table needs at least 2 entries, got %d", len(c.CEP95Table))
	}
	for i := 1; i < len(c.CEP95Table); i++ {
		prev, cur := c.CEP95Table[i-1], c.CEP95Table[i]
		if cur[0] <= prev[0] {
			return fmt.Errorf("cep95_table confidence must be strictly increasing at index %d", i)
		}
		if cur[1] >= prev[1] {
			return fmt.Errorf("cep95_table radius must be strictly decreasing at index %d", i)
		}
	}
	if c.StaleAfter != nil && *c.StaleAfter != "" {
		if _, err := time.ParseDuration(*c.StaleAfter); err != nil {
			return fmt.Errorf("invalid stale_after '%s': %w", *c.StaleAfter, err)
		}
	}
	if c.DirectoryTimeout != nil && *c.DirectoryTimeout != "" {
		if _, err := time.ParseDuration(*c.DirectoryTimeout); err != nil {
			return fmt.Errorf("invalid directory_timeout '%s': %w", *c.DirectoryTimeout, err)
		}
	}
	return nil
}

// GetSelectionWindowDB returns the selection gate width (dB below the
// strongest reading in a message) or the default.
func (c *TuningConfig) GetSelectionWindowDB() float64 {
	if c.SelectionWindowDB == nil {
		return 10.0 // default
	}
	return *c.SelectionWindowDB
}

// GetMaxSignificantAnchors returns the maximum significant set size.
func (c *TuningConfig) GetMaxSignificantAnchors() int {
	if c.MaxSignificantAnchors == nil {
		return 5 // default
	}
	return *c.MaxSignificantAnchors
}

// GetEWMAThreshold returns the reliability cutoff for selection.
func (c *TuningConfig) GetEWMAThreshold() float64 {
	if c.EWMAThreshold == nil {
		return 8.0 // default
	}
	return *c.EWMAThreshold
}

// GetDeltaRDB returns the health-update signal gate width. Note this is
// deliberately tighter than the selection window.
func (c *TuningConfig) GetDeltaRDB() float64 {
	if c.DeltaRDB == nil {
		return 7.0 // default
	}
	return *c.DeltaRDB
}

// GetTVis returns the health-update visibility window.
func (c *TuningConfig) GetTVis() time.Duration {
	if c.TVisSeconds == nil {
		return 6000 * time.Second // default
	}
	return time.Duration(*c.TVisSeconds * float64(time.Second))
}

// GetEWMALambda returns the reliability EWMA decay factor.
func (c *TuningConfig) GetEWMALambda() float64 {
	if c.EWMALambda == nil {
		return 0.05 // default
	}
	return *c.EWMALambda
}

// GetPathLossD0 returns the path-loss reference distance in metres.
func (c *TuningConfig) GetPathLossD0() float64 {
	if c.PathLossD0 == nil {
		return 1.0 // default
	}
	return *c.PathLossD0
}

// GetPathLossSigma returns the shadowing noise scale in dB.
func (c *TuningConfig) GetPathLossSigma() float64 {
	if c.PathLossSigma == nil {
		return 4.0 // default
	}
	return *c.PathLossSigma
}

// GetStudentTDOF returns the Student-t degrees of freedom for the
// confidence model.
func (c *TuningConfig) GetStudentTDOF() float64 {
	if c.StudentTDOF == nil {
		return 5.0 // default
	}
	return *c.StudentTDOF
}

// GetConfidenceScale returns the log-density to confidence scale.
func (c *TuningConfig) GetConfidenceScale() float64 {
	if c.ConfidenceScale == nil {
		return 2.0 // default
	}
	return *c.ConfidenceScale
}

// GetCEP95Table returns the confidence -> radius pairs, or the default
// curve from the site survey.
func (c *TuningConfig) GetCEP95Table() [][2]float64 {
	if len(c.CEP95Table) == 0 {
		return [][2]float64{{0.05, 7.4}, {0.17, 6.1}, {0.43, 4.3}, {0.80, 2.5}} // default
	}
	return c.CEP95Table
}

// GetStaleAfter returns how old a position message may be before the
// runner drops it.
func (c *TuningConfig) GetStaleAfter() time.Duration {
	if c.StaleAfter == nil || *c.StaleAfter == "" {
		return 15 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.StaleAfter)
	if err != nil {
		return 15 * time.Minute // default on parse error
	}
	return d
}

// GetDirectoryBaseURL returns the anchor directory endpoint.
func (c *TuningConfig) GetDirectoryBaseURL() string {
	if c.DirectoryBaseURL == nil {
		return "http://localhost:8087/confv1/api" // default
	}
	return *c.DirectoryBaseURL
}

// GetDirectoryUsername returns the directory basic-auth user.
func (c *TuningConfig) GetDirectoryUsername() string {
	if c.DirectoryUsername == nil {
		return ""
	}
	return *c.DirectoryUsername
}

// GetDirectoryPassword returns the directory basic-auth password.
func (c *TuningConfig) GetDirectoryPassword() string {
	if c.DirectoryPassword == nil {
		return ""
	}
	return *c.DirectoryPassword
}

// GetDirectoryTimeout returns the per-lookup HTTP timeout.
func (c *TuningConfig) GetDirectoryTimeout() time.Duration {
	if c.DirectoryTimeout == nil || *c.DirectoryTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.DirectoryTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}
