package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "loanai/internal/errors"
	"loanai/internal/models"
)

// ApplicationFile is the on-disk form accepted by the process command: an
// application plus optional precomputed branch analyses.
type ApplicationFile struct {
	models.Application `yaml:",inline"`

	Analyses map[models.Branch]*models.AnalysisResult `json:"analyses,omitempty" yaml:"analyses"`
}

// LoadApplicationFile reads a JSON or YAML application file. The format is
// chosen by extension; anything other than .yaml or .yml is read as JSON.
func LoadApplicationFile(path string) (*ApplicationFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrapf(err, "reading application file %s", path)
	}
	return ParseApplication(data, filepath.Ext(path))
}

// ParseApplication decodes an application document. ext selects the format.
func ParseApplication(data []byte, ext string) (*ApplicationFile, error) {
	var file ApplicationFile

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, apperrors.NewValidationError("application", nil, "invalid YAML: "+err.Error())
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&file); err != nil {
			return nil, apperrors.NewValidationError("application", nil, "invalid JSON: "+err.Error())
		}
	}

	for b, r := range file.Analyses {
		if !knownBranch(b) {
			return nil, apperrors.NewValidationError("analyses", b, "unknown branch")
		}
		if r == nil {
			return nil, apperrors.NewValidationError("analyses."+string(b), nil, "analysis is empty")
		}
		if err := r.Validate(); err != nil {
			return nil, apperrors.NewValidationError("analyses."+string(b), nil, err.Error())
		}
	}
	return &file, nil
}

func knownBranch(b models.Branch) bool {
	for _, known := range models.Branches {
		if b == known {
			return true
		}
	}
	return false
}
