// Package checkpoint serializes SavedWorkflow snapshots in a versioned,
// schema-checked envelope so a run can resume in another process or release.
package checkpoint

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/orchestron/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Version is the envelope version written by Encode.
const Version = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	ErrInvalidCheckpoint  = errors.New("invalid checkpoint")
)

//go:embed schema.json
var schemaJSON string

var envelopeSchema = mustCompile(schemaJSON)

type envelope struct {
	Version    int                   `json:"version"`
	Checkpoint *models.SavedWorkflow `json:"checkpoint"`
}

func mustCompile(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("checkpoint schema does not compile: %v", err))
	}

	return schema
}

func Encode(saved *models.SavedWorkflow) ([]byte, error) {
	if saved == nil {
		return nil, fmt.Errorf("%w: nil checkpoint", ErrInvalidCheckpoint)
	}

	data, err := json.Marshal(envelope{Version: Version, Checkpoint: saved})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return data, nil
}

// Decode checks the version first, then the schema, then unmarshals.
func Decode(data []byte) (*models.SavedWorkflow, error) {
	var header struct {
		Version int `json:"version"`
	}

	err := json.Unmarshal(data, &header)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	if header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	}

	result, err := envelopeSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidCheckpoint, strings.Join(problems, "; "))
	}

	var decoded envelope

	err = json.Unmarshal(data, &decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	if decoded.Checkpoint.Accumulator == nil {
		decoded.Checkpoint.Accumulator = map[string]any{}
	}

	if decoded.Checkpoint.AppInstances == nil {
		decoded.Checkpoint.AppInstances = map[string]any{}
	}

	return decoded.Checkpoint, nil
}
