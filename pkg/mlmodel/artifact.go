// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mlmodel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pulmolabs/pulmoserve/pkg/features"
)

// artifactSchemaVersion is the export format this build understands.
const artifactSchemaVersion = 1

// artifact mirrors the JSON layout written by the training pipeline's
// export step. Exactly one of Forest or Linear is set, matching Family.
type artifact struct {
	SchemaVersion int       `json:"schema_version"`
	Family        string    `json:"family"`
	Features      []string  `json:"features"`
	Forest        *Forest   `json:"forest,omitempty"`
	Linear        *Logistic `json:"linear,omitempty"`
}

// Load reads a model artifact from disk and returns the ready-to-serve
// model. The feature column list embedded in the artifact is checked
// against features.FeatureNames so a stale export fails at startup, not
// per request.
func Load(path string) (Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact %s: %w", path, err)
	}
	if a.SchemaVersion != artifactSchemaVersion {
		return nil, fmt.Errorf("artifact %s has schema_version %d, this build supports %d",
			path, a.SchemaVersion, artifactSchemaVersion)
	}
	if err := checkFeatureContract(a.Features); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}

	switch a.Family {
	case "forest":
		if a.Forest == nil {
			return nil, fmt.Errorf("artifact %s declares family forest but carries no forest", path)
		}
		if err := a.Forest.validate(); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", path, err)
		}
		return a.Forest, nil
	case "linear":
		if a.Linear == nil {
			return nil, fmt.Errorf("artifact %s declares family linear but carries no linear model", path)
		}
		if err := a.Linear.validate(); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", path, err)
		}
		return a.Linear, nil
	default:
		return nil, fmt.Errorf("artifact %s has unsupported family %q", path, a.Family)
	}
}

// checkFeatureContract verifies the artifact was trained against the same
// feature expansion this binary implements, column for column.
func checkFeatureContract(names []string) error {
	if len(names) != features.VectorSize {
		return fmt.Errorf("artifact expects %d features, this build expands %d", len(names), features.VectorSize)
	}
	for i, name := range names {
		if name != features.FeatureNames[i] {
			return fmt.Errorf("feature column %d is %q, this build expands %q", i, name, features.FeatureNames[i])
		}
	}
	return nil
}
