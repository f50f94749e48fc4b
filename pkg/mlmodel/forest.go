// Copyright (C) 2025 PulmoLabs (engineering@pulmolabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mlmodel

import (
	"fmt"

	"github.com/pulmolabs/pulmoserve/pkg/features"
)

// leafNode marks a node with no split.
const leafNode = -1

// TreeNode is one node of a decision tree in the flat-array layout the
// training export uses. Internal nodes route on Feature <= Threshold;
// leaves carry the class probability distribution observed at training
// time.
type TreeNode struct {
	// Feature is the column index to split on, or leafNode (-1) for a leaf.
	Feature int `json:"feature"`

	// Threshold is the split value; samples with column value <= Threshold
	// descend Left, the rest Right. Unused on leaves.
	Threshold float64 `json:"threshold"`

	// Left and Right are child indexes into the tree's node array.
	// Unused on leaves.
	Left  int `json:"left"`
	Right int `json:"right"`

	// Dist is the leaf class distribution [P(negative), P(positive)].
	// Empty on internal nodes.
	Dist []float64 `json:"dist,omitempty"`
}

// Tree is one estimator of the forest.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// eval walks the tree from the root and returns the leaf distribution.
func (t *Tree) eval(v features.FeatureVector) ([]float64, error) {
	idx := 0
	// A finite tree is never deeper than its node count; anything longer
	// means a cycle in a corrupt artifact.
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if idx < 0 || idx >= len(t.Nodes) {
			return nil, fmt.Errorf("node index %d out of range (%d nodes)", idx, len(t.Nodes))
		}
		n := &t.Nodes[idx]
		if n.Feature == leafNode {
			if len(n.Dist) != 2 {
				return nil, fmt.Errorf("leaf %d has %d classes, want 2", idx, len(n.Dist))
			}
			return n.Dist, nil
		}
		if n.Feature < 0 || n.Feature >= features.VectorSize {
			return nil, fmt.Errorf("node %d splits on feature %d, want [0,%d)", idx, n.Feature, features.VectorSize)
		}
		if v.At(n.Feature) <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return nil, fmt.Errorf("cycle detected after %d steps", len(t.Nodes))
}

// Forest is a random-forest classifier: the prediction averages the leaf
// distributions of all trees and takes the majority class.
type Forest struct {
	Version string `json:"version"`
	Trees   []Tree `json:"trees"`
}

var _ Model = (*Forest)(nil)

// Predict implements Model.
func (f *Forest) Predict(v features.FeatureVector) (int, error) {
	probs, err := f.PredictProba(v)
	if err != nil {
		return 0, err
	}
	if probs[LabelPositive] >= 0.5 {
		return LabelPositive, nil
	}
	return LabelNegative, nil
}

// PredictProba implements Model.
func (f *Forest) PredictProba(v features.FeatureVector) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, fmt.Errorf("forest has no trees")
	}
	sum := []float64{0, 0}
	for i := range f.Trees {
		dist, err := f.Trees[i].eval(v)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		sum[0] += dist[0]
		sum[1] += dist[1]
	}
	n := float64(len(f.Trees))
	return []float64{sum[0] / n, sum[1] / n}, nil
}

// Clone implements Model with a full deep copy of the node arrays.
func (f *Forest) Clone() (Model, error) {
	cp := &Forest{
		Version: f.Version,
		Trees:   make([]Tree, len(f.Trees)),
	}
	for i, t := range f.Trees {
		nodes := make([]TreeNode, len(t.Nodes))
		for j, n := range t.Nodes {
			nodes[j] = n
			if n.Dist != nil {
				nodes[j].Dist = append([]float64(nil), n.Dist...)
			}
		}
		cp.Trees[i] = Tree{Nodes: nodes}
	}
	return cp, nil
}

// Info implements Model.
func (f *Forest) Info() Info {
	return Info{Family: "forest", Version: f.Version, NumFeatures: features.VectorSize}
}

// validate checks structural integrity at load time so that serving never
// trips over a corrupt artifact mid-request.
func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for i, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", i)
		}
		for j, n := range t.Nodes {
			if n.Feature == leafNode {
				if len(n.Dist) != 2 {
					return fmt.Errorf("tree %d leaf %d has %d classes, want 2", i, j, len(n.Dist))
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= features.VectorSize {
				return fmt.Errorf("tree %d node %d splits on feature %d", i, j, n.Feature)
			}
			if n.Left <= j || n.Right <= j || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children (%d, %d)", i, j, n.Left, n.Right)
			}
		}
	}
	return nil
}
