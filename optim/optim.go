// Copyright 2025 Spread ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides gradient-based parameter update rules.
package optim

import (
	"github.com/spread-ml/spread/internal/nn"
	"github.com/spread-ml/spread/internal/optim"
	"github.com/spread-ml/spread/tensor"
)

// Optimizer is the interface implemented by all update rules.
type Optimizer = optim.Optimizer

// SGD is stochastic gradient descent with optional momentum.
type SGD[B tensor.Backend] = optim.SGD[B]

// SGDConfig holds SGD hyperparameters.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	return optim.NewSGD(params, config)
}
