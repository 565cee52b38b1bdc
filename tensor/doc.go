// Copyright 2025 Spread ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides type-safe tensor operations for the Spread framework.
//
// # Overview
//
// Tensors are the data structure everything else builds on. This package
// provides:
//   - Generic type-safe tensors (Tensor[T, B])
//   - NumPy-style broadcasting
//   - Copy-on-write buffers with reference counting
//   - A Backend interface that compute devices implement
//
// # Basic Usage
//
//	import (
//	    "github.com/spread-ml/spread/backend/cpu"
//	    "github.com/spread-ml/spread/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	    y := tensor.Ones[float32](tensor.Shape{2, 3}, backend)
//
//	    z := x.Add(y)
//	    fmt.Println(z.Data())
//	}
//
// # Autodiff
//
// Wrap any backend with autodiff.New to record operations on a gradient
// tape; see the autodiff package.
package tensor
