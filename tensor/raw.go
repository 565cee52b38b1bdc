// Copyright 2025 Spread ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/spread-ml/spread/internal/tensor"
)

// RawTensor is the low-level untyped tensor representation.
//
// RawTensor carries shape, dtype, and device metadata plus a
// reference-counted data buffer. Backends and the autodiff tape operate
// on RawTensors; most users should use the typed Tensor[T, B] instead.
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
type RawTensor = tensor.RawTensor
