// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package rt

func apply(s Settings) error {
	return ErrUnsupported
}
