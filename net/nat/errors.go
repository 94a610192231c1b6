// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package nat

import "errors"

var (
	// ErrTableFull is returned by TranslateOutbound when no inactive
	// session slot is available.
	ErrTableFull = errors.New("nat: table full")
	// ErrNoMatch is returned by TranslateInbound when no active session
	// matches the reply's 5-tuple.
	ErrNoMatch = errors.New("nat: no match")
)
