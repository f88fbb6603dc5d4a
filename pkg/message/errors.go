// Copyright (c) 2025 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package message

import "errors"

// Error kinds. Every error returned by the AS2 components wraps exactly one.
var (
	// ErrConfiguration is returned for unknown algorithms, missing parties
	// and other setup problems. Never retried automatically.
	ErrConfiguration = errors.New("configuration error")
	// ErrPolicyViolation is returned when a transfer breaks party policy,
	// for example a required security layer is missing.
	ErrPolicyViolation = errors.New("policy violation")
	// ErrIntegrity is returned for invalid signatures and signer mismatches.
	ErrIntegrity = errors.New("integrity error")
	// ErrCorrelation is returned when an MDN cannot be matched to a
	// pending message.
	ErrCorrelation = errors.New("correlation error")
	// ErrTransport wraps failures of the transport collaborator.
	ErrTransport = errors.New("transport error")
)

var kinds = []error{
	ErrConfiguration,
	ErrPolicyViolation,
	ErrIntegrity,
	ErrCorrelation,
	ErrTransport,
}

// KindOf returns the error kind wrapped by err, or nil if err carries none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short label for the kind of err, suitable for logs and
// audit records.
func KindName(err error) string {
	switch KindOf(err) {
	case ErrConfiguration:
		return "configuration"
	case ErrPolicyViolation:
		return "policy"
	case ErrIntegrity:
		return "integrity"
	case ErrCorrelation:
		return "correlation"
	case ErrTransport:
		return "transport"
	}
	if err == nil {
		return ""
	}
	return "internal"
}
