// Copyright (c) 2025, the dionysus contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed covers transport errors and unexpected HTTP statuses.
	ErrRequestFailed = errors.New("request failed")
	// ErrDecodeFailed means the response body did not match the expected schema.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrNotAuthenticated means a token was required but none is configured.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError describes a failed upstream call.
// It matches its Kind sentinel with errors.Is so callers can branch on the
// taxonomy without caring about status codes.
type APIError struct {
	Kind       error
	Op         string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Kind == nil || t.Kind == e.Kind
}

// RequestFailed builds an ErrRequestFailed error for op.
func RequestFailed(op string, status int, err error) error {
	return &APIError{Kind: ErrRequestFailed, Op: op, StatusCode: status, Err: err}
}

// DecodeFailed builds an ErrDecodeFailed error for op.
func DecodeFailed(op string, err error) error {
	return &APIError{Kind: ErrDecodeFailed, Op: op, Err: err}
}

// NotAuthenticated builds an ErrNotAuthenticated error for op.
func NotAuthenticated(op string) error {
	return &APIError{Kind: ErrNotAuthenticated, Op: op}
}

// StatusCode extracts the upstream HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
