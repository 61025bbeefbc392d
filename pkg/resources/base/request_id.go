// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package base

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Token operations carried in a RequestID.
const (
	tokenCreate      = "create"
	tokenDelete      = "delete"
	tokenDeleteRetry = "delete-retry"
)

// OperationToken is the bookkeeping of an operation in flight. The plugin
// keeps no state between calls, so it travels through formae as the
// RequestID of an InProgress result and comes back on the next Status call.
type OperationToken struct {
	Operation string
	RemoteID  string
	JobID     string
	// Attempt counts deletes deferred on an in-use conflict.
	Attempt int
	// NotBefore holds back a deferred delete until the retry wait has passed.
	NotBefore time.Time
	Fallback  bool
}

// Encode renders the token as a RequestID.
func (t OperationToken) Encode() string {
	v := url.Values{}
	v.Set("op", t.Operation)
	v.Set("id", t.RemoteID)
	if t.JobID != "" {
		v.Set("job", t.JobID)
	}
	if t.Attempt > 0 {
		v.Set("attempt", strconv.Itoa(t.Attempt))
	}
	if !t.NotBefore.IsZero() {
		v.Set("after", strconv.FormatInt(t.NotBefore.Unix(), 10))
	}
	if t.Fallback {
		v.Set("fallback", "1")
	}
	return v.Encode()
}

// ParseToken is the inverse of Encode.
func ParseToken(requestID string) (OperationToken, error) {
	v, err := url.ParseQuery(requestID)
	if err != nil {
		return OperationToken{}, fmt.Errorf("malformed request id %q: %w", requestID, err)
	}

	t := OperationToken{
		Operation: v.Get("op"),
		RemoteID:  v.Get("id"),
		JobID:     v.Get("job"),
		Fallback:  v.Get("fallback") == "1",
	}
	switch t.Operation {
	case tokenCreate, tokenDelete, tokenDeleteRetry:
	default:
		return OperationToken{}, fmt.Errorf("request id %q names no known operation", requestID)
	}
	if s := v.Get("attempt"); s != "" {
		if t.Attempt, err = strconv.Atoi(s); err != nil {
			return OperationToken{}, fmt.Errorf("malformed attempt in request id: %w", err)
		}
	}
	if s := v.Get("after"); s != "" {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return OperationToken{}, fmt.Errorf("malformed retry time in request id: %w", err)
		}
		t.NotBefore = time.Unix(sec, 0)
	}
	return t, nil
}
