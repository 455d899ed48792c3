/*
Copyright 2024 Recurra Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package signature authenticates inbound processor webhooks. The processor
// signs the exact raw request bytes, so verification must run before any
// parsing or re-serialization of the payload.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureError is returned for any payload that cannot be authenticated:
// missing header, malformed header, stale timestamp, or digest mismatch.
type SignatureError struct {
	Reason string
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("invalid webhook signature: %s", e.Reason)
}

const (
	timestampPrefix = "t="
	schemePrefix    = "v1="
)

// Sign computes the signature header value for a payload at the given time.
// The signed message is "<unix timestamp>.<raw body>"; the result has the
// form "t=<unix>,v1=<hex hmac-sha256>". Used by tests and by outbound
// delivery tooling; the verifier accepts exactly this scheme.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("%s%d,%s%s", timestampPrefix, ts, schemePrefix, computeDigest(payload, secret, ts))
}

// Verify authenticates payload against the signature header and shared
// secret. Timestamps further than tolerance from now are rejected to limit
// replay. Multiple v1 entries are accepted (secret rotation); any one match
// passes. Comparison is constant time.
func Verify(payload []byte, header, secret string, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return SignatureError{Reason: "missing signature header"}
	}

	var ts int64
	var digests []string
	haveTimestamp := false
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, timestampPrefix):
			parsed, err := strconv.ParseInt(strings.TrimPrefix(part, timestampPrefix), 10, 64)
			if err != nil {
				return SignatureError{Reason: "malformed timestamp"}
			}
			ts = parsed
			haveTimestamp = true
		case strings.HasPrefix(part, schemePrefix):
			digests = append(digests, strings.TrimPrefix(part, schemePrefix))
		}
	}
	if !haveTimestamp {
		return SignatureError{Reason: "missing timestamp"}
	}
	if len(digests) == 0 {
		return SignatureError{Reason: "no v1 signature present"}
	}

	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return SignatureError{Reason: "timestamp outside tolerance"}
		}
	}

	expected := computeDigest(payload, secret, ts)
	for _, candidate := range digests {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return nil
		}
	}
	return SignatureError{Reason: "signature mismatch"}
}

func computeDigest(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
