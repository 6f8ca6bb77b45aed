// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package adapter

import "strings"

// MaxAttempts is the bounded retry count for a single adapter invocation.
// Each attempt independently captures its own start/finish time and log
// rather than reusing loop-local state from a prior attempt.
const MaxAttempts = 5

// IrrecoverableChecker reports whether calling code should stop retrying a given
// result immediately rather than spending the remainder of MaxAttempts.
// This is distinct from classifier.Classify, which maps a *final* result to
// a task disposition -- this check only short-circuits the adapter's own
// internal retry loop on errors that are unambiguously not transient
// (authentication/permission/bad-URL failures embedded in the message).
type IrrecoverableChecker func(Result) bool

// defaultIrrecoverable recognizes the small set of substrings that indicate
// a retry can never succeed, independent of the full classifier table (which
// lives in the classifier package to avoid an import cycle and to stay
// independently configurable).
func defaultIrrecoverable(r Result) bool {
	msg := strings.ToLower(r.Message)
	for _, s := range []string{"permission denied", "authentication failed", "invalid url", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs call up to MaxAttempts times, stopping early once call
// succeeds (ExitCode == 0) or once irrecoverable(result) reports true. The
// log buffers of every attempt are concatenated in order so a caller can see
// the full retry history of a failed operation.
func withRetry(call func(attempt int) Result, irrecoverable IrrecoverableChecker) Result {
	if irrecoverable == nil {
		irrecoverable = defaultIrrecoverable
	}
	var combinedLog strings.Builder
	var last Result
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		last = call(attempt)
		combinedLog.WriteString(last.Log)
		if last.ExitCode == 0 || irrecoverable(last) {
			break
		}
	}
	last.Log = combinedLog.String()
	return last
}
