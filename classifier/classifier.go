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

// Package classifier maps adapter exit codes and message substrings to
// three dispositions: success-equivalent (for transfers or deletions),
// irrecoverable, and retryable.
package classifier

import "strings"

// Disposition is the outcome the classifier assigns to a completed adapter
// call.
type Disposition int

const (
	Retryable Disposition = iota
	Irrecoverable
	SuccessEquivalentTransfer
	SuccessEquivalentDeletion
)

// known POSIX/GFAL2 exit codes this daemon cares about.
const (
	EEXIST = 17
	ENOENT = 2
	EACCES = 13
	EPERM  = 1
)

// Dispositions is the static exit-code table. It is a var, not a const, so
// operators can extend it for site-specific irrecoverable codes without a
// code change.
var Dispositions = map[int]Disposition{
	EEXIST: SuccessEquivalentTransfer,
	ENOENT: SuccessEquivalentDeletion,
	EACCES: Irrecoverable,
	EPERM:  Irrecoverable,
}

// MessagePattern is one entry of the data-driven message-substring table.
// The pattern, not the raw exit code, wins when both match a result.
type MessagePattern struct {
	Substring   string
	Disposition Disposition
}

// MessagePatterns is the default message-substring table. Operators may
// replace it wholesale (e.g. after loading site-specific patterns from
// config) before the daemon starts classifying results.
var MessagePatterns = []MessagePattern{
	{Substring: "file exists", Disposition: SuccessEquivalentTransfer},
	{Substring: "destination already exists", Disposition: SuccessEquivalentTransfer},
	{Substring: "no such file or directory", Disposition: SuccessEquivalentDeletion},
	{Substring: "target file does not exist", Disposition: SuccessEquivalentDeletion},
	{Substring: "permission denied", Disposition: Irrecoverable},
	{Substring: "authentication failed", Disposition: Irrecoverable},
	{Substring: "invalid url", Disposition: Irrecoverable},
	{Substring: "bad url", Disposition: Irrecoverable},
}

// Classify assigns a disposition to an adapter result. The message-substring
// table is consulted first; a match there overrides the numeric exit-code
// table. A result with ExitCode 0 never reaches this function in normal use
// (callers treat 0 as success directly); exit code 0 has no entry in
// Dispositions, so without a matching message it is reported as Retryable.
func Classify(exitCode int, message string) Disposition {
	lower := strings.ToLower(message)
	for _, pattern := range MessagePatterns {
		if strings.Contains(lower, pattern.Substring) {
			return pattern.Disposition
		}
	}
	if d, found := Dispositions[exitCode]; found {
		return d
	}
	return Retryable
}
