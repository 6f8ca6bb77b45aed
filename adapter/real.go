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

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RealAdapter shells out to the gfal2 command-line suite (gfal-copy,
// gfal-stat, gfal-rm, gfal-legacy-bringonline), the same tools a grid site's
// fileop daemon drives in production. There is no maintained pure-Go GFAL2
// binding, so the CLI is wrapped behind a single low-level `run` primitive
// that every public method calls through.
type RealAdapter struct {
	// Verbosity is passed to gfal2 tools via -v, e.g. "normal" or "debug".
	Verbosity string
	// Env, if non-nil, overrides the child process environment (used to
	// inject X509_USER_PROXY before a staging pass).
	Env []string
}

var _ GridIO = (*RealAdapter)(nil)

// run executes a single gfal2 command-line invocation, capturing its output
// as the call's log buffer.
func (a *RealAdapter) run(ctx context.Context, name string, args ...string) Result {
	start := time.Now()
	if a.Verbosity != "" {
		args = append([]string{"-v", a.Verbosity}, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	if a.Env != nil {
		cmd.Env = a.Env
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	finish := time.Now()

	exitCode := 0
	message := ""
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		message = strings.TrimSpace(lastLine(out.String()))
		if message == "" {
			message = err.Error()
		}
	}
	slog.Debug(fmt.Sprintf("%s %s -> exit %d", name, strings.Join(args, " "), exitCode))
	return Result{
		ExitCode: exitCode,
		Start:    start,
		Finish:   finish,
		Message:  message,
		Log:      out.String(),
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	return lines[len(lines)-1]
}

func (a *RealAdapter) FileCopy(src, dst string, params Params) Result {
	return withRetry(func(attempt int) Result {
		args := []string{}
		if params.Overwrite {
			args = append(args, "-f")
		}
		if params.CreateParents {
			args = append(args, "-p")
		}
		if params.ChecksumAlgo != "" {
			args = append(args, "-K", params.ChecksumAlgo)
		}
		if params.Timeout > 0 {
			args = append(args, "-t", fmt.Sprintf("%d", int(params.Timeout.Seconds())))
		}
		args = append(args, src, dst)
		ctx := context.Background()
		if params.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, params.Timeout)
			defer cancel()
		}
		return a.run(ctx, "gfal-copy", args...)
	}, nil)
}

func (a *RealAdapter) Stat(pfn string) Result {
	return withRetry(func(attempt int) Result {
		return a.run(context.Background(), "gfal-stat", pfn)
	}, nil)
}

func (a *RealAdapter) Unlink(pfn string) Result {
	return withRetry(func(attempt int) Result {
		return a.run(context.Background(), "gfal-rm", pfn)
	}, nil)
}

// BringOnline issues a single bulk tape-staging request for all of pfns.
// The pinTime/timeout values are passed through verbatim; callers that want
// a default pin/timeout policy are expected to supply it themselves rather
// than have the adapter invent one.
func (a *RealAdapter) BringOnline(pfns []string, pinTime, timeout time.Duration, async bool) ([]error, string) {
	args := []string{
		"-p", fmt.Sprintf("%d", int(pinTime.Seconds())),
		"-t", fmt.Sprintf("%d", int(timeout.Seconds())),
	}
	if async {
		args = append(args, "--async")
	}
	args = append(args, pfns...)
	result := a.run(context.Background(), "gfal-legacy-bringonline", args...)

	perFileErrors := make([]error, len(pfns))
	if result.ExitCode != 0 {
		for i := range pfns {
			perFileErrors[i] = fmt.Errorf("%s", result.Message)
		}
		// still return a token so the caller records stage_token and never
		// re-issues bring_online for this batch.
		return perFileErrors, uuid.NewString()
	}
	return perFileErrors, uuid.NewString()
}

// BringOnlineWithEnv runs BringOnline on a copy of the adapter whose child
// process environment is env; the adapter's own Env is never modified. This
// is how a scheduler swaps in a dedicated staging X.509 proxy for a single
// bring_online call without disturbing transfer and deletion workers sharing
// the same adapter.
func (a *RealAdapter) BringOnlineWithEnv(pfns []string, pinTime, timeout time.Duration, async bool, env []string) ([]error, string) {
	staging := *a
	staging.Env = env
	return staging.BringOnline(pfns, pinTime, timeout, async)
}

// BringOnlinePoll checks whether a single pfn has finished staging under the
// given batch token.
func (a *RealAdapter) BringOnlinePoll(pfn, token string) (PollResult, Result) {
	result := a.run(context.Background(), "gfal-legacy-bringonline", "--poll", "-i", token, pfn)
	switch result.ExitCode {
	case 0:
		return PollReady, result
	case 1:
		return PollPending, result
	default:
		return PollError, result
	}
}
