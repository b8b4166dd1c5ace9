package remote

import (
	"fmt"
	"strings"
)

// DefaultMarkers are output fragments the provisioning scripts print when they fail.
var DefaultMarkers = []string{
	"no such file",
	"not found",
	"command not found",
	"permission denied",
	"error",
	"failed",
}

type Verdict struct {
	OK     bool
	Reason string
}

// Policy decides whether a finished command actually succeeded.
type Policy interface {
	Evaluate(res *Result) Verdict
}

// MarkerPolicy fails on a non-zero exit code or on any marker found in the output, case-insensitively.
// It can report false positives for scripts that print these words on success.
type MarkerPolicy struct {
	markers []string
}

func NewMarkerPolicy(markers ...string) MarkerPolicy {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return MarkerPolicy{markers: lowered}
}

func (p MarkerPolicy) Evaluate(res *Result) Verdict {
	if res == nil {
		return Verdict{Reason: "no result"}
	}
	if res.ExitCode != 0 {
		return Verdict{Reason: fmt.Sprintf("exit code %d", res.ExitCode)}
	}
	out := strings.ToLower(res.Combined)
	for _, m := range p.markers {
		if strings.Contains(out, m) {
			return Verdict{Reason: fmt.Sprintf("output contains %q", m)}
		}
	}
	return Verdict{OK: true}
}
