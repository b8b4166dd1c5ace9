package provision

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/GlebRadaev/vpnshop/internal/domain"
)

type lookupResult int

const (
	lookupMissing lookupResult = iota
	lookupFound
	// lookupFallback means the name occurs in the file but not on a marker line.
	lookupFallback
)

// lookupUser reads the flow's account database on target and searches for
// "<marker> <user>" at the start of a line.
func (w *Workflow) lookupUser(ctx context.Context, flow Flow, target domain.Target, user string) (lookupResult, error) {
	res, err := w.executor.Run(ctx, target, "cat "+ShellQuote(flow.AccountsDB), w.timeout)
	if err != nil {
		return lookupMissing, err
	}
	if res.ExitCode != 0 {
		return lookupMissing, fmt.Errorf("read %s: exit code %d", flow.AccountsDB, res.ExitCode)
	}
	return matchAccount(res.Stdout, flow.Marker, user), nil
}

func matchAccount(db, marker, user string) lookupResult {
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(marker) + `\s+` + regexp.QuoteMeta(user) + `(\s|$)`)
	for _, line := range strings.Split(db, "\n") {
		if re.MatchString(strings.TrimRight(line, "\r")) {
			return lookupFound
		}
	}
	if strings.Contains(db, `"`+user+`"`) || strings.Contains(db, user) {
		return lookupFallback
	}
	return lookupMissing
}
