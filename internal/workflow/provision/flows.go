package provision

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GlebRadaev/vpnshop/pkg/validate"
)

type ExpMode string

const (
	// ExpDays passes the day count as {EXP}.
	ExpDays ExpMode = "days"
	// ExpDate passes the expiry date as YYYY-MM-DD.
	ExpDate ExpMode = "date"
)

const (
	sshAccountsDB  = "/etc/ssh/.ssh.db"
	xrayAccountsDB = "/etc/xray/config.json"
)

// Flow describes one purchasable action on a target.
type Flow struct {
	Name    string
	Title   string
	Kind    string
	Command string
	ExpMode ExpMode
	// NeedsSecret adds the password step.
	NeedsSecret bool
	// Renew flows look the user up by Marker in AccountsDB before asking for a duration.
	Renew      bool
	Marker     string
	AccountsDB string
}

func DefaultFlows() []Flow {
	return []Flow{
		{Name: "addssh", Title: "Add SSH account", Kind: "ssh", Command: "/usr/local/sbin/bot-addssh {USER} {PASS} {EXP}", ExpMode: ExpDays, NeedsSecret: true},
		{Name: "addvmess", Title: "Add VMess account", Kind: "vmess", Command: "/usr/local/sbin/bot-addws {USER} {EXP}", ExpMode: ExpDays},
		{Name: "addvless", Title: "Add VLess account", Kind: "vless", Command: "/usr/local/sbin/bot-addvl {USER} {EXP}", ExpMode: ExpDays},
		{Name: "addtrojan", Title: "Add Trojan account", Kind: "trojan", Command: "/usr/local/sbin/bot-addtr {USER} {EXP}", ExpMode: ExpDays},
		{Name: "renewssh", Title: "Renew SSH account", Kind: "renew-ssh", Command: "/usr/local/sbin/bot-extssh {USER} {EXP}", ExpMode: ExpDays, Renew: true, Marker: "###", AccountsDB: sshAccountsDB},
		{Name: "renewvmess", Title: "Renew VMess account", Kind: "renew-vmess", Command: "/usr/local/sbin/bot-extws {USER} {EXP}", ExpMode: ExpDays, Renew: true, Marker: "###", AccountsDB: xrayAccountsDB},
		{Name: "renewvless", Title: "Renew VLess account", Kind: "renew-vless", Command: "/usr/local/sbin/bot-extvl {USER} {EXP}", ExpMode: ExpDays, Renew: true, Marker: "#&", AccountsDB: xrayAccountsDB},
		{Name: "renewtrojan", Title: "Renew Trojan account", Kind: "renew-trojan", Command: "/usr/local/sbin/bot-exttr {USER} {EXP}", ExpMode: ExpDays, Renew: true, Marker: "#!", AccountsDB: xrayAccountsDB},
	}
}

func (f Flow) Exp(now time.Time, days int) string {
	if f.ExpMode == ExpDate {
		return validate.ExpiryDate(now, days)
	}
	return strconv.Itoa(days)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_.@%+=:,/-]+$`)

// ShellQuote leaves plain words untouched and single-quotes everything else.
func ShellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Render substitutes {USER}, {PASS} and {EXP}.
func (f Flow) Render(user, secret, exp string) string {
	return strings.NewReplacer(
		"{USER}", ShellQuote(user),
		"{PASS}", ShellQuote(secret),
		"{EXP}", exp,
	).Replace(f.Command)
}
