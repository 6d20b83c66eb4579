// Package pmta classifies PowerMTA accounting exports and maps their rows to
// canonical delivery events.
package pmta

import "github.com/customeros/mailpulse/internal/enum"

// DefaultMinMatchRatio is the share of a type's expected headers that must be
// present for the type to be detected.
const DefaultMinMatchRatio = 0.6

type typeHeaders struct {
	eventType enum.EventType
	headers   []string
}

// knownTypes is ordered; detection ties go to the earlier entry.
var knownTypes = []typeHeaders{
	{enum.EventTypeAcct, []string{"type", "timeLogged", "timeQueued", "orig", "rcpt", "dsnAction", "dsnStatus", "dsnDiag", "bounceCat", "vmta", "jobId"}},
	{enum.EventTypeTran, []string{"type", "timeLogged", "timeQueued", "orig", "rcpt", "dsnStatus", "dsnDiag", "vmta", "jobId"}},
	{enum.EventTypeBounce, []string{"type", "timeLogged", "bounceCat", "vmta", "orig", "rcpt", "dsnStatus", "dsnDiag", "jobId"}},
	{enum.EventTypeFbl, []string{"type", "timeLogged", "orig", "rcpt", "vmta", "jobId"}},
	{enum.EventTypeRb, []string{"type", "timeLogged", "vmta", "domain", "rbType", "dsnStatus", "dsnDiag"}},
}

// acctRecordTypes remaps the acct "type" column. Codes not listed stay acct.
var acctRecordTypes = map[string]enum.EventType{
	"d": enum.EventTypeTran,
	"b": enum.EventTypeBounce,
	"t": enum.EventTypeAcct,
	"f": enum.EventTypeFbl,
	"r": enum.EventTypeRb,
	"p": enum.EventTypeAcct,
}

// Column names, lowercased.
const (
	colType            = "type"
	colTimeLogged      = "timelogged"
	colTimeQueued      = "timequeued"
	colOrig            = "orig"
	colRcpt            = "rcpt"
	colDomain          = "domain"
	colJobID           = "jobid"
	colVmta            = "vmta"
	colVmtaPool        = "vmtapool"
	colVmtaPool2       = "vmtapool2"
	colSourceIP        = "dlvsourceip"
	colDestinationIP   = "dlvdestinationip"
	colEnvID           = "envid"
	colMessageID       = "messageid"
	colHeaderMessageID = "header_message-id"
	colDsnStatus       = "dsnstatus"
	colBounceCat       = "bouncecat"
	colDsnAction       = "dsnaction"
	colDsnDiag         = "dsndiag"
)
