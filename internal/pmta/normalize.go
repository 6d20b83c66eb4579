package pmta

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/customeros/mailpulse/internal/enum"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/utils"
)

// Row is one parsed log record keyed by its header names as they appeared in the file.
type Row map[string]string

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp accepts the layouts PowerMTA and common exporters emit.
// Values without a zone are read as UTC. Unparsable input yields nil.
func ParseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// EventID is deterministic so re-inserting a row is a no-op.
func EventID(fileID string, rowNum int) string {
	return fmt.Sprintf("%s_%d", fileID, rowNum)
}

// Normalize converts a raw row into an Event. It returns nil when the row or
// type is missing and never fails on malformed field values.
func Normalize(row Row, detectedType enum.EventType, fileID string, rowNum int) *models.Event {
	if row == nil || detectedType == "" {
		return nil
	}

	// headers that normalize to the same name resolve in sorted order, first
	// non-empty value wins
	fields := make(map[string]string, len(row))
	raw := make(models.JSONMap, len(row))
	for _, k := range slices.Sorted(maps.Keys(row)) {
		v := row[k]
		raw[k] = v
		name := normalizeHeader(k)
		if value := strings.TrimSpace(v); value != "" && fields[name] == "" {
			fields[name] = value
		}
	}
	get := func(key string) string { return fields[key] }

	recipient := get(colRcpt)
	recipientDomain := strings.ToLower(get(colDomain))
	if recipientDomain == "" {
		recipientDomain = utils.ExtractDomainFromEmail(recipient)
	}

	messageID := get(colMessageID)
	if messageID == "" {
		messageID = get(colHeaderMessageID)
	}

	vmtaPool := get(colVmtaPool)
	if vmtaPool == "" {
		vmtaPool = get(colVmtaPool2)
	}

	logged := ParseTimestamp(get(colTimeLogged))
	queued := ParseTimestamp(get(colTimeQueued))

	jobID := get(colJobID)

	return &models.Event{
		ID:                     EventID(fileID, rowNum),
		FileID:                 fileID,
		EventType:              canonicalType(detectedType, get(colType)),
		EventTimestamp:         logged,
		JobID:                  jobID,
		Sender:                 get(colOrig),
		Recipient:              recipient,
		RecipientDomain:        recipientDomain,
		Vmta:                   get(colVmta),
		VmtaPool:               vmtaPool,
		SourceIP:               get(colSourceIP),
		DestinationIP:          get(colDestinationIP),
		EnvelopeID:             get(colEnvID),
		MessageID:              messageID,
		MessageKey:             MessageKey(messageID, jobID, recipient),
		SmtpStatus:             get(colDsnStatus),
		BounceCategory:         get(colBounceCat),
		DsnAction:              get(colDsnAction),
		DsnDiagnostic:          get(colDsnDiag),
		DeliveryLatencySeconds: latencySeconds(logged, queued),
		RawFields:              raw,
	}
}

// MessageKey prefers the message id, then jobId:recipient, else nil.
func MessageKey(messageID, jobID, recipient string) *string {
	if messageID != "" {
		return &messageID
	}
	if jobID != "" && recipient != "" {
		key := jobID + ":" + recipient
		return &key
	}
	return nil
}

func canonicalType(detectedType enum.EventType, recordType string) enum.EventType {
	if detectedType != enum.EventTypeAcct {
		return detectedType
	}
	if mapped, ok := acctRecordTypes[strings.ToLower(recordType)]; ok {
		return mapped
	}
	return enum.EventTypeAcct
}

func latencySeconds(logged, queued *time.Time) *float64 {
	if logged == nil || queued == nil {
		return nil
	}
	seconds := logged.Sub(*queued).Seconds()
	return &seconds
}
