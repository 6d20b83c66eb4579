package pmta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/internal/enum"
)

func TestDetectType(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    enum.EventType
	}{
		{
			name:    "full acct header",
			headers: []string{"type", "timeLogged", "timeQueued", "orig", "rcpt", "dsnAction", "dsnStatus", "dsnDiag", "bounceCat", "vmta", "jobId", "envId"},
			want:    enum.EventTypeAcct,
		},
		{
			name:    "case and whitespace insensitive",
			headers: []string{" TYPE", "TimeLogged ", "ORIG", "rcpt", "VMTA", "jobid"},
			want:    enum.EventTypeFbl,
		},
		{
			name:    "rate block",
			headers: []string{"type", "timeLogged", "vmta", "domain", "rbType"},
			want:    enum.EventTypeRb,
		},
		{
			name:    "byte order mark on first header",
			headers: []string{"\ufefftype", "timeLogged", "vmta", "domain", "rbType", "dsnStatus"},
			want:    enum.EventTypeRb,
		},
		{
			name:    "below threshold for every type",
			headers: []string{"foo", "bar", "type"},
			want:    enum.EventTypeUnknown,
		},
		{
			name:    "empty",
			headers: nil,
			want:    enum.EventTypeUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectType(tt.headers, DefaultMinMatchRatio))
		})
	}
}

func TestDetectType_HighestRatioWins(t *testing.T) {
	// 6/6 fbl, 6/11 acct, 6/9 tran
	headers := []string{"type", "timeLogged", "orig", "rcpt", "vmta", "jobId"}
	assert.Equal(t, enum.EventTypeFbl, DetectType(headers, DefaultMinMatchRatio))

	// tran and acct both full; acct is declared first
	headers = []string{"type", "timeLogged", "timeQueued", "orig", "rcpt", "dsnAction", "dsnStatus", "dsnDiag", "bounceCat", "vmta", "jobId"}
	assert.Equal(t, enum.EventTypeAcct, DetectType(headers, DefaultMinMatchRatio))
}

func TestNormalize_NilInputs(t *testing.T) {
	assert.Nil(t, Normalize(nil, enum.EventTypeAcct, "f1", 1))
	assert.Nil(t, Normalize(Row{"type": "d"}, "", "f1", 1))
}

func TestNormalize_AcctRow(t *testing.T) {
	row := Row{
		"type":             "d",
		"timeLogged":       "2024-05-01 10:00:30-0000",
		"timeQueued":       "2024-05-01 10:00:28-0000",
		"orig":             "news@sender.com",
		"rcpt":             "User@Gmail.COM",
		"vmta":             "vmta1",
		"vmtaPool2":        "pool-b",
		"jobId":            "job-7",
		"dsnStatus":        "2.0.0",
		"dsnAction":        "relayed",
		"dlvSourceIp":      "10.0.0.1",
		"dlvDestinationIp": "142.250.1.1",
		"envId":            "env-1",
	}
	e := Normalize(row, enum.EventTypeAcct, "file_1", 3)
	require.NotNil(t, e)

	assert.Equal(t, "file_1_3", e.ID)
	assert.Equal(t, enum.EventTypeTran, e.EventType)
	require.NotNil(t, e.EventTimestamp)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 30, 0, time.UTC), *e.EventTimestamp)
	assert.Equal(t, "gmail.com", e.RecipientDomain)
	assert.Equal(t, "pool-b", e.VmtaPool)
	assert.Equal(t, "2.0.0", e.SmtpStatus)
	assert.Equal(t, "10.0.0.1", e.SourceIP)
	require.NotNil(t, e.DeliveryLatencySeconds)
	assert.Equal(t, 2.0, *e.DeliveryLatencySeconds)
	require.NotNil(t, e.MessageKey)
	assert.Equal(t, "job-7:User@Gmail.COM", *e.MessageKey)
	assert.Equal(t, "d", e.RawFields["type"])
}

func TestNormalize_AcctCodeTable(t *testing.T) {
	codes := map[string]enum.EventType{
		"d": enum.EventTypeTran,
		"B": enum.EventTypeBounce,
		"t": enum.EventTypeAcct,
		"f": enum.EventTypeFbl,
		"r": enum.EventTypeRb,
		"p": enum.EventTypeAcct,
		"x": enum.EventTypeAcct,
		"":  enum.EventTypeAcct,
	}
	for code, want := range codes {
		e := Normalize(Row{"type": code}, enum.EventTypeAcct, "f", 1)
		require.NotNil(t, e)
		assert.Equal(t, want, e.EventType, "code %q", code)
	}

	// only acct files are remapped
	e := Normalize(Row{"type": "d"}, enum.EventTypeBounce, "f", 1)
	assert.Equal(t, enum.EventTypeBounce, e.EventType)
}

func TestNormalize_DefensiveParsing(t *testing.T) {
	e := Normalize(Row{
		"timeLogged": "not a date",
		"timeQueued": "2024-05-01T10:00:00Z",
		"rcpt":       "no-at-sign",
		"domain":     "Example.ORG",
	}, enum.EventTypeUnknown, "f", 9)
	require.NotNil(t, e)
	assert.Equal(t, enum.EventTypeUnknown, e.EventType)
	assert.Nil(t, e.EventTimestamp)
	assert.Nil(t, e.DeliveryLatencySeconds)
	assert.Equal(t, "example.org", e.RecipientDomain)
	assert.Nil(t, e.MessageKey)
}

func TestNormalize_IsDeterministic(t *testing.T) {
	row := Row{"type": "b", "timeLogged": "2024-05-01T10:00:00Z", "rcpt": "a@b.com", "messageId": "<m1@x>"}
	assert.Equal(t, Normalize(row, enum.EventTypeAcct, "f", 1), Normalize(row, enum.EventTypeAcct, "f", 1))
}

func TestNormalize_CollidingHeadersResolveStably(t *testing.T) {
	row := Row{
		"messageId":   "<lower@x>",
		"MessageID":   "<upper@x>",
		" messageid ": "",
		"rcpt":        "a@b.com",
	}
	for i := 0; i < 50; i++ {
		e := Normalize(row, enum.EventTypeAcct, "f", 1)
		require.NotNil(t, e)
		assert.Equal(t, "<upper@x>", e.MessageID)
		assert.Len(t, e.RawFields, 4)
	}
}

func TestMessageKey(t *testing.T) {
	key := MessageKey("<id@x>", "job", "a@b.com")
	require.NotNil(t, key)
	assert.Equal(t, "<id@x>", *key)

	key = MessageKey("", "job", "a@b.com")
	require.NotNil(t, key)
	assert.Equal(t, "job:a@b.com", *key)

	assert.Nil(t, MessageKey("", "job", ""))
	assert.Nil(t, MessageKey("", "", "a@b.com"))
}

func TestNormalize_HeaderMessageIDFallback(t *testing.T) {
	e := Normalize(Row{"header_Message-Id": "<m2@x>", "jobId": "j", "rcpt": "a@b.com"}, enum.EventTypeTran, "f", 1)
	require.NotNil(t, e.MessageKey)
	assert.Equal(t, "<m2@x>", *e.MessageKey)
	assert.Equal(t, "<m2@x>", e.MessageID)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC)
	for _, v := range []string{
		"2024-05-01T17:00:00Z",
		"2024-05-01T10:00:00-07:00",
		"2024-05-01 10:00:00-0700",
		"2024-05-01 10:00:00 -0700",
		"2024-05-01 17:00:00",
		"2024-05-01T17:00:00",
		"Wed, 01 May 2024 17:00:00 +0000",
	} {
		got := ParseTimestamp(v)
		require.NotNil(t, got, v)
		assert.True(t, want.Equal(*got), v)
	}
	assert.Nil(t, ParseTimestamp(""))
	assert.Nil(t, ParseTimestamp("yesterday"))
}
