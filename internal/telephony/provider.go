package telephony

import (
	"context"
	"encoding/json"
	"time"

	"crm-telephony/internal/calls"
)

// Provider is the telephony REST surface the service consumes.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Failures are *APIError values (or wrap one) so callers can tell
//   "retry later" from "give up" with IsTransient / IsNotFound.
type Provider interface {
	ListCallLogs(ctx context.Context, q CallLogQuery) ([]CallLogRecord, error)
	GetCallLog(ctx context.Context, callID string) (CallLogRecord, error)
	GetCallSession(ctx context.Context, sessionID string) (CallSession, error)
	GetRecording(ctx context.Context, recordingID string) (Recording, error)
	GetInsights(ctx context.Context, recordingID string) (calls.Insights, error)

	AnswerParty(ctx context.Context, sessionID, partyID string) error
	HangupParty(ctx context.Context, sessionID, partyID string) error
	SetMuted(ctx context.Context, sessionID, partyID string, muted bool) error
	SetHold(ctx context.Context, sessionID, partyID string, hold bool) error
	SetRecording(ctx context.Context, sessionID, partyID string, active bool) error

	ProvisionSIP(ctx context.Context) (SIPInfo, error)
}

// CallLogQuery selects call-log records for a time window.
type CallLogQuery struct {
	From      time.Time
	To        time.Time
	Direction calls.Direction
}

// CallLogEndpoint is one side of a call-log record.
type CallLogEndpoint struct {
	PhoneNumber     string `json:"phoneNumber"`
	ExtensionNumber string `json:"extensionNumber"`
	Name            string `json:"name"`
}

// CallLogRecord is a provider call-log entry (view=Detailed).
type CallLogRecord struct {
	ID                 string          `json:"id"`
	SessionID          string          `json:"sessionId"`
	TelephonySessionID string          `json:"telephonySessionId"`
	StartTime          time.Time       `json:"startTime"`
	Duration           int             `json:"duration"`
	Direction          string          `json:"direction"`
	Result             string          `json:"result"`
	From               CallLogEndpoint `json:"from"`
	To                 CallLogEndpoint `json:"to"`
	Recording          *struct {
		ID         string `json:"id"`
		ContentURI string `json:"contentUri"`
	} `json:"recording,omitempty"`
	Raw json.RawMessage `json:"-"`
}

// Recording describes a finished call recording.
type Recording struct {
	ID          string `json:"id"`
	ContentURI  string `json:"contentUri"`
	ContentType string `json:"contentType"`
	Duration    int    `json:"duration"`
}

// Party is one leg of a live telephony session.
type Party struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Status    struct {
		Code   string `json:"code"`
		Reason string `json:"reason,omitempty"`
	} `json:"status"`
	Muted bool `json:"muted"`
	From  struct {
		PhoneNumber     string `json:"phoneNumber"`
		ExtensionNumber string `json:"extensionNumber"`
		Name            string `json:"name"`
	} `json:"from"`
	To struct {
		PhoneNumber     string `json:"phoneNumber"`
		ExtensionNumber string `json:"extensionNumber"`
		Name            string `json:"name"`
	} `json:"to"`
}

// CallSession is a live telephony session.
type CallSession struct {
	ID           string    `json:"id"`
	CreationTime time.Time `json:"creationTime"`
	Parties      []Party   `json:"parties"`
}

// SIPInfo is the WebRTC SIP registration data for a softphone.
type SIPInfo struct {
	SIPInfo []struct {
		Username            string `json:"username"`
		Password            string `json:"password"`
		AuthorizationID     string `json:"authorizationId"`
		Domain              string `json:"domain"`
		OutboundProxy       string `json:"outboundProxy"`
		OutboundProxyBackup string `json:"outboundProxyBackup,omitempty"`
		Transport           string `json:"transport"`
	} `json:"sipInfo"`
	SIPFlags      json.RawMessage `json:"sipFlags,omitempty"`
	SIPErrorCodes []string        `json:"sipErrorCodes,omitempty"`
}

// Party status codes used by call control.
const (
	PartyStatusSetup        = "Setup"
	PartyStatusProceeding   = "Proceeding"
	PartyStatusAnswered     = "Answered"
	PartyStatusConnected    = "Connected"
	PartyStatusDisconnected = "Disconnected"
)

// IsActive reports whether the party is on an answered call.
func (p Party) IsActive() bool {
	return p.Status.Code == PartyStatusAnswered || p.Status.Code == PartyStatusConnected
}

// IsRingable reports whether the party can still be answered.
func (p Party) IsRingable() bool {
	return p.Status.Code == PartyStatusSetup || p.Status.Code == PartyStatusProceeding
}
