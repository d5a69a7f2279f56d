package telephony

import (
	"context"
	"strings"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/calls"
	"crm-telephony/pkg/logger"
)

const (
	ActionAnswer = "answer"
	ActionHangup = "hangup"
	ActionMute   = "mute"
	ActionUnmute = "unmute"
	ActionHold   = "hold"
	ActionUnhold = "unhold"
	ActionRecord = "record_start"
	ActionStop   = "record_stop"
)

// ControlResult describes a completed call-control action.
type ControlResult struct {
	CallID  string `json:"callId"`
	PartyID string `json:"partyId"`
	Action  string `json:"action"`
	// AlreadyActive is set when answer found the party already connected.
	AlreadyActive bool  `json:"alreadyActive,omitempty"`
	Muted         *bool `json:"muted,omitempty"`
	OnHold        *bool `json:"onHold,omitempty"`
	Recording     *bool `json:"recording,omitempty"`
}

// ControlNotifier is told about every successful control action.
type ControlNotifier interface {
	PublishControl(ctx context.Context, r ControlResult)
}

// CallControl drives live session parties through the provider.
type CallControl struct {
	provider Provider
	notifier ControlNotifier
	audit    *audit.Service
}

func NewCallControl(p Provider, n ControlNotifier, a *audit.Service) *CallControl {
	return &CallControl{provider: p, notifier: n, audit: a}
}

// Answer picks up a ringing party. A party that is already connected is not
// an error: the result is flagged AlreadyActive and call-active is re-sent.
func (cc *CallControl) Answer(ctx context.Context, actor audit.Actor, callID, partyID string) (ControlResult, error) {
	if callID == "" {
		return ControlResult{}, calls.ErrInvalidCallID
	}
	session, err := cc.provider.GetCallSession(ctx, callID)
	if err != nil {
		cc.record(ctx, actor, callID, partyID, ActionAnswer, err)
		return ControlResult{}, err
	}

	party, ok := findParty(session.Parties, partyID, Party.IsRingable)
	if !ok {
		if active, found := findParty(session.Parties, partyID, Party.IsActive); found {
			res := ControlResult{CallID: callID, PartyID: active.ID, Action: ActionAnswer, AlreadyActive: true}
			cc.notify(ctx, res)
			return res, nil
		}
		cc.record(ctx, actor, callID, partyID, ActionAnswer, ErrNotRingable)
		return ControlResult{}, ErrNotRingable
	}

	res := ControlResult{CallID: callID, PartyID: party.ID, Action: ActionAnswer}
	err = cc.provider.AnswerParty(ctx, callID, party.ID)
	return cc.finish(ctx, actor, res, err)
}

// Hangup disconnects partyID, or the first party still on the call.
func (cc *CallControl) Hangup(ctx context.Context, actor audit.Actor, callID, partyID string) (ControlResult, error) {
	pid, err := cc.resolveParty(ctx, callID, partyID)
	if err != nil {
		cc.record(ctx, actor, callID, partyID, ActionHangup, err)
		return ControlResult{}, err
	}
	res := ControlResult{CallID: callID, PartyID: pid, Action: ActionHangup}
	return cc.finish(ctx, actor, res, cc.provider.HangupParty(ctx, callID, pid))
}

func (cc *CallControl) SetMuted(ctx context.Context, actor audit.Actor, callID, partyID string, muted bool) (ControlResult, error) {
	action := ActionUnmute
	if muted {
		action = ActionMute
	}
	pid, err := cc.resolveParty(ctx, callID, partyID)
	if err != nil {
		cc.record(ctx, actor, callID, partyID, action, err)
		return ControlResult{}, err
	}
	res := ControlResult{CallID: callID, PartyID: pid, Action: action, Muted: &muted}
	return cc.finish(ctx, actor, res, cc.provider.SetMuted(ctx, callID, pid, muted))
}

func (cc *CallControl) SetHold(ctx context.Context, actor audit.Actor, callID, partyID string, hold bool) (ControlResult, error) {
	action := ActionUnhold
	if hold {
		action = ActionHold
	}
	pid, err := cc.resolveParty(ctx, callID, partyID)
	if err != nil {
		cc.record(ctx, actor, callID, partyID, action, err)
		return ControlResult{}, err
	}
	res := ControlResult{CallID: callID, PartyID: pid, Action: action, OnHold: &hold}
	return cc.finish(ctx, actor, res, cc.provider.SetHold(ctx, callID, pid, hold))
}

func (cc *CallControl) SetRecording(ctx context.Context, actor audit.Actor, callID, partyID string, active bool) (ControlResult, error) {
	action := ActionStop
	if active {
		action = ActionRecord
	}
	pid, err := cc.resolveParty(ctx, callID, partyID)
	if err != nil {
		cc.record(ctx, actor, callID, partyID, action, err)
		return ControlResult{}, err
	}
	res := ControlResult{CallID: callID, PartyID: pid, Action: action, Recording: &active}
	return cc.finish(ctx, actor, res, cc.provider.SetRecording(ctx, callID, pid, active))
}

func (cc *CallControl) resolveParty(ctx context.Context, callID, partyID string) (string, error) {
	if callID == "" {
		return "", calls.ErrInvalidCallID
	}
	if partyID != "" {
		return partyID, nil
	}
	session, err := cc.provider.GetCallSession(ctx, callID)
	if err != nil {
		return "", err
	}
	p, ok := findParty(session.Parties, "", func(p Party) bool {
		return !strings.EqualFold(p.Status.Code, PartyStatusDisconnected)
	})
	if !ok {
		return "", ErrNoActiveParty
	}
	return p.ID, nil
}

func (cc *CallControl) finish(ctx context.Context, actor audit.Actor, res ControlResult, err error) (ControlResult, error) {
	cc.record(ctx, actor, res.CallID, res.PartyID, res.Action, err)
	if err != nil {
		return ControlResult{}, err
	}
	cc.notify(ctx, res)
	return res, nil
}

func (cc *CallControl) notify(ctx context.Context, res ControlResult) {
	if cc.notifier != nil {
		cc.notifier.PublishControl(ctx, res)
	}
}

func (cc *CallControl) record(ctx context.Context, actor audit.Actor, callID, partyID, action string, cause error) {
	log := logger.From(ctx)
	if cause != nil {
		log.Warn("call control failed", "call_id", callID, "action", action, "err", cause)
	}
	if cc.audit == nil || callID == "" {
		return
	}
	if err := cc.audit.LogCallControl(ctx, actor, callID, partyID, action, cause); err != nil {
		log.Warn("audit append failed", "call_id", callID, "action", action, "err", err)
	}
}

// findParty returns the party with id partyID (when given) or the first
// party satisfying match.
func findParty(parties []Party, partyID string, match func(Party) bool) (Party, bool) {
	for _, p := range parties {
		if partyID != "" && p.ID != partyID {
			continue
		}
		if match(p) {
			return p, true
		}
	}
	return Party{}, false
}
