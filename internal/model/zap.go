package model

import (
	"strings"
	"time"
)

// TargetType identifies what a zap contribution pays for.
type TargetType string

const (
	TargetGame     TargetType = "GAME"
	TargetPlatform TargetType = "PLATFORM"
)

// PlatformTargetID is the target id used for platform zaps that name none.
const PlatformTargetID = "platform"

// ParseTargetType accepts GAME or PLATFORM in any case.
func ParseTargetType(s string) (TargetType, bool) {
	t := TargetType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.IsValid()
}

// String returns the string representation of the target type.
func (t TargetType) String() string {
	return string(t)
}

// IsValid reports whether t is a known target type.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetGame, TargetPlatform:
		return true
	}
	return false
}

// ZapSource records how a payment reached its target.
type ZapSource string

const (
	SourceDirect    ZapSource = "DIRECT"
	SourceForwarded ZapSource = "FORWARDED"
)

// ParseZapSource maps a tag value to a source. Empty means DIRECT and
// MULTI_HOP is an alias for FORWARDED.
func ParseZapSource(s string) (ZapSource, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DIRECT":
		return SourceDirect, true
	case "FORWARDED", "MULTI_HOP":
		return SourceForwarded, true
	}
	return "", false
}

// String returns the string representation of the source.
func (s ZapSource) String() string {
	return string(s)
}

// IsValid reports whether s is a known source.
func (s ZapSource) IsValid() bool {
	return s == SourceDirect || s == SourceForwarded
}

// ZapContribution is one parsed zap-target tag. It is never persisted on its
// own; each one folds into exactly one ZapLedgerTotal.
type ZapContribution struct {
	TargetType  TargetType `json:"target_type"`
	TargetID    string     `json:"target_id"`
	AmountMsats int64      `json:"amount_msats"`
	Source      ZapSource  `json:"source"`
}

// TotalKey identifies the aggregate a contribution belongs to.
func (c ZapContribution) TotalKey() TotalKey {
	return TotalKey{TargetType: c.TargetType, TargetID: c.TargetID, Source: c.Source}
}

// TotalKey is the primary key of zap_ledger_totals.
type TotalKey struct {
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Source     ZapSource  `json:"source"`
}

// ZapLedgerEvent is the write-once record of an accepted zap receipt. EventID
// is the idempotency key.
type ZapLedgerEvent struct {
	EventID        string    `json:"event_id"`
	SenderPubkey   string    `json:"sender_pubkey"`
	TotalMsats     int64     `json:"total_msats"`
	PartCount      int       `json:"part_count"`
	EventCreatedAt time.Time `json:"event_created_at"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// ZapLedgerTotal is the running aggregate for one (target, source). It is only
// ever incremented.
type ZapLedgerTotal struct {
	TotalKey
	TotalMsats  int64     `json:"total_msats"`
	ZapCount    int64     `json:"zap_count"`
	LastEventAt time.Time `json:"last_event_at"`
	LastEventID string    `json:"last_event_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}
