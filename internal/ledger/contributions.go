package ledger

import (
	"math"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/zapline/internal/model"
	"github.com/alfredjeanlab/zapline/internal/nostr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Tag names on zap receipts.
const (
	TagZapTarget = "zap-target"
	TagAmount    = "amount"
)

// ParseContributions reads every zap-target tag:
//
//	["zap-target", TARGET_TYPE, TARGET_ID, AMOUNT_MSATS, SOURCE?]
//
// One malformed tag fails the whole event. A receipt with no zap-target tag
// is also malformed.
func ParseContributions(ev nostr.Event) ([]model.ZapContribution, error) {
	const op = "ledger.ParseContributions"
	tags := ev.Tags.FindAll(TagZapTarget)
	if len(tags) == 0 {
		return nil, zaperr.New(zaperr.KindMalformedInput, op, "no zap-target tags")
	}

	out := make([]model.ZapContribution, 0, len(tags))
	var sum int64
	for i, tag := range tags {
		c, err := parseTarget(tag)
		if err != nil {
			return nil, zaperr.Wrap(zaperr.KindMalformedInput, op, &tagError{index: i, err: err})
		}
		if sum > math.MaxInt64-c.AmountMsats {
			return nil, zaperr.New(zaperr.KindMalformedInput, op, "contribution sum overflows")
		}
		sum += c.AmountMsats
		out = append(out, c)
	}

	amount, ok, err := ReceiptAmount(ev)
	if err != nil {
		return nil, err
	}
	if ok && sum > amount {
		return nil, zaperr.Newf(zaperr.KindMalformedInput, op, "contributions total %d msats exceeds receipt amount %d", sum, amount)
	}
	return out, nil
}

func parseTarget(tag nostr.Tag) (model.ZapContribution, error) {
	if len(tag) < 4 {
		return model.ZapContribution{}, errString("want at least 4 elements")
	}
	targetType, ok := model.ParseTargetType(tag[1])
	if !ok {
		return model.ZapContribution{}, errString("unknown target type " + strconv.Quote(tag[1]))
	}
	targetID := strings.TrimSpace(tag[2])
	if targetID == "" {
		if targetType != model.TargetPlatform {
			return model.ZapContribution{}, errString("empty target id for " + targetType.String())
		}
		targetID = model.PlatformTargetID
	}
	amount, err := parseMsats(tag[3])
	if err != nil {
		return model.ZapContribution{}, err
	}
	var rawSource string
	if len(tag) > 4 {
		rawSource = tag[4]
	}
	source, ok := model.ParseZapSource(rawSource)
	if !ok {
		return model.ZapContribution{}, errString("unknown source " + strconv.Quote(rawSource))
	}
	return model.ZapContribution{
		TargetType:  targetType,
		TargetID:    targetID,
		AmountMsats: amount,
		Source:      source,
	}, nil
}

// ReceiptAmount returns the value of the receipt's amount tag in msats.
// ok is false when the tag is absent.
func ReceiptAmount(ev nostr.Event) (amount int64, ok bool, err error) {
	tag := ev.Tags.Find(TagAmount)
	if tag == nil {
		return 0, false, nil
	}
	amount, err = parseMsats(tag.Value())
	if err != nil {
		return 0, false, zaperr.Wrap(zaperr.KindMalformedInput, "ledger.ReceiptAmount", err)
	}
	return amount, true, nil
}

// parseMsats accepts a positive base-10 integer with no sign or spaces.
func parseMsats(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, errString("amount " + strconv.Quote(s) + " is not a positive integer")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, errString("amount " + strconv.Quote(s) + " is not a positive integer")
	}
	return n, nil
}

type errString string

func (e errString) Error() string { return string(e) }

type tagError struct {
	index int
	err   error
}

func (e *tagError) Error() string {
	return "zap-target tag " + strconv.Itoa(e.index) + ": " + e.err.Error()
}

func (e *tagError) Unwrap() error { return e.err }
