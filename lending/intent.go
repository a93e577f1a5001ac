package lending

import (
	"strconv"
	"strings"

	"github.com/warp/credit-engine/generic"
)

// Instruction detail keys accepted on inbound and outbound postings.
const (
	DetailForceOverride   = "force_override"
	DetailTargetAccountID = "target_account_id"
	DetailEvent           = "event"
)

type IntentKind int

const (
	IntentRegular IntentKind = iota
	IntentForceOverride
	IntentTargetedRepayment
)

func (k IntentKind) String() string {
	switch k {
	case IntentForceOverride:
		return "force_override"
	case IntentTargetedRepayment:
		return "targeted_repayment"
	default:
		return "regular"
	}
}

// PostingIntent is built once at the boundary from loosely typed instruction
// details and passed through strongly typed afterwards.
type PostingIntent struct {
	Kind   IntentKind
	Target generic.AccountID
	Event  string
}

func Regular() PostingIntent { return PostingIntent{Kind: IntentRegular} }

func ForceOverride() PostingIntent { return PostingIntent{Kind: IntentForceOverride} }

func TargetedRepayment(loanID generic.AccountID) PostingIntent {
	return PostingIntent{Kind: IntentTargetedRepayment, Target: loanID}
}

func (i PostingIntent) IsForceOverride() bool { return i.Kind == IntentForceOverride }

// ParseIntent reads force_override, target_account_id and event. A forced
// posting ignores any target.
func ParseIntent(details map[string]string) PostingIntent {
	intent := Regular()
	if force, err := strconv.ParseBool(strings.TrimSpace(details[DetailForceOverride])); err == nil && force {
		intent = ForceOverride()
	} else if target := strings.TrimSpace(details[DetailTargetAccountID]); target != "" {
		intent = TargetedRepayment(generic.AccountID(target))
	}
	intent.Event = details[DetailEvent]
	return intent
}
