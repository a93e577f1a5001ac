package lending

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/generic"
)

type NotificationType string

const (
	NotifyRepaymentDue     NotificationType = "REPAYMENT_DUE"
	NotifyRepaymentOverdue NotificationType = "REPAYMENT_OVERDUE"
	NotifyDelinquent       NotificationType = "DELINQUENT"
	NotifyLoansPaidOff     NotificationType = "LOANS_PAID_OFF"
)

// Notification is an event for external workflows. Monetary fields are
// decimal strings at two decimal places.
type Notification struct {
	ID         string            `json:"id"`
	Type       NotificationType  `json:"type"`
	AccountID  generic.AccountID `json:"account_id"`
	Fields     map[string]string `json:"fields"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NotificationSink receives notifications after the triggering event commits.
// Delivery is fire-and-forget from the engine's side.
type NotificationSink interface {
	Publish(ctx context.Context, notifications ...Notification) error
}

// outbox collects what an invocation raises while its transaction is open.
// Nothing in it runs until the transaction commits.
type outbox struct {
	items []Notification
	hooks []func(context.Context) error
}

func (o *outbox) notify(kind NotificationType, account generic.AccountID, at time.Time, fields map[string]string) {
	o.items = append(o.items, Notification{
		ID:         uuid.NewString(),
		Type:       kind,
		AccountID:  account,
		Fields:     fields,
		OccurredAt: at,
	})
}

// afterCommit registers work on external collaborators, such as the flag
// service, that must not run inside the store transaction.
func (o *outbox) afterCommit(fn func(context.Context) error) {
	o.hooks = append(o.hooks, fn)
}

func amountField(d decimal.Decimal) string { return money(d) }

func dateField(t time.Time) string { return generic.FormatDate(t) }

func idsField(ids []generic.AccountID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
