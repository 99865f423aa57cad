package events

// Topic constants for domain events emitted by the platform. Stock levels
// are owned by the inventory system, so no stock topic is published here.
const (
	TopicOrderFinalized        = "billing.order.finalized"
	TopicVoucherApplied        = "billing.voucher.applied"
	TopicVoucherRemoved        = "billing.voucher.removed"
	TopicCommissionRuleChanged = "commission.rule.changed"
	TopicCommissionRuleDeleted = "commission.rule.deleted"
)
