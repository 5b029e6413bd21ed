package domain

// Bucket installment ceilings stored in the groups snapshot. These are the
// constraint sent to the payment provider, not the resolved per-item count.
const (
	highInstallments = 12
	midInstallments  = 6
	lowInstallments  = 0
)

// BucketFor maps a resolved installment count to its bucket key.
func BucketFor(maxInstallments int) GroupKey {
	switch {
	case maxInstallments >= 12:
		return GroupHigh
	case maxInstallments >= 6:
		return GroupMid
	default:
		return GroupLow
	}
}

// NewGroups returns the three empty buckets with their fixed ceilings.
func NewGroups() Groups {
	return Groups{
		GroupHigh: {MaxInstallments: highInstallments, Items: []CartItem{}, Subtotal: 0},
		GroupMid:  {MaxInstallments: midInstallments, Items: []CartItem{}, Subtotal: 0},
		GroupLow:  {MaxInstallments: lowInstallments, Items: []CartItem{}, Subtotal: 0},
	}
}

// BuildGroups partitions items into the three installment buckets. Every
// item is resolved against the rule set, appended to exactly one bucket, and
// its price*quantity added to that bucket's subtotal. All three buckets are
// always present in the result.
func BuildGroups(items []CartItem, activeRules []Rule) Groups {
	groups := NewGroups()
	for _, it := range items {
		g := groups[BucketFor(Resolve(activeRules, it))]
		g.Items = append(g.Items, it)
		g.Subtotal += it.Price * int64(it.Quantity)
	}
	return groups
}
