package domain

// DefaultInstallments is returned when no rule matches an item. Note it sits
// exactly on the mid-bucket boundary, so unruled items land in GroupMid.
const DefaultInstallments = 6

// Resolve returns the maximum installment count applicable to an item.
//
// Rules are scanned in three priority passes: product scope first, then
// category, then global. Within a pass the first rule in stored order wins.
// An item with no category id only matches a category rule whose reference
// id is also empty, which in practice means no match.
func Resolve(activeRules []Rule, item CartItem) int {
	for _, r := range activeRules {
		if r.Scope == ScopeProduct && r.ReferenceID == item.ProductID {
			return r.MaxInstallments
		}
	}
	for _, r := range activeRules {
		if r.Scope == ScopeCategory && r.ReferenceID == item.CategoryID {
			return r.MaxInstallments
		}
	}
	for _, r := range activeRules {
		if r.Scope == ScopeGlobal {
			return r.MaxInstallments
		}
	}
	return DefaultInstallments
}
