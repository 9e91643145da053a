// Package intent classifies free-form shopping commands and routes them to
// the handler registered for their label.
package intent

import "strings"

// Label is one intent category.
type Label string

const (
	LabelNavigation         Label = "navigation"
	LabelOrderCompletion    Label = "order_completion"
	LabelUserInfo           Label = "user_info"
	LabelCart               Label = "cart"
	LabelProductAction      Label = "product_action"
	LabelProductNavigation  Label = "product_navigation"
	LabelRemoveFilter       Label = "remove_filter"
	LabelCategoryNavigation Label = "category_navigation"
	LabelApplyFilter        Label = "apply_filter"
	LabelClearFilters       Label = "clear_filters"
	LabelGeneralCommand     Label = "general_command"
	LabelLocaleSwitch       Label = "locale_switch"
)

// Labels is the closed label set.
var Labels = []Label{
	LabelNavigation,
	LabelOrderCompletion,
	LabelUserInfo,
	LabelCart,
	LabelProductAction,
	LabelProductNavigation,
	LabelRemoveFilter,
	LabelCategoryNavigation,
	LabelApplyFilter,
	LabelClearFilters,
	LabelGeneralCommand,
	LabelLocaleSwitch,
}

var labelDescriptions = map[Label]string{
	LabelNavigation:         "move between pages, scroll, go back or go home",
	LabelOrderCompletion:    "finish the purchase, check out or place the order",
	LabelUserInfo:           "the user states personal details such as name, email, address or phone",
	LabelCart:               "add to, remove from, view or change the shopping cart",
	LabelProductAction:      "act on the product being viewed, such as choosing a size or color",
	LabelProductNavigation:  "open or look at a specific product",
	LabelRemoveFilter:       "remove one active filter",
	LabelCategoryNavigation: "browse a product category",
	LabelApplyFilter:        "narrow or sort the product list",
	LabelClearFilters:       "remove every active filter",
	LabelGeneralCommand:     "anything else",
	LabelLocaleSwitch:       "change the interface language",
}

// ParseLabel accepts a label in any case, with spaces or hyphens for underscores.
func ParseLabel(s string) (Label, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	for _, l := range Labels {
		if string(l) == key {
			return l, true
		}
	}
	return "", false
}
