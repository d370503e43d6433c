package featureflag

type Flag string

const (
	// FlagDisableAncestorValidation makes registration mark only the nodes
	// fully inside a registered region as valid.
	FlagDisableAncestorValidation Flag = "DISABLE_ANCESTOR_VALIDATION"

	// FlagDisableSubtreeCollapse keeps the tree structure when a region is
	// unregistered.
	FlagDisableSubtreeCollapse Flag = "DISABLE_SUBTREE_COLLAPSE"

	FlagDisableEviction Flag = "DISABLE_EVICTION"
)

// Flags returns the flags known by the service.
func Flags() []Flag {
	return []Flag{
		FlagDisableAncestorValidation,
		FlagDisableSubtreeCollapse,
		FlagDisableEviction,
	}
}

func (f Flag) String() string {
	return string(f)
}
