package authkit

import "context"

// DefaultCodeTTL keeps exchanged codes for the lifetime of an authorization flow.
const DefaultCodeTTL = DefaultFlowTTL

// CodeStore remembers authorization codes that have been exchanged so a
// replayed callback is rejected until the code's validity window passes.
type CodeStore interface {
	// Claim records the code, failing with ErrCodeReplayed when an unexpired claim exists.
	Claim(ctx context.Context, code string) error
	// Release forgets the code so the user may retry after a failed exchange.
	Release(ctx context.Context, code string) error
}
