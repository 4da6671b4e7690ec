package authkit

import "errors"

var (
	// ErrCodeReplayed indicates the code was claimed before and has not expired.
	ErrCodeReplayed = errors.New("code_store.replayed")
	// ErrCodeEmpty indicates an empty authorization code was supplied.
	ErrCodeEmpty = errors.New("code_store.empty_code")
)
