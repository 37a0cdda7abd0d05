package compiler

import "github.com/pkg/errors"

// Sentinel compile-time fatal errors (§7). Call-site context — which
// AST node, which label, which symbol — is attached with errors.Wrap
// at the point of failure so the top-level CLI can print a useful
// diagnostic while still answering errors.Is against these.
var (
	ErrUnknownNode   = errors.New("unknown AST node")
	ErrUndefinedVar  = errors.New("undefined variable")
	ErrArityMismatch = errors.New("function call arity mismatch")
	ErrOverflowAddr  = errors.New("branch or data address overflows 27-bit signed range")
	ErrUnknownFunc   = errors.New("call to undeclared function")
)
