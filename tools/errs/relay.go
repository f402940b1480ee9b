package errs

// Failure classes of the relay. Everything the hub or the session machine
// can surface maps onto one of these; anything else is a plain error.
const (
	CodeAuthorization     = 1101 // caller is not a member of the target conversation
	CodeValidation        = 1102 // malformed operation before any persistence attempt
	CodePersistence       = 1103 // persistence gateway unavailable or timed out
	CodeTransport         = 1104 // abnormal transport close, not an application error
	CodeCredentialExpired = 1105 // access or refresh credential no longer valid
)

var (
	ErrNotAMember        = NewCodeError(CodeAuthorization, "not a member of this conversation")
	ErrValidation        = NewCodeError(CodeValidation, "invalid operation")
	ErrPersistence       = NewCodeError(CodePersistence, "message could not be stored")
	ErrTransport         = NewCodeError(CodeTransport, "transport closed")
	ErrCredentialExpired = NewCodeError(CodeCredentialExpired, "credential expired")
)
