package domain

// Class groups error codes by the contract they violate.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassState         Class = "state"
	ClassAuthorization Class = "authorization"
	ClassLedger        Class = "ledger"
)

// Error is a precondition failure of a goal, vote or settlement operation.
// Errors compare equal by Code, so errors.Is works against the sentinels below.
type Error struct {
	Code    string
	Class   Class
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(class Class, code, msg string) *Error {
	return &Error{Code: code, Class: class, Message: msg}
}

var (
	ErrTitleTooLong         = newError(ClassValidation, "TitleTooLong", "Title must be 100 characters or less")
	ErrDescriptionTooLong   = newError(ClassValidation, "DescriptionTooLong", "Description must be 500 characters or less")
	ErrAmountTooLow         = newError(ClassValidation, "AmountTooLow", "Amount must be at least 0.1 SOL")
	ErrAmountTooHigh        = newError(ClassValidation, "AmountTooHigh", "Amount must be at most 10 SOL")
	ErrDeadlineInPast       = newError(ClassValidation, "DeadlineInPast", "Deadline must be in the future")
	ErrInvalidVerifierPanel = newError(ClassValidation, "InvalidVerifierPanel", "Exactly three distinct verifiers are required")
	ErrInvalidFailAction    = newError(ClassValidation, "InvalidFailAction", "Fail action must be burn or company_wallet")

	ErrInvalidGoalStatus        = newError(ClassState, "InvalidGoalStatus", "Invalid goal status for this operation")
	ErrActiveGoalExists         = newError(ClassState, "ActiveGoalExists", "User already has an active goal. Complete it before creating a new one.")
	ErrAlreadyFinalized         = newError(ClassState, "AlreadyFinalized", "Verification already finalized")
	ErrVerificationNotComplete  = newError(ClassState, "VerificationNotComplete", "Verification not complete yet")
	ErrVerificationNotFinalized = newError(ClassState, "VerificationNotFinalized", "Verification not finalized")
	ErrNoVerificationResult     = newError(ClassState, "NoVerificationResult", "No verification result available")
	ErrAlreadyInitialized       = newError(ClassState, "AlreadyInitialized", "Goal counter already initialized")
	ErrCounterNotInitialized    = newError(ClassState, "CounterNotInitialized", "Goal counter not initialized; run initialize_counter first")

	ErrUnauthorized = newError(ClassAuthorization, "Unauthorized", "Unauthorized")
	ErrNotAVerifier = newError(ClassAuthorization, "NotAVerifier", "Not a registered verifier")
	ErrAlreadyVoted = newError(ClassAuthorization, "AlreadyVoted", "Already voted")

	ErrInsufficientFunds = newError(ClassLedger, "InsufficientFunds", "Insufficient funds for transfer")
	ErrBalanceOverflow   = newError(ClassLedger, "BalanceOverflow", "Credit would exceed the maximum account balance")
)
