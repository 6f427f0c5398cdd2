package sys

import "fmt"

// Kind groups the error codes by the reason an operation was refused.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthorization
	KindLifecycle
	KindAccounting
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindLifecycle:
		return "lifecycle"
	case KindAccounting:
		return "accounting"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Code is the stable identifier of an error returned by an operation.
type Code int

const (
	CodeAlreadyAdded Code = iota + 1
	CodeNotFound
	CodeListFull
	CodeMaxResultExceedsMaximum
	CodeInvalidStatus
	CodeIndexOutOfRange
	CodeAlreadyInitialized
	CodeEmptyCurrentRoundResult
	CodeInvalidAuthority
	CodeInvalidOracleAccount
	CodeInvalidRandomnessAccount
	CodeInvalidSignature
	CodeWinnerAlreadySelected
	CodeLotteryStillOn
	CodeInsufficientFunds
	CodeOverflow
)

// Error is returned by every operation of the lottery. None of them is
// retried: the operation that raised it is aborted as a whole.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches errors by code so that wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Kind() Kind {
	switch e.Code {
	case CodeInvalidAuthority, CodeInvalidOracleAccount,
		CodeInvalidRandomnessAccount, CodeInvalidSignature:
		return KindAuthorization
	case CodeWinnerAlreadySelected, CodeLotteryStillOn:
		return KindLifecycle
	case CodeInsufficientFunds, CodeOverflow:
		return KindAccounting
	default:
		return KindValidation
	}
}

var (
	ErrAlreadyAdded             = &Error{CodeAlreadyAdded, "participant already added"}
	ErrNotFound                 = &Error{CodeNotFound, "participant not found or has already withdrawn"}
	ErrListFull                 = &Error{CodeListFull, "list full: participant can't be added"}
	ErrMaxResultExceedsMaximum  = &Error{CodeMaxResultExceedsMaximum, "the max result exceeds the largest draw index"}
	ErrInvalidStatus            = &Error{CodeInvalidStatus, "invalid lottery status"}
	ErrIndexOutOfRange          = &Error{CodeIndexOutOfRange, "randomness result is outside the participant list"}
	ErrAlreadyInitialized       = &Error{CodeAlreadyInitialized, "account already initialized"}
	ErrEmptyCurrentRoundResult  = &Error{CodeEmptyCurrentRoundResult, "current round result is empty"}
	ErrInvalidAuthority         = &Error{CodeInvalidAuthority, "invalid authority account provided"}
	ErrInvalidOracleAccount     = &Error{CodeInvalidOracleAccount, "not a valid oracle account"}
	ErrInvalidRandomnessAccount = &Error{CodeInvalidRandomnessAccount, "invalid randomness account provided"}
	ErrInvalidSignature         = &Error{CodeInvalidSignature, "invalid request signature"}
	ErrWinnerAlreadySelected    = &Error{CodeWinnerAlreadySelected, "winner has been already selected"}
	ErrLotteryStillOn           = &Error{CodeLotteryStillOn, "lottery still on and winner has not been selected yet"}
	ErrInsufficientFunds        = &Error{CodeInsufficientFunds, "insufficient funds"}
	ErrOverflow                 = &Error{CodeOverflow, "arithmetic overflow"}
)
