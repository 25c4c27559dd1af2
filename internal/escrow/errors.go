package escrow

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindUnknown Kind = iota
	InvalidInput
	NotAuthorized
	InvalidState
	NotFound
	ExternalUnavailable
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case NotAuthorized:
		return "NotAuthorized"
	case InvalidState:
		return "InvalidState"
	case NotFound:
		return "NotFound"
	case ExternalUnavailable:
		return "ExternalUnavailable"
	default:
		return "Unknown"
	}
}

// Error 结算领域错误，Code 相同即视为同一错误
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，允许 errors.Is(err, ErrGoalReached)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidGoal     = newError(InvalidInput, "InvalidGoal", "funding target must be greater than zero")
	ErrInvalidDuration = newError(InvalidInput, "InvalidDuration", "duration must be between 1 and 30 days")
	ErrInvalidAmount   = newError(InvalidInput, "InvalidAmount", "donation amount must be greater than zero")
	ErrInvalidAddress  = newError(InvalidInput, "InvalidAddress", "account address is not a valid hex address")
	ErrInvalidTitle    = newError(InvalidInput, "InvalidTitle", "campaign title must not be empty")

	ErrNotCreator     = newError(NotAuthorized, "NotCreator", "only the campaign creator can withdraw funds")
	ErrSignerMismatch = newError(NotAuthorized, "SignerMismatch", "caller is not the account this service signs transactions for")

	ErrCampaignNotActive = newError(InvalidState, "CampaignNotActive", "campaign is not accepting donations")
	ErrNotExpiredYet     = newError(InvalidState, "NotExpiredYet", "campaign deadline has not passed yet")
	ErrGoalReached       = newError(InvalidState, "GoalReached", "campaign reached its goal and cannot be marked failed")
	ErrAlreadySettled    = newError(InvalidState, "AlreadySettled", "campaign is already failed or withdrawn")
	ErrGoalNotReached    = newError(InvalidState, "GoalNotReached", "goal not reached, funds cannot be withdrawn")
	ErrAlreadyWithdrawn  = newError(InvalidState, "AlreadyWithdrawn", "funds were already withdrawn")
	ErrCampaignNotFailed = newError(InvalidState, "CampaignNotFailed", "campaign is not marked failed, refunds are locked")
	ErrTxReverted        = newError(InvalidState, "TransactionReverted", "transaction reverted on chain")

	ErrCampaignNotFound = newError(NotFound, "CampaignNotFound", "campaign does not exist")
	ErrNoDonationFound  = newError(NotFound, "NoDonationFound", "no refundable donation for this account")

	ErrExternalUnavailable = newError(ExternalUnavailable, "ExternalUnavailable", "external service unavailable")
)

var byCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInvalidGoal, ErrInvalidDuration, ErrInvalidAmount, ErrInvalidAddress, ErrInvalidTitle,
		ErrNotCreator, ErrSignerMismatch,
		ErrCampaignNotActive, ErrNotExpiredYet, ErrGoalReached, ErrAlreadySettled,
		ErrGoalNotReached, ErrAlreadyWithdrawn, ErrCampaignNotFailed, ErrTxReverted,
		ErrCampaignNotFound, ErrNoDonationFound,
		ErrExternalUnavailable,
	} {
		byCode[e.Code] = e
	}
}

// ByCode 按错误码查找领域错误，用于还原合约 revert
func ByCode(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

// KindOf 返回错误类别，非领域错误返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf 返回错误码，非领域错误返回空串
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Unavailable 将元数据、注册表等外部依赖的故障包装为 ExternalUnavailable
func Unavailable(cause error, format string, args ...interface{}) error {
	return &Error{
		Kind:    ExternalUnavailable,
		Code:    ErrExternalUnavailable.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}
