package massbid

import (
	"regexp"

	"github.com/pvzzle/gasrace/internal/bridge"
)

type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassUserDenied
	ClassInsufficientFunds
	ClassTradingDisabled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassUserDenied:
		return "user_denied"
	case ClassInsufficientFunds:
		return "insufficient_funds"
	case ClassTradingDisabled:
		return "trading_disabled"
	default:
		return "unknown"
	}
}

var (
	reUserDenied   = regexp.MustCompile(`(?i)(declined to authorize|user denied)`)
	reInsufficient = regexp.MustCompile(`(?i)insufficient (balance|funds)`)
	reTradingOff   = regexp.MustCompile(`(?i)trading is not enabled`)
	reRateLimited  = regexp.MustCompile(`(?i)failed to fetch`)
)

// Classify maps a signer error message onto the error taxonomy.
// Anything unrecognized is Unknown and retried.
func Classify(message string) ErrorClass {
	switch {
	case reUserDenied.MatchString(message):
		return ClassUserDenied
	case reInsufficient.MatchString(message):
		return ClassInsufficientFunds
	case reTradingOff.MatchString(message):
		return ClassTradingDisabled
	default:
		return ClassUnknown
	}
}

type TokenState string

const (
	StateProcessing TokenState = "PROCESSING"
	StateSigned     TokenState = "SIGNED"
	StateCompleted  TokenState = "COMPLETED"
	StateOutbid     TokenState = "OUTBID"
	StateSkipped    TokenState = "SKIPPED"
	StateRetrying   TokenState = "RETRYING"
	StateFailed     TokenState = "FAILED"
)

type Action int

const (
	// ActHold records the state and keeps waiting for a terminating outcome.
	ActHold Action = iota
	ActAdvance
	ActRetry
	ActHalt
)

// MaxRetries is how many times a token is resubmitted after unknown errors.
const MaxRetries = 3

// Transition is the per-outcome transition table. ok is false for outcome
// kinds that carry no state for bids.
func Transition(o bridge.Outcome, retryCount int) (state TokenState, act Action, class ErrorClass, ok bool) {
	switch o.Kind {
	case bridge.KindSuccess:
		return StateCompleted, ActAdvance, ClassUnknown, true
	case bridge.KindSigned:
		return StateSigned, ActHold, ClassUnknown, true
	case bridge.KindSkipped:
		if o.Reason == "outbid" {
			return StateOutbid, ActAdvance, ClassUnknown, true
		}
		return StateSkipped, ActAdvance, ClassUnknown, true
	case bridge.KindError:
		class = Classify(o.ErrorMessage())
		switch class {
		case ClassUserDenied:
			return StateSkipped, ActAdvance, class, true
		case ClassInsufficientFunds:
			return StateFailed, ActHalt, class, true
		case ClassTradingDisabled:
			return StateFailed, ActAdvance, class, true
		}
		if retryCount < MaxRetries {
			return StateRetrying, ActRetry, class, true
		}
		return StateFailed, ActAdvance, class, true
	}
	return "", ActHold, ClassUnknown, false
}

func isTerminal(k bridge.Kind) bool {
	return k == bridge.KindSuccess || k == bridge.KindSkipped || k == bridge.KindError
}
