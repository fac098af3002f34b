package igd

import (
	"errors"
	"fmt"

	"github.com/huin/goupnp/soap"
)

var (
	// ErrNoValidIGD is returned when no usable Internet Gateway Device is selected.
	ErrNoValidIGD = errors.New("no valid IGD")
	// ErrInvalidProtocol is returned when a mapping's protocol is neither TCP nor UDP.
	ErrInvalidProtocol = errors.New("invalid port mapping protocol")
	// ErrClosed is returned by operations on a closed Controller.
	ErrClosed = errors.New("controller closed")
)

// Client-side result codes, negative so they never collide with UPnP codes.
const (
	CodeUnknownError = -1
	CodeInvalidArgs  = -2
	CodeHTTPError    = -3
)

// UPnP IGD error codes the controller treats specially.
const (
	CodeSpecifiedArrayIndexInvalid = 713
	CodeNoSuchEntryInArray         = 714
	CodeConflictInMappingEntry     = 718
)

var errorStrings = map[int]string{
	CodeUnknownError: "Miscellaneous failure",
	CodeInvalidArgs:  "Invalid arguments",
	CodeHTTPError:    "HTTP error",
	401:              "Invalid Action",
	402:              "Invalid Args",
	501:              "Action Failed",
	600:              "ArgumentValueInvalid",
	601:              "ArgumentValueOutOfRange",
	602:              "OptionalActionNotImplemented",
	603:              "OutOfMemory",
	604:              "HumanInterventionRequired",
	605:              "StringArgumentTooLong",
	606:              "Action not authorized",
	701:              "PinholeSpaceExhausted",
	702:              "FirewallDisabled",
	703:              "InboundPinholeNotAllowed",
	704:              "NoSuchEntry",
	705:              "ProtocolNotSupported",
	706:              "InternalPortWildcardingNotAllowed",
	707:              "ProtocolWildcardingNotAllowed",
	708:              "InvalidLayer2Address",
	709:              "NoPacketSent",
	713:              "SpecifiedArrayIndexInvalid",
	714:              "NoSuchEntryInArray",
	715:              "WildCardNotPermittedInSrcIP",
	716:              "WildCardNotPermittedInExtPort",
	718:              "ConflictInMappingEntry",
	724:              "SamePortValuesRequired",
	725:              "OnlyPermanentLeasesSupported",
	726:              "RemoteHostOnlySupportsWildcard",
	727:              "ExternalPortOnlySupportsWildcard",
	728:              "NoPortMapsAvailable",
	729:              "ConflictWithOtherMechanism",
	732:              "WildCardNotPermittedInIntPort",
}

// ErrorString renders a UPnP or client-side result code as text.
func ErrorString(code int) string {
	if s, ok := errorStrings[code]; ok {
		return s
	}
	return "UnknownError"
}

// RouterError is a control call the router rejected, or one that never reached it.
type RouterError struct {
	Code    int
	Message string
	Err     error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// newRouterError builds a RouterError with the standard message for code.
func newRouterError(code int) *RouterError {
	return &RouterError{Code: code, Message: ErrorString(code)}
}

// routerErrorFrom converts a SOAP fault or transport failure into a RouterError.
func routerErrorFrom(err error) *RouterError {
	if err == nil {
		return nil
	}

	var rerr *RouterError
	if errors.As(err, &rerr) {
		return rerr
	}

	var fault *soap.SOAPFaultError
	if errors.As(err, &fault) {
		code := fault.Detail.UPnPError.Errorcode
		msg := ErrorString(code)
		if _, known := errorStrings[code]; !known && fault.Detail.UPnPError.ErrorDescription != "" {
			msg = fault.Detail.UPnPError.ErrorDescription
		}
		return &RouterError{Code: code, Message: msg, Err: err}
	}

	return &RouterError{Code: CodeHTTPError, Message: ErrorString(CodeHTTPError), Err: err}
}

// IsEndOfTable reports whether err is the router saying the mapping index is past the end.
func IsEndOfTable(err error) bool {
	var rerr *RouterError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Code == CodeSpecifiedArrayIndexInvalid || rerr.Code == CodeNoSuchEntryInArray
}
