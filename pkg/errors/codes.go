package errors

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeConnection      Code = "CONNECTION_ERROR"
	CodeNotConnected    Code = "NOT_CONNECTED"
	CodeProtocolParse   Code = "PROTOCOL_PARSE_ERROR"
	CodeUnknownMessage  Code = "UNKNOWN_MESSAGE"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodePermission      Code = "PERMISSION_DENIED"
)
