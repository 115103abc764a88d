package seamless

// Code is the provider-facing result code carried in every response body.
type Code int

const (
	Success              Code = 0
	InternalServerError  Code = 999
	MemberNotExist       Code = 1000
	InsufficientBalance  Code = 1001
	DuplicateTransaction Code = 1003
	InvalidSignature     Code = 1004
)

func (c Code) String() string {
	switch c {
	case Success:
		return "Success"
	case InternalServerError:
		return "InternalServerError"
	case MemberNotExist:
		return "MemberNotExist"
	case InsufficientBalance:
		return "InsufficientBalance"
	case DuplicateTransaction:
		return "DuplicateTransaction"
	case InvalidSignature:
		return "InvalidSignature"
	default:
		return "Unknown"
	}
}

// Response is the body returned for every webhook call, always with HTTP 200.
type Response struct {
	Code    Code                `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}
