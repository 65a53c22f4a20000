package respio

const (
	CRLF     = "\r\n"
	Nil      = "$-1\r\n"
	NilArray = "*-1\r\n"
	NilMap   = "%-1\r\n"
)

var (
	OkReply = []byte("OK")
)

const (
	RespStatus    = byte('+') // +<string>\r\n
	RespError     = byte('-') // -<string>\r\n
	RespString    = byte('$') // $<length>\r\n<bytes>\r\n
	RespInt       = byte(':') // :<number>\r\n
	RespNil       = byte('_') // _\r\n
	RespFloat     = byte(',') // ,<floating-point-number>\r\n
	RespBool      = byte('#') // true: #t\r\n false: #f\r\n
	RespBlobError = byte('!') // !<length>\r\n<bytes>\r\n
	RespVerbatim  = byte('=') // =<length>\r\nFORMAT:<bytes>\r\n
	RespBigInt    = byte('(') // (<big number>\r\n
	RespArray     = byte('*') // *<len>\r\n...
	RespMap       = byte('%') // %<len>\r\n(key)\r\n(value)\r\n...
	RespSet       = byte('~') // ~<len>\r\n...
	RespAttr      = byte('|') // |<len>\r\n(key)\r\n(value)\r\n... + command reply
	RespPush      = byte('>') // ><len>\r\n...
)

// TypeName is used in error messages.
func TypeName(t byte) string {
	switch t {
	case RespStatus:
		return "simple-string"
	case RespError:
		return "error"
	case RespString:
		return "bulk-string"
	case RespInt:
		return "integer"
	case RespNil:
		return "null"
	case RespFloat:
		return "double"
	case RespBool:
		return "boolean"
	case RespBlobError:
		return "blob-error"
	case RespVerbatim:
		return "verbatim-string"
	case RespBigInt:
		return "big-number"
	case RespArray:
		return "array"
	case RespMap:
		return "map"
	case RespSet:
		return "set"
	case RespAttr:
		return "attribute"
	case RespPush:
		return "push"
	default:
		return "unknown(" + string(t) + ")"
	}
}
