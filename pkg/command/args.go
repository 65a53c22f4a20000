package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// Args is the ordered token sequence of one command invocation. The leading
// tokens are the command name (e.g. LATENCY RESET), the rest are arguments
// in the order the server expects. Tokens are string, []byte, int, int64 or float64.
type Args []any

// Packet encodes the tokens as a RESP array of bulk strings.
func (a Args) Packet() (*respio.RespPacket, error) {
	items := make([]*respio.RespPacket, len(a))
	for i := range a {
		b, err := tokenBytes(a[i])
		if err != nil {
			return nil, err
		}
		items[i] = respio.NewBulkPacket(b)
	}
	return respio.NewArrayPacket(items...), nil
}

// Token returns the i-th token as bytes, or nil if i is out of range.
func (a Args) Token(i int) []byte {
	if i < 0 || i >= len(a) {
		return nil
	}
	b, err := tokenBytes(a[i])
	if err != nil {
		return nil
	}
	return b
}

// Strings renders every token as a string, for transports that take []string.
func (a Args) Strings() []string {
	out := make([]string, len(a))
	for i := range a {
		out[i] = string(a.Token(i))
	}
	return out
}

func (a Args) String() string {
	return strings.Join(a.Strings(), " ")
}

func tokenBytes(tok any) ([]byte, error) {
	switch v := tok.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	default:
		return nil, fmt.Errorf("unsupported token type %T", tok)
	}
}
