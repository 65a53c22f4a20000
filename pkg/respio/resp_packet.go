package respio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pzhenzhou/respcmd/pkg/common"
)

var (
	logger    = common.InitLogger().WithName("resp")
	NilPacket = &RespPacket{Type: RespNil}
)

// RespPacket is one fully parsed RESP value. Aggregates keep their children
// in Array; maps and attributes store key, value, key, value...
type RespPacket struct {
	Type  byte
	Data  []byte
	Array []*RespPacket
}

func NewStatusPacket(s string) *RespPacket {
	return &RespPacket{Type: RespStatus, Data: []byte(s)}
}

func NewErrorPacket(msg string) *RespPacket {
	return &RespPacket{Type: RespError, Data: []byte(msg)}
}

func NewIntPacket(n int64) *RespPacket {
	return &RespPacket{Type: RespInt, Data: []byte(strconv.FormatInt(n, 10))}
}

func NewBulkPacket(b []byte) *RespPacket {
	return &RespPacket{Type: RespString, Data: b}
}

func NewBulkStringPacket(s string) *RespPacket {
	return &RespPacket{Type: RespString, Data: []byte(s)}
}

func NewArrayPacket(items ...*RespPacket) *RespPacket {
	if items == nil {
		items = []*RespPacket{}
	}
	return &RespPacket{Type: RespArray, Array: items}
}

// NewMapPacket builds a RESP3 map from alternating key/value packets.
func NewMapPacket(kvs ...*RespPacket) *RespPacket {
	if kvs == nil {
		kvs = []*RespPacket{}
	}
	return &RespPacket{Type: RespMap, Array: kvs}
}

// IsNull reports the RESP3 null as well as the RESP2 null bulk string and null array.
func (p *RespPacket) IsNull() bool {
	if p == nil {
		return true
	}
	switch p.Type {
	case RespNil:
		return true
	case RespString:
		return p.Data == nil
	case RespArray, RespMap, RespSet, RespPush:
		return p.Array == nil
	default:
		return false
	}
}

func (p *RespPacket) IsError() bool {
	return p != nil && (p.Type == RespError || p.Type == RespBlobError)
}

// IsMapLike is true for maps and attributes, whose children are key/value pairs.
func (p *RespPacket) IsMapLike() bool {
	return p.Type == RespMap || p.Type == RespAttr
}

// GetCommand returns the command name of a request array.
func (p *RespPacket) GetCommand() []byte {
	if p.Type == RespArray && len(p.Array) > 0 {
		return p.Array[0].Data
	}
	return p.Data
}

// String returns a string representation of the RespPacket
// Only for debugging purposes
func (p *RespPacket) String() string {
	if p == nil {
		return "(nil)"
	}
	switch p.Type {
	case RespStatus:
		return fmt.Sprintf("Status: %q", string(p.Data))
	case RespError, RespBlobError:
		return fmt.Sprintf("Error: %s", string(p.Data))
	case RespInt:
		return fmt.Sprintf("Integer: %s", string(p.Data))
	case RespString, RespVerbatim:
		if p.Data == nil {
			return "String: (nil)"
		}
		return fmt.Sprintf("String: %q", string(p.Data))
	case RespNil:
		return "(nil)"
	case RespFloat, RespBool, RespBigInt:
		return fmt.Sprintf("%s: %s", TypeName(p.Type), string(p.Data))
	case RespMap, RespAttr:
		if p.Array == nil {
			return TypeName(p.Type) + ": (nil)"
		}
		var b strings.Builder
		b.WriteString(TypeName(p.Type) + ":\n")
		for i := 0; i < len(p.Array); i += 2 {
			value := "nil"
			if i+1 < len(p.Array) {
				value = p.Array[i+1].String()
			}
			b.WriteString(fmt.Sprintf("  %s => %s\n", p.Array[i].String(), value))
		}
		return strings.TrimRight(b.String(), "\n")
	case RespArray, RespSet, RespPush:
		if p.Array == nil {
			return TypeName(p.Type) + ": (nil)"
		}
		if len(p.Array) == 0 {
			return TypeName(p.Type) + ": (empty)"
		}
		var b strings.Builder
		b.WriteString(TypeName(p.Type) + ":\n")
		for i, elem := range p.Array {
			lines := strings.Split(elem.String(), "\n")
			b.WriteString(fmt.Sprintf("  %d) %s\n", i+1, lines[0]))
			for _, line := range lines[1:] {
				b.WriteString(fmt.Sprintf("     %s\n", line))
			}
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return fmt.Sprintf("(unknown type: %c)", p.Type)
	}
}
