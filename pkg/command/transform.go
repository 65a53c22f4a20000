package command

import (
	"bytes"
	"strconv"
	"time"

	"github.com/pzhenzhou/respcmd/pkg/respio"
)

// TransformInteger accepts only an integer reply. Null is 0.
func TransformInteger(reply *respio.RespPacket) (int64, error) {
	if reply.IsNull() {
		return 0, nil
	}
	if reply.Type != respio.RespInt {
		return 0, mismatch("integer", reply)
	}
	return replyInt(reply)
}

// TransformString accepts simple, bulk and verbatim strings. Null is "".
func TransformString(reply *respio.RespPacket) (string, error) {
	if reply.IsNull() {
		return "", nil
	}
	return replyString(reply)
}

// TransformStatus is for commands that answer +OK.
func TransformStatus(reply *respio.RespPacket) (string, error) {
	if reply.Type != respio.RespStatus {
		return "", mismatch("simple-string", reply)
	}
	return string(reply.Data), nil
}

// TransformNullableString is nil when the server replies null.
func TransformNullableString(reply *respio.RespPacket) (*string, error) {
	if reply.IsNull() {
		return nil, nil
	}
	s, err := replyString(reply)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TransformOK is true for +OK and false for null, which is how conditional writes report "not done".
func TransformOK(reply *respio.RespPacket) (bool, error) {
	if reply.IsNull() {
		return false, nil
	}
	if reply.Type != respio.RespStatus || !bytes.Equal(reply.Data, respio.OkReply) {
		return false, mismatch("OK or null", reply)
	}
	return true, nil
}

func TransformStringSlice(reply *respio.RespPacket) ([]string, error) {
	items, err := replyArray(reply)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := replyString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// TransformStringMap accepts a RESP3 map or a RESP2 flat key/value array.
func TransformStringMap(reply *respio.RespPacket) (map[string]string, error) {
	pairs, err := replyPairs(reply)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, err := replyString(kv[0])
		if err != nil {
			return nil, err
		}
		v, err := replyString(kv[1])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// TransformTime reads the [seconds, microseconds] pair sent by TIME.
func TransformTime(reply *respio.RespPacket) (time.Time, error) {
	items, err := replyArray(reply)
	if err != nil {
		return time.Time{}, err
	}
	if len(items) != 2 {
		return time.Time{}, mismatchf("array of 2 elements", "array of %d elements", len(items))
	}
	sec, err := replyInt(items[0])
	if err != nil {
		return time.Time{}, err
	}
	usec, err := replyInt(items[1])
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, usec*int64(time.Microsecond)), nil
}

// replyInt reads a numeric tuple field. Besides integers it takes numeric
// simple and bulk strings, which RESP2 servers send inside LATEST, HISTORY,
// TIME and SLOWLOG rows.
func replyInt(p *respio.RespPacket) (int64, error) {
	switch p.Type {
	case respio.RespInt, respio.RespStatus, respio.RespString, respio.RespBigInt:
		n, err := strconv.ParseInt(string(p.Data), 10, 64)
		if err != nil {
			return 0, mismatchf("integer", "%s %q", respio.TypeName(p.Type), p.Data)
		}
		return n, nil
	default:
		return 0, mismatch("integer", p)
	}
}

func replyString(p *respio.RespPacket) (string, error) {
	switch p.Type {
	case respio.RespStatus:
		return string(p.Data), nil
	case respio.RespString:
		if p.Data == nil {
			return "", mismatch("string", p)
		}
		return string(p.Data), nil
	case respio.RespVerbatim:
		// =<len>\r\nfmt:<text>, the format is always three bytes.
		if len(p.Data) >= 4 && p.Data[3] == ':' {
			return string(p.Data[4:]), nil
		}
		return string(p.Data), nil
	default:
		return "", mismatch("string", p)
	}
}

// replyArray returns the children of an array-like reply; null is an empty slice.
func replyArray(p *respio.RespPacket) ([]*respio.RespPacket, error) {
	if p.IsNull() {
		return []*respio.RespPacket{}, nil
	}
	switch p.Type {
	case respio.RespArray, respio.RespSet, respio.RespPush:
		return p.Array, nil
	default:
		return nil, mismatch("array", p)
	}
}

// replyPairs returns key/value pairs of a RESP3 map or of a RESP2 flat array.
func replyPairs(p *respio.RespPacket) ([][2]*respio.RespPacket, error) {
	if p.IsNull() {
		return [][2]*respio.RespPacket{}, nil
	}
	switch p.Type {
	case respio.RespMap, respio.RespArray:
	default:
		return nil, mismatch("map", p)
	}
	if len(p.Array)%2 != 0 {
		return nil, mismatchf("map", "%s with odd length %d", respio.TypeName(p.Type), len(p.Array))
	}
	pairs := make([][2]*respio.RespPacket, 0, len(p.Array)/2)
	for i := 0; i < len(p.Array); i += 2 {
		pairs = append(pairs, [2]*respio.RespPacket{p.Array[i], p.Array[i+1]})
	}
	return pairs, nil
}
