package respio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/pzhenzhou/respcmd/pkg/common"
)

const (
	DefaultBufferSize = 8 * common.KB
	MaxBulkSize       = 512 * common.MB
	MaxAggregateLen   = 1024 * 1024
)

var (
	ErrInvalidSyntax = errors.New("invalid RESP syntax")
	ErrTooLarge      = errors.New("value too large")
	ErrBadCRLFEnd    = errors.New("bad CRLF end")
)

type RespReader struct {
	reader *bufio.Reader
}

func NewRespReader(rd io.Reader) *RespReader {
	return &RespReader{
		reader: bufio.NewReaderSize(rd, DefaultBufferSize),
	}
}

func NewRespReaderFromBytes(data []byte) *RespReader {
	return &RespReader{
		reader: bufio.NewReader(bytes.NewReader(data)),
	}
}

// Read reads one complete RESP value. RESP3 attributes are consumed and
// dropped, the value they decorate is returned instead.
func (r *RespReader) Read() (*RespPacket, error) {
	b, err := r.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case RespStatus, RespError, RespBigInt:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		return &RespPacket{Type: b, Data: line}, nil
	case RespInt:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if _, err := parseInt(line); err != nil {
			return nil, err
		}
		return &RespPacket{Type: RespInt, Data: line}, nil
	case RespFloat:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if _, err := strconv.ParseFloat(string(line), 64); err != nil {
			return nil, ErrInvalidSyntax
		}
		return &RespPacket{Type: RespFloat, Data: line}, nil
	case RespBool:
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) != 1 || (line[0] != 't' && line[0] != 'f') {
			return nil, ErrInvalidSyntax
		}
		return &RespPacket{Type: RespBool, Data: line}, nil
	case RespString, RespVerbatim, RespBlobError:
		data, err := r.readBulk()
		if err != nil {
			return nil, err
		}
		return &RespPacket{Type: b, Data: data}, nil
	case RespNil:
		if err := r.skipCRLF(); err != nil {
			return nil, err
		}
		return NilPacket, nil
	case RespArray, RespSet, RespPush:
		return r.readAggregate(b, 1)
	case RespMap:
		return r.readAggregate(b, 2)
	case RespAttr:
		if _, err := r.readAggregate(b, 2); err != nil {
			return nil, err
		}
		return r.Read()
	default:
		logger.V(1).Info("RespReader invalid RESP type", "type", string(b))
		return nil, ErrInvalidSyntax
	}
}

// Buffered is the number of bytes read from the source but not yet consumed.
func (r *RespReader) Buffered() int {
	return r.reader.Buffered()
}

func (r *RespReader) readLength() (int64, error) {
	line, err := r.reader.ReadSlice('\n')
	if err != nil {
		return 0, err
	}
	if n := len(line) - 2; n < 0 || line[n] != '\r' {
		return 0, ErrBadCRLFEnd
	}
	return parseInt(line[:len(line)-2])
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidSyntax
	}
	if len(b) < 10 {
		neg, i := false, 0
		switch b[0] {
		case '-':
			neg = true
			fallthrough
		case '+':
			i++
		}
		if len(b) != i {
			var n int64
			for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
				n = int64(b[i]-'0') + n*10
			}
			if len(b) == i {
				if neg {
					n = -n
				}
				return n, nil
			}
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, ErrInvalidSyntax
	}
	return n, nil
}

// readBulk reads <len>\r\n<bytes>\r\n. A length of -1 is the RESP2 null and yields nil.
func (r *RespReader) readBulk() ([]byte, error) {
	length, err := r.readLength()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return nil, nil
	}
	if length < -1 {
		return nil, ErrInvalidSyntax
	}
	if length > MaxBulkSize {
		return nil, ErrTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.reader, buf); err != nil {
		return nil, err
	}
	if err := r.skipCRLF(); err != nil {
		return nil, err
	}
	return buf, nil
}

// readLine returns a copy of the line without CRLF; ReadSlice data is only
// valid until the next read. Lines longer than the buffer are accumulated
// up to MaxBulkSize.
func (r *RespReader) readLine() ([]byte, error) {
	line, err := r.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		long := append([]byte(nil), line...)
		for errors.Is(err, bufio.ErrBufferFull) {
			if len(long) > MaxBulkSize {
				return nil, ErrTooLarge
			}
			line, err = r.reader.ReadSlice('\n')
			long = append(long, line...)
		}
		line = long
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrBadCRLFEnd
	}
	out := make([]byte, len(line)-2)
	copy(out, line)
	return out, nil
}

func (r *RespReader) skipCRLF() error {
	b, err := r.reader.ReadByte()
	if err != nil {
		return err
	}
	if b != '\r' {
		return ErrInvalidSyntax
	}
	b, err = r.reader.ReadByte()
	if err != nil {
		return err
	}
	if b != '\n' {
		return ErrInvalidSyntax
	}
	return nil
}

// readAggregate reads the length header and then length*multiplier children.
func (r *RespReader) readAggregate(respType byte, multiplier int) (*RespPacket, error) {
	length, err := r.readLength()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return &RespPacket{Type: respType}, nil
	}
	if length < -1 {
		return nil, ErrInvalidSyntax
	}
	if length > MaxAggregateLen {
		return nil, ErrTooLarge
	}
	numElements := int(length) * multiplier
	items := make([]*RespPacket, numElements)
	for i := 0; i < numElements; i++ {
		elem, err := r.Read()
		if err != nil {
			return nil, err
		}
		items[i] = elem
	}
	return &RespPacket{Type: respType, Array: items}, nil
}
