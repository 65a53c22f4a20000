package respio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

type RespWriter struct {
	writer *bufio.Writer
}

func NewRespWriter(wr io.Writer) *RespWriter {
	return &RespWriter{
		writer: bufio.NewWriterSize(wr, DefaultBufferSize),
	}
}

// WriteStatus writes a status response (e.g., "OK")
func (w *RespWriter) WriteStatus(status string) error {
	return w.writeLine(RespStatus, status)
}

// WriteError writes an error response
func (w *RespWriter) WriteError(msg string) error {
	return w.writeLine(RespError, msg)
}

func (w *RespWriter) WriteInt64(n int64) error {
	return w.writeLine(RespInt, strconv.FormatInt(n, 10))
}

// Write writes a complete RESP packet to the underlying bufio.Writer.
func (w *RespWriter) Write(p *RespPacket) error {
	switch p.Type {
	case RespStatus, RespError, RespBigInt, RespFloat:
		return w.writeLine(p.Type, string(p.Data))
	case RespInt:
		val, err := strconv.ParseInt(string(p.Data), 10, 64)
		if err != nil {
			return err
		}
		return w.WriteInt64(val)
	case RespString:
		return w.WriteBulkString(p.Data)
	case RespBlobError, RespVerbatim:
		return w.writeBulk(p.Type, p.Data)
	case RespNil:
		if err := w.writer.WriteByte(RespNil); err != nil {
			return err
		}
		return w.writeCRLF()
	case RespBool:
		b := "f"
		if string(p.Data) == "t" {
			b = "t"
		}
		return w.writeLine(RespBool, b)
	case RespArray:
		return w.WriteArray(p.Array)
	case RespSet, RespPush, RespMap, RespAttr:
		return w.writeAggregate(p.Type, p.Array, p.IsMapLike())
	default:
		logger.Info("RespWriter unknown packet type", "type", p.Type)
		return ErrInvalidSyntax
	}
}

// WriteArray writes an array of RESP packets. A nil array is written as the RESP2 null array.
func (w *RespWriter) WriteArray(array []*RespPacket) error {
	return w.writeAggregate(RespArray, array, false)
}

// WriteBulkString writes a bulk string, nil is written as the RESP2 null bulk string.
func (w *RespWriter) WriteBulkString(b []byte) error {
	return w.writeBulk(RespString, b)
}

func (w *RespWriter) writeLine(marker byte, s string) error {
	if err := w.writer.WriteByte(marker); err != nil {
		return err
	}
	if _, err := w.writer.WriteString(s); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *RespWriter) writeBulk(marker byte, b []byte) error {
	if b == nil {
		_, err := w.writer.WriteString(Nil)
		return err
	}
	if err := w.writeLine(marker, strconv.Itoa(len(b))); err != nil {
		return err
	}
	if _, err := w.writer.Write(b); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *RespWriter) writeCRLF() error {
	_, err := w.writer.WriteString(CRLF)
	return err
}

func (w *RespWriter) writeAggregate(prefix byte, array []*RespPacket, isMap bool) error {
	if array == nil {
		nullValue := NilArray
		if prefix == RespMap {
			nullValue = NilMap
		}
		_, err := w.writer.WriteString(nullValue)
		return err
	}
	if isMap && len(array)%2 != 0 {
		return fmt.Errorf("invalid map length %d: must contain even number of elements for key-value pairs",
			len(array))
	}
	length := len(array)
	if isMap {
		length = length / 2
	}
	if err := w.writeLine(prefix, strconv.Itoa(length)); err != nil {
		return err
	}
	for _, elem := range array {
		if err := w.Write(elem); err != nil {
			logger.Error(err, "RespWriter write element error", "Pkt", elem)
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying io.Writer
func (w *RespWriter) Flush() error {
	return w.writer.Flush()
}

func (w *RespWriter) WriteAndFlush(p *RespPacket) error {
	if err := w.Write(p); err != nil {
		return err
	}
	return w.Flush()
}
