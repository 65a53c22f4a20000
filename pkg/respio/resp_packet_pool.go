package respio

import "sync"

var respPacketPool = sync.Pool{
	New: func() interface{} {
		return &RespPacket{
			Array: make([]*RespPacket, 0, 4),
		}
	},
}

// AcquireRespPacket gets a clean RespPacket from the pool. Array is empty
// but non-nil, so a packet that is never filled reads as an empty aggregate.
func AcquireRespPacket() *RespPacket {
	return respPacketPool.Get().(*RespPacket)
}

// AcquireArrayPacket acquires a packet and sets it up as an array of the given children.
func AcquireArrayPacket(items ...*RespPacket) *RespPacket {
	p := AcquireRespPacket()
	p.Type = RespArray
	p.Array = append(p.Array, items...)
	return p
}

// ReleaseRespPacket resets p and its children and puts them back in the pool.
// Data is dropped, not reused, so callers must not release a packet whose
// Data is still referenced elsewhere.
func ReleaseRespPacket(p *RespPacket) {
	if p == nil || p == NilPacket {
		return
	}
	p.Type = 0
	p.Data = nil
	for i, item := range p.Array {
		if item != nil {
			ReleaseRespPacket(item)
			p.Array[i] = nil
		}
	}
	if p.Array == nil {
		p.Array = make([]*RespPacket, 0, 4)
	}
	p.Array = p.Array[:0]
	respPacketPool.Put(p)
}
