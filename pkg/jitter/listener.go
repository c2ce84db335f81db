package jitter

type Listener interface {
	OnPacketEnqueue(expected int64, pkt *Packet)
	OnPacketDequeue(expected int64, frames []*Frame)
	OnPacketLoss(seq int64)
	OnLatePacket(expected int64, pkt *Packet)
}

type NullListener struct {
}

func (n NullListener) OnPacketEnqueue(expected int64, pkt *Packet) {}

func (n NullListener) OnPacketDequeue(expected int64, frames []*Frame) {}

func (n NullListener) OnPacketLoss(seq int64) {}

func (n NullListener) OnLatePacket(expected int64, pkt *Packet) {}
