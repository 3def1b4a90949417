package entry

import "time"

type RecordType uint8

const (
	RecordCreatePool RecordType = iota + 1
	RecordDeposit
	RecordWithdraw
	RecordPlace
	RecordCancel
	RecordSwap
)

func (t RecordType) String() string {
	switch t {
	case RecordCreatePool:
		return "create_pool"
	case RecordDeposit:
		return "deposit"
	case RecordWithdraw:
		return "withdraw"
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	case RecordSwap:
		return "swap"
	default:
		return "unknown"
	}
}

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
