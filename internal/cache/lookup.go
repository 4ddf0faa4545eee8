package cache

import "errors"

// LookupState 区分命中、未命中与读取失败。
type LookupState int

const (
	LookupMiss LookupState = iota
	LookupHit
	LookupError
)

func (s LookupState) String() string {
	switch s {
	case LookupHit:
		return "hit"
	case LookupError:
		return "error"
	default:
		return "miss"
	}
}

// Lookup 是一次读取的三态结果，避免用 nil 同时表达“不存在”与“失败”。
type Lookup struct {
	State LookupState
	Data  []byte
	Err   error
}

// Hit 报告是否命中。
func (l Lookup) Hit() bool {
	return l.State == LookupHit
}

// lookupResult 把一次读取的返回值折叠为三态结果。
func lookupResult(data []byte, err error) Lookup {
	switch {
	case err == nil:
		return Lookup{State: LookupHit, Data: data}
	case errors.Is(err, ErrNotFound):
		return Lookup{State: LookupMiss}
	default:
		return Lookup{State: LookupError, Err: err}
	}
}
