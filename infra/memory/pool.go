package memory

import "sync"

// Pool is a typed sync.Pool. Objects are reset before they are returned
// to the pool.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.p.New = func() any { return ctor() }
	return p
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// NewBufferPool pools byte slices with the given starting capacity.
func NewBufferPool(capacity int) *Pool[[]byte] {
	return NewPool(
		func() *[]byte { b := make([]byte, 0, capacity); return &b },
		func(b *[]byte) { *b = (*b)[:0] },
	)
}
