// Package snapshot реализует живой поток снимков состояния с упорядоченной доставкой.
package snapshot

import (
	"context"
	"sync"
)

// Feed раздаёт снимки всем активным подписчикам.
// Publish никогда не блокирует писателя: у каждого подписчика своя неограниченная очередь,
// которую разбирает отдельная горутина. Снимки не теряются и не переупорядочиваются.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewFeed создаёт пустой поток.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe регистрирует подписчика. Первым в канал попадает initial.
// Подписка закрывается через Close или при завершении ctx.
func (f *Feed[T]) Subscribe(ctx context.Context, initial T) *Subscription[T] {
	sub := &Subscription[T]{
		feed: f,
		out:  make(chan T),
		done: make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	sub.queue = append(sub.queue, initial)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.once.Do(func() {
			sub.stopped = true
			close(sub.done)
		})
		close(sub.out)
		return sub
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// Publish ставит снимок в очередь каждого подписчика.
// Вызывающий код должен сериализовать вызовы Publish, если важен порядок между писателями.
func (f *Feed[T]) Publish(value T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		sub.enqueue(value)
	}
}

// Subscribers возвращает количество активных подписчиков.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close завершает все подписки; последующие Subscribe сразу получают закрытый канал.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*Subscription[T], 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (f *Feed[T]) remove(sub *Subscription[T]) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// Subscription: подписка на поток снимков.
type Subscription[T any] struct {
	feed *Feed[T]
	out  chan T
	done chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	stopped bool
	once    sync.Once
}

// Updates возвращает канал снимков. Канал закрывается после Close.
func (s *Subscription[T]) Updates() <-chan T {
	return s.out
}

// Close отписывает подписчика. Повторный вызов безопасен.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.feed.remove(s)
		s.mu.Lock()
		s.stopped = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription[T]) enqueue(value T) {
	s.mu.Lock()
	if !s.stopped {
		s.queue = append(s.queue, value)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
