package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_FIFOThenClose(t *testing.T) {
	m := newMailbox[int]()
	for i := 1; i <= 3; i++ {
		require.True(t, m.push(i))
	}
	m.close()
	assert.False(t, m.push(4))

	var got []int
	for {
		v, ok := m.next()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestMailbox_DiscardDropsItems(t *testing.T) {
	m := newMailbox[string]()
	m.push("a")
	m.discard()

	_, ok := m.next()
	assert.False(t, ok)
}

func TestMailbox_NextBlocksUntilPush(t *testing.T) {
	m := newMailbox[int]()
	got := make(chan int)
	go func() {
		v, _ := m.next()
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	m.push(7)

	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(waitFor):
		t.Fatal("next never returned")
	}
}

func TestLoop_RunsPostsInOrder(t *testing.T) {
	l := newLoop()

	var order []int
	for i := 0; i < 5; i++ {
		l.Post(func() {
			order = append(order, i)
			if i == 2 {
				l.Post(func() { order = append(order, 10) })
			}
		})
	}
	l.Post(l.stop)

	exited := make(chan struct{})
	go func() {
		l.run()
		close(exited)
	}()
	<-exited
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "posts made after stop was queued are dropped")
}

func TestLoop_AfterPostsBack(t *testing.T) {
	l := newLoop()
	go l.run()
	defer l.stop()

	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(waitFor):
		t.Fatal("timer never fired")
	}
}

func TestLoop_StopCancelsTimers(t *testing.T) {
	l := newLoop()
	go l.run()

	fired := make(chan struct{}, 1)
	l.After(20*time.Millisecond, func() { fired <- struct{}{} })
	l.stop()
	l.After(time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("timer fired after stop")
	case <-time.After(60 * time.Millisecond):
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.timers)
}
