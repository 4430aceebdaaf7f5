package state

import "sync"

// Broadcaster fans state snapshots out to subscribers. Each subscriber
// holds a buffered channel of one pending update; a slow consumer loses
// intermediate frames but always receives the latest one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan []SessionSnapshot]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []SessionSnapshot]struct{})}
}

// Subscribe registers a new consumer and returns its channel.
func (b *Broadcaster) Subscribe() chan []SessionSnapshot {
	ch := make(chan []SessionSnapshot, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan []SessionSnapshot) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers a snapshot set to every subscriber. If a subscriber
// still holds an unread update it is replaced with the newer one.
func (b *Broadcaster) Publish(snapshot []SessionSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
