/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package janus

import (
	"sync"
	"time"
)

type txResult struct {
	msg *Message
	err error
}

// pending is one outstanding request. result is buffered so the resolver
// never blocks on a waiter that already gave up.
type pending struct {
	id        string
	request   string
	wantEvent bool
	started   time.Time
	result    chan txResult
}

func newPending(id, request string, wantEvent bool) *pending {
	return &pending{
		id:        id,
		request:   request,
		wantEvent: wantEvent,
		started:   time.Now(),
		result:    make(chan txResult, 1),
	}
}

func (p *pending) resolve(msg *Message, err error) {
	p.result <- txResult{msg: msg, err: err}
}

// transactions is the arena of outstanding requests keyed by transaction id.
// An entry is resolved at most once: whoever removes it owns the resolution.
type transactions struct {
	mu    sync.Mutex
	items map[string]*pending
}

func newTransactions() *transactions {
	return &transactions{items: make(map[string]*pending)}
}

func (t *transactions) add(p *pending) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[p.id] = p
	return len(t.items)
}

func (t *transactions) remove(id string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok {
		return nil
	}
	delete(t.items, id)
	return p
}

// takeAck removes the entry only if an ack is its final answer.
func (t *transactions) takeAck(id string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[id]
	if !ok || p.wantEvent {
		return nil
	}
	delete(t.items, id)
	return p
}

// failAll resolves and evicts every entry.
func (t *transactions) failAll(err error) int {
	t.mu.Lock()
	items := t.items
	t.items = make(map[string]*pending)
	t.mu.Unlock()

	for _, p := range items {
		p.resolve(nil, err)
	}
	return len(items)
}

func (t *transactions) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
