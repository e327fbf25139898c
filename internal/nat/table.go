// Package nat implements the agent-side address translation table.
//
// The table maps a remote peer (the destination the local application sent to)
// to the local socket identity that sent it, so that replies arriving through
// the tunnel can be reinjected towards the right local sender.
package nat

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"
)

// ErrLookupMiss is returned when no translation exists for a remote peer.
// Frames that miss are dropped; the error is never surfaced to the application.
var ErrLookupMiss = errors.New("no translation entry")

// Key identifies a remote peer by its address text and port, exactly as it is
// carried in a tunnel frame.
type Key struct {
	Address string
	Port    uint16
}

// String returns host:port.
func (k Key) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(int(k.Port)))
}

// Entry is the local sender recorded for a remote peer.
type Entry struct {
	Source   netip.AddrPort
	LastSeen time.Time
}

// KeyFor builds the table key for a remote peer address. Literal IP addresses
// are canonicalised (IPv4-mapped IPv6 is unmapped, IPv6 is compressed) so that
// the text produced on the outbound path matches the text the relay reports
// for replies.
func KeyFor(address string, port uint16) Key {
	return Key{Address: CanonicalAddress(address), Port: port}
}

// KeyFromAddrPort builds the table key for a parsed remote peer.
func KeyFromAddrPort(ap netip.AddrPort) Key {
	return Key{Address: ap.Addr().Unmap().String(), Port: ap.Port()}
}

// CanonicalAddress returns the canonical text form of an IP literal, or the
// input unchanged when it is not an IP literal.
func CanonicalAddress(address string) string {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return address
	}
	return addr.Unmap().String()
}

// Table is a thread-safe translation table. Every method holds the lock for a
// single map operation only.
type Table struct {
	mu      sync.Mutex
	entries map[Key]Entry
	now     func() time.Time
}

// NewTable creates an empty translation table.
func NewTable() *Table {
	return &Table{
		entries: make(map[Key]Entry),
		now:     time.Now,
	}
}

// Upsert records src as the local sender for the remote peer key. The last
// write wins: a later datagram from a different local port replaces the entry.
// It reports whether a new entry was created.
func (t *Table) Upsert(key Key, src netip.AddrPort) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.entries[key]
	t.entries[key] = Entry{Source: src, LastSeen: now}
	return !existed
}

// Lookup returns the local sender for the remote peer key.
func (t *Table) Lookup(key Key) (netip.AddrPort, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w for %s", ErrLookupMiss, key)
	}
	return e.Source, nil
}

// Get returns the full entry for key.
func (t *Table) Get(key Key) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	return e, ok
}

// Remove deletes the entry for key.
func (t *Table) Remove(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// Expire removes entries not refreshed within ttl and returns how many were
// removed. A non-positive ttl disables expiry.
func (t *Table) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := t.now().Add(-ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, e := range t.entries {
		if e.LastSeen.Before(cutoff) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Clear removes all entries.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[Key]Entry)
}
