package engine

import (
	"sync"
	"time"
)

// domainEntry stores the preferred engine for a domain with a TTL.
type domainEntry struct {
	engineName string
	expiresAt  time.Time
}

// DomainMemory remembers which engine last worked for each domain, so later
// projects on the same site skip engines that are known to fall short.
// Expired entries are dropped on access and swept on every Set.
type DomainMemory struct {
	mu      sync.Mutex
	entries map[string]domainEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewDomainMemory creates a DomainMemory with the given TTL.
func NewDomainMemory(ttl time.Duration) *DomainMemory {
	return &DomainMemory{
		entries: make(map[string]domainEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the remembered engine name for a domain, or "" if not found / expired.
func (dm *DomainMemory) Get(domain string) string {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	entry, ok := dm.entries[domain]
	if !ok {
		return ""
	}
	if dm.now().After(entry.expiresAt) {
		delete(dm.entries, domain)
		return ""
	}
	return entry.engineName
}

// Set records which engine succeeded for a domain.
func (dm *DomainMemory) Set(domain, engineName string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	now := dm.now()
	for d, e := range dm.entries {
		if now.After(e.expiresAt) {
			delete(dm.entries, d)
		}
	}
	dm.entries[domain] = domainEntry{engineName: engineName, expiresAt: now.Add(dm.ttl)}
}

// Delete removes the memory for a domain (e.g. after the remembered engine fails).
func (dm *DomainMemory) Delete(domain string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.entries, domain)
}

// Len returns the number of live entries.
func (dm *DomainMemory) Len() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.entries)
}
