package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ClientPool caches upstream HTTP clients keyed by base URL and timeout, so
// concurrent requests to the same upstream share one connection pool.
type ClientPool struct {
	mu      sync.RWMutex
	clients map[string]*http.Client
}

// NewClientPool creates an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{clients: make(map[string]*http.Client)}
}

// Get returns the shared client for a base URL and timeout, creating it on
// first use. A zero timeout leaves the client unbounded, which long-lived
// streams need.
func (p *ClientPool) Get(baseURL string, timeout time.Duration) *http.Client {
	key := fmt.Sprintf("%s|%s", baseURL, timeout)

	p.mu.RLock()
	client, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return client
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client
	}
	client = &http.Client{Timeout: timeout}
	p.clients[key] = client
	return client
}

// Size returns the number of cached clients.
func (p *ClientPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Clear drops every cached client.
func (p *ClientPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients = make(map[string]*http.Client)
}
