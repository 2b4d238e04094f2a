package proxy

import (
	"sync"
)

// Manager rotates the outbound proxies handed to new browser sessions and
// holds the user agent they present.
type Manager struct {
	proxies    []string
	userAgent  string
	mu         sync.Mutex
	proxyIndex int
}

// NewManager returns a Manager over proxies. An empty list means every
// session connects directly.
func NewManager(proxies []string, userAgent string) *Manager {
	return &Manager{
		proxies:   append([]string(nil), proxies...),
		userAgent: userAgent,
	}
}

// GetProxy returns a proxy URL from the list, rotating sequentially.
func (m *Manager) GetProxy() string {
	if len(m.proxies) == 0 {
		return "" // No proxy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	proxy := m.proxies[m.proxyIndex]
	m.proxyIndex = (m.proxyIndex + 1) % len(m.proxies)
	return proxy
}

// GetUserAgent returns the user agent every session presents.
func (m *Manager) GetUserAgent() string {
	return m.userAgent
}

func (m *Manager) Len() int { return len(m.proxies) }
