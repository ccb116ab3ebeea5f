// Package firewallfake is an in-memory firewall.Gateway for tests.
package firewallfake

import (
	"strings"
	"sync"

	"github.com/wepwawet/wepwawet/internal/firewall"
)

// Fake records Add/Del calls and tracks currently-live entries.
type Fake struct {
	mu      sync.Mutex
	entries []firewall.Entry
	Calls   []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{}
}

func (f *Fake) Add(iface, tag string, ipv6 bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "Add:"+iface+":"+tag)
	f.entries = append(f.entries, firewall.Entry{Iface: iface, Tag: tag, IPv6: ipv6})
	return nil
}

func (f *Fake) Del(iface, tag string, ipv6 bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "Del:"+iface+":"+tag)
	out := f.entries[:0]
	for _, e := range f.entries {
		if e.Iface == iface && e.Tag == tag {
			continue
		}
		out = append(out, e)
	}
	f.entries = out
	return nil
}

func (f *Fake) List(tagPrefix string) ([]firewall.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []firewall.Entry
	for _, e := range f.entries {
		if strings.HasPrefix(e.Tag, tagPrefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns a snapshot of all live entries, for assertions.
func (f *Fake) Entries() []firewall.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]firewall.Entry(nil), f.entries...)
}
