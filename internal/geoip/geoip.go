// Package geoip resolves peer endpoint addresses to country codes for the
// statistics views. The database is optional; without one every lookup
// returns the empty string and callers omit the country field.
package geoip

import (
	"fmt"
	"log"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// Resolver performs country lookups against an mmdb database.
// The zero value is a valid resolver that knows nothing.
type Resolver struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
}

// Open loads an mmdb database from path. An empty path yields a resolver
// with no database.
func Open(path string) (*Resolver, error) {
	r := &Resolver{}
	if path == "" {
		return r, nil
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	r.reader = reader
	log.Printf("[geoip] loaded database %s", path)
	return r, nil
}

// Close releases the underlying database.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Country returns the ISO country code for addr, or "" when no database is
// loaded or the address is unknown.
func (r *Resolver) Country(addr netip.Addr) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil || !addr.IsValid() {
		return ""
	}
	var rec countryRecord
	if err := r.reader.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

// CountryForEndpoint parses a "host:port" or bare address endpoint string
// and resolves its country. Unparseable endpoints resolve to "".
func (r *Resolver) CountryForEndpoint(endpoint string) string {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return ""
	}
	return r.Country(addr)
}
