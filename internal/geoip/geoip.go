// Package geoip annotates client source addresses with a country code for
// the security event log. Lookup is best-effort: a missing or broken database
// yields empty annotations, never an error on the hot path.
package geoip

import (
	"fmt"
	"log"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang"
	"github.com/robfig/cron/v3"
)

// Reader abstracts the GeoIP database reader. This interface allows
// different implementations and simplifies testing.
type Reader interface {
	Country(ip netip.Addr) string
	Close() error
}

// OpenFunc opens a GeoIP database file and returns a Reader.
type OpenFunc func(path string) (Reader, error)

type mmdbReader struct {
	db *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func (r *mmdbReader) Country(ip netip.Addr) string {
	var rec countryRecord
	if err := r.db.Lookup(ip.AsSlice(), &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

func (r *mmdbReader) Close() error {
	return r.db.Close()
}

// MaxMindOpen opens a MaxMind mmdb database. This is the production OpenFunc.
func MaxMindOpen(path string) (Reader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmdbReader{db: db}, nil
}

// ServiceConfig configures the GeoIP service.
type ServiceConfig struct {
	DBPath         string   // path to the mmdb file; empty disables lookups
	ReloadSchedule string   // cron expression for re-opening the database
	OpenDB         OpenFunc // function to open the database
}

// Service provides country lookup with hot-reloading via RWMutex.
type Service struct {
	mu     sync.RWMutex
	reader Reader // nil until first successful load

	dbPath string
	openDB OpenFunc
	cron   *cron.Cron
}

// NewService creates a GeoIP service and performs the initial load.
// A failed initial load is logged, not fatal: lookups return "" until the
// next scheduled reload succeeds.
func NewService(cfg ServiceConfig) (*Service, error) {
	openDB := cfg.OpenDB
	if openDB == nil {
		openDB = MaxMindOpen
	}
	s := &Service{
		dbPath: cfg.DBPath,
		openDB: openDB,
	}
	if cfg.DBPath == "" {
		return s, nil
	}

	if err := s.Reload(); err != nil {
		log.Printf("[geoip] initial load failed: %v", err)
	}

	if cfg.ReloadSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.ReloadSchedule, func() {
			if err := s.Reload(); err != nil {
				log.Printf("[geoip] scheduled reload failed: %v", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("geoip reload schedule: %w", err)
		}
		c.Start()
		s.cron = c
	}
	return s, nil
}

// Reload re-opens the database file and swaps the active reader.
func (s *Service) Reload() error {
	if s.dbPath == "" {
		return nil
	}
	reader, err := s.openDB(s.dbPath)
	if err != nil {
		return fmt.Errorf("geoip open %s: %w", s.dbPath, err)
	}

	s.mu.Lock()
	old := s.reader
	s.reader = reader
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Lookup returns the ISO country code for an address, or "" if unknown.
func (s *Service) Lookup(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return ""
	}
	s.mu.RLock()
	reader := s.reader
	s.mu.RUnlock()
	if reader == nil {
		return ""
	}
	return reader.Country(ip)
}

// Close stops the reload schedule and closes the active reader.
func (s *Service) Close() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
}
