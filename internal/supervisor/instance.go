package supervisor

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// ServerInstance is one backend unit accepting connections.
// Identity fields are immutable after registration; occupancy and health use
// atomics for concurrent hot-path reads.
type ServerInstance struct {
	ID       string
	Host     string
	Port     int
	Capacity int64
	Weight   float64

	active            atomic.Int64
	healthy           atomic.Bool
	lastHealthCheckNs atomic.Int64
}

func newServerInstance(id, host string, port int, capacity int64, weight float64) *ServerInstance {
	inst := &ServerInstance{
		ID:       id,
		Host:     host,
		Port:     port,
		Capacity: capacity,
		Weight:   weight,
	}
	inst.healthy.Store(true)
	return inst
}

// Active returns the current active-connection count.
func (i *ServerInstance) Active() int64 {
	return i.active.Load()
}

// Healthy returns the last recorded health flag.
func (i *ServerInstance) Healthy() bool {
	return i.healthy.Load()
}

// Utilization returns active/capacity in [0, +inf).
func (i *ServerInstance) Utilization() float64 {
	if i.Capacity <= 0 {
		return 1
	}
	return float64(i.active.Load()) / float64(i.Capacity)
}

// HasCapacity reports whether a new connection can be placed here.
func (i *ServerInstance) HasCapacity() bool {
	return i.active.Load() < i.Capacity
}

// tryAcquire reserves one connection slot if under capacity.
func (i *ServerInstance) tryAcquire() bool {
	for {
		cur := i.active.Load()
		if cur >= i.Capacity {
			return false
		}
		if i.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release frees one connection slot, floored at zero.
func (i *ServerInstance) release() {
	for {
		cur := i.active.Load()
		if cur <= 0 {
			return
		}
		if i.active.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// InstanceSnapshot is the read-only view served to the dashboard.
type InstanceSnapshot struct {
	ID                string  `json:"id"`
	Host              string  `json:"host"`
	Port              int     `json:"port"`
	Capacity          int64   `json:"capacity"`
	Weight            float64 `json:"weight"`
	Active            int64   `json:"active"`
	Healthy           bool    `json:"healthy"`
	Utilization       float64 `json:"utilization"`
	LastHealthCheckNs int64   `json:"last_health_check_ns"`
}

func (i *ServerInstance) snapshot() InstanceSnapshot {
	return InstanceSnapshot{
		ID:                i.ID,
		Host:              i.Host,
		Port:              i.Port,
		Capacity:          i.Capacity,
		Weight:            i.Weight,
		Active:            i.active.Load(),
		Healthy:           i.healthy.Load(),
		Utilization:       i.Utilization(),
		LastHealthCheckNs: i.lastHealthCheckNs.Load(),
	}
}

// HealthCheckFunc probes one instance and reports whether it is serving.
type HealthCheckFunc func(inst *ServerInstance) bool

// TCPHealthCheck returns a HealthCheckFunc that dials the instance address
// with the given timeout. This is the production default.
func TCPHealthCheck(timeout time.Duration) HealthCheckFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(inst *ServerInstance) bool {
		addr := net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port))
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}
