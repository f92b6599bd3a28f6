package perf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Errors
var (
	ErrInvalidLoadAverage  = errors.New("invalid load average format")
	ErrTemperatureNotFound = errors.New("temperature sensors not found")
)

// thermalZones are tried in order, relative to the monitor root.
var thermalZones = []string{
	"sys/class/thermal/thermal_zone0/temp",
	"sys/class/thermal/thermal_zone1/temp",
	"sys/class/thermal/thermal_zone2/temp",
	"sys/devices/virtual/thermal/thermal_zone0/temp",
}

// Sample is one reading of the system probes.
type Sample struct {
	LoadAvg        float64   `json:"load_avg"`
	TemperatureC   float64   `json:"temperature_c"`
	HasTemperature bool      `json:"has_temperature"`
	MemoryUsedPct  float64   `json:"memory_used_pct"`
	TakenAt        time.Time `json:"taken_at"`
}

// Monitor tracks system performance metrics
type Monitor struct {
	root string

	mu   sync.RWMutex
	last Sample
}

// NewMonitor creates a new performance monitor reading the live /proc and
// /sys trees.
func NewMonitor() *Monitor {
	return NewMonitorAt("/")
}

// NewMonitorAt reads proc and sys files below root instead of "/".
func NewMonitorAt(root string) *Monitor {
	return &Monitor{root: root}
}

// UpdateStats refreshes the sample. Only a missing load average is an
// error; hosts without thermal zones report HasTemperature=false.
func (m *Monitor) UpdateStats() (Sample, error) {
	var s Sample
	var err error

	s.LoadAvg, err = m.readLoadAverage()
	if err != nil {
		return m.Last(), err
	}

	if temp, err := m.readTemperature(); err == nil {
		s.TemperatureC = temp
		s.HasTemperature = true
	}

	// Non-critical, ignore errors
	s.MemoryUsedPct, _ = m.readMemoryUsage()
	s.TakenAt = time.Now()

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s, nil
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) path(rel string) string {
	return filepath.Join(m.root, rel)
}

// readLoadAverage reads the 1-minute system load average
func (m *Monitor) readLoadAverage() (float64, error) {
	data, err := os.ReadFile(m.path("proc/loadavg"))
	if err != nil {
		return 0, errors.Wrap(err, "read loadavg")
	}

	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, ErrInvalidLoadAverage
	}

	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidLoadAverage, err.Error())
	}
	return load, nil
}

// readTemperature averages the readable thermal zones
func (m *Monitor) readTemperature() (float64, error) {
	var totalTemp float64
	var count int

	for _, zone := range thermalZones {
		data, err := os.ReadFile(m.path(zone))
		if err != nil {
			continue
		}
		tempStr := strings.TrimSpace(string(data))
		if temp, err := strconv.ParseFloat(tempStr, 64); err == nil {
			// Temperature is in millidegrees Celsius
			totalTemp += temp / 1000.0
			count++
		}
	}

	if count == 0 {
		return 0, ErrTemperatureNotFound
	}
	return totalTemp / float64(count), nil
}

// readMemoryUsage returns used memory as a percentage of MemTotal
func (m *Monitor) readMemoryUsage() (float64, error) {
	data, err := os.ReadFile(m.path("proc/meminfo"))
	if err != nil {
		return 0, err
	}

	var memTotal, memAvailable int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		switch fields[0] {
		case "MemTotal:":
			memTotal, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			memAvailable, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}

	if memTotal <= 0 {
		return 0, nil
	}
	return 100.0 * float64(memTotal-memAvailable) / float64(memTotal), nil
}
