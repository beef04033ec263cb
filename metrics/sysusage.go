package metrics

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// minCPUTickInterval is the minimum number of clock ticks that must have
// accrued since the previous /proc/stat sample before a new CPU fraction
// is trusted, matching SysUsage::isCpuUsageReady's "pretty small and non
// zero" constant.
const minCPUTickInterval = 16

// clockTicksPerSec approximates sysconf(_SC_CLK_TCK); Linux almost always
// reports 100, and the original itself notes this varies by platform.
const clockTicksPerSec = 100

type cpuPerf struct {
	prevTick uint64
	prevTime time.Time
	fraction float64
}

func (c *cpuPerf) set(now time.Time, currTick uint64, fractionScale float64) {
	if c.prevTick == 0 {
		c.fraction = 0
	} else {
		deltaTime := now.Sub(c.prevTime).Seconds()
		deltaTick := float64(currTick - c.prevTick)
		if deltaTime > 0 {
			c.fraction = (deltaTick / (deltaTime * clockTicksPerSec)) * fractionScale
		}
	}
	c.prevTick = currTick
	c.prevTime = now
}

// SysUsage samples CPU, memory, and network-throughput usage from /proc,
// matching original_source's SysUsage. CPU and network readings need two
// samples to produce a delta; call UpdateCPUUsage / UpdateNetIO once
// before trusting IsCPUUsageReady / the net accessors.
type SysUsage struct {
	mu sync.Mutex

	cpuTotal int
	all      cpuPerf
	cores    []cpuPerf

	netRecvBps   float64
	netSendBps   float64
	prevNetRecv  uint64
	prevNetSend  uint64
	prevNetTime  time.Time
	netEverRead  bool

	cpuDesc *prometheus.Desc
	memDesc *prometheus.Desc
	netDesc *prometheus.Desc
}

// NewSysUsage creates a sampler sized to the host's reported CPU count.
func NewSysUsage() *SysUsage {
	n := runtime.NumCPU()
	return &SysUsage{
		cpuTotal: n,
		cores:    make([]cpuPerf, n),
		cpuDesc: prometheus.NewDesc(
			"mcrt_dataio_cpu_usage_fraction", "Aggregate CPU usage fraction, 0..1.", nil, nil),
		memDesc: prometheus.NewDesc(
			"mcrt_dataio_mem_usage_fraction", "Memory usage fraction, 0..1.", nil, nil),
		netDesc: prometheus.NewDesc(
			"mcrt_dataio_net_bytes_per_sec", "Network throughput in bytes/sec.", []string{"direction"}, nil),
	}
}

// GetCPUTotal returns the number of logical CPUs this sampler tracks.
func (s *SysUsage) GetCPUTotal() int { return s.cpuTotal }

// IsCPUUsageReady reports whether enough ticks have accrued since the
// previous UpdateCPUUsage call for the fraction to be meaningful.
func (s *SysUsage) IsCPUUsageReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.all.prevTime.IsZero() {
		return false
	}
	elapsedTicks := time.Since(s.all.prevTime).Seconds() * clockTicksPerSec
	return elapsedTicks > minCPUTickInterval
}

// UpdateCPUUsage reads /proc/stat, updates per-core and aggregate
// fractions, and returns the aggregate CPU usage fraction (0..1, negative
// on error).
func (s *SysUsage) UpdateCPUUsage() (float64, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return -1, fmt.Errorf("metrics: open /proc/stat: %w", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "cpu") {
			break
		}

		usr, err1 := strconv.ParseUint(fields[1], 10, 64)
		nice, err2 := strconv.ParseUint(fields[2], 10, 64)
		sys, err3 := strconv.ParseUint(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		currTick := usr + nice + sys

		if fields[0] == "cpu" {
			s.all.set(now, currTick, 1.0/float64(s.cpuTotal))
			continue
		}
		idStr := strings.TrimPrefix(fields[0], "cpu")
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 || id >= len(s.cores) {
			continue
		}
		s.cores[id].set(now, currTick, 1.0)
	}
	return s.all.fraction, scanner.Err()
}

// GetCoreUsage returns the last-sampled per-core usage fractions.
func (s *SysUsage) GetCoreUsage() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.cores))
	for i := range s.cores {
		out[i] = s.cores[i].fraction
	}
	return out
}

// GetMemUsage reads /proc/meminfo and returns the used-memory fraction,
// 0..1, matching SysUsage::getMemUsage's sysinfo()-based computation.
func GetMemUsage() (float64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return -1, fmt.Errorf("metrics: open /proc/meminfo: %w", err)
	}
	defer f.Close()

	var totalKB, availableKB uint64
	var haveTotal, haveAvailable bool

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
			haveTotal = true
		case "MemAvailable:":
			availableKB, _ = strconv.ParseUint(fields[1], 10, 64)
			haveAvailable = true
		}
		if haveTotal && haveAvailable {
			break
		}
	}
	if !haveTotal || totalKB == 0 {
		return -1, fmt.Errorf("metrics: MemTotal not found in /proc/meminfo")
	}
	if !haveAvailable {
		return -1, fmt.Errorf("metrics: MemAvailable not found in /proc/meminfo")
	}
	used := float64(totalKB-availableKB) / float64(totalKB)
	return used, nil
}

// UpdateNetIO parses /proc/net/dev, taking the largest row's receive and
// transmit byte counters (the original's heuristic for "the active NIC"
// when the device name is unknown ahead of time), and computes bytes/sec
// since the previous successful call. ok is false on the first call (no
// previous sample to delta against) or if nothing changed.
func (s *SysUsage) UpdateNetIO() (ok bool) {
	recv, send, err := readNetIOMax()
	if err != nil || recv == 0 || send == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deltaRecv := recv - s.prevNetRecv
	deltaSend := send - s.prevNetSend
	if deltaRecv == 0 || deltaSend == 0 {
		return false
	}

	now := time.Now()
	if s.netEverRead {
		deltaTime := now.Sub(s.prevNetTime).Seconds()
		if deltaTime > 0 {
			s.netRecvBps = float64(deltaRecv) / deltaTime
			s.netSendBps = float64(deltaSend) / deltaTime
		}
	}
	s.prevNetRecv = recv
	s.prevNetSend = send
	s.prevNetTime = now
	hadPrevious := s.netEverRead
	s.netEverRead = true
	return hadPrevious
}

// GetNetRecv returns the last-computed receive throughput in bytes/sec.
func (s *SysUsage) GetNetRecv() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netRecvBps
}

// GetNetSend returns the last-computed transmit throughput in bytes/sec.
func (s *SysUsage) GetNetSend() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netSendBps
}

func readNetIOMax() (recv, send uint64, err error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0, fmt.Errorf("metrics: open /proc/net/dev: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		fields := strings.Fields(line[colon+1:])
		if len(fields) < 9 {
			continue
		}
		r, err1 := strconv.ParseUint(fields[0], 10, 64)
		sendVal, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if r > recv {
			recv = r
		}
		if sendVal > send {
			send = sendVal
		}
	}
	return recv, send, scanner.Err()
}

// Describe implements prometheus.Collector.
func (s *SysUsage) Describe(descs chan<- *prometheus.Desc) {
	descs <- s.cpuDesc
	descs <- s.memDesc
	descs <- s.netDesc
}

// Collect implements prometheus.Collector, sampling CPU and memory fresh
// and reporting the last-computed network rates (UpdateNetIO must be
// driven by a caller on its own cadence, since it needs a wall-clock
// delta rather than being safe to call on every scrape).
func (s *SysUsage) Collect(out chan<- prometheus.Metric) {
	cpuFrac, err := s.UpdateCPUUsage()
	if err == nil && s.IsCPUUsageReady() {
		out <- prometheus.MustNewConstMetric(s.cpuDesc, prometheus.GaugeValue, cpuFrac)
	}
	if memFrac, err := GetMemUsage(); err == nil {
		out <- prometheus.MustNewConstMetric(s.memDesc, prometheus.GaugeValue, memFrac)
	}
	out <- prometheus.MustNewConstMetric(s.netDesc, prometheus.GaugeValue, s.GetNetRecv(), "recv")
	out <- prometheus.MustNewConstMetric(s.netDesc, prometheus.GaugeValue, s.GetNetSend(), "send")
}
