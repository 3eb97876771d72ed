// Package health reports the relay's own resource usage for the
// /api/health endpoint.
package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Probe struct {
	start time.Time
	proc  *process.Process
}

func NewProbe() *Probe {
	p := &Probe{start: time.Now()}
	// Best-effort: on platforms where the process handle can't be
	// opened, the report just omits RSS and CPU.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		p.proc = proc
	}
	return p
}

type Report struct {
	UptimeSeconds float64
	RSSBytes      uint64
	CPUPercent    float64
	Goroutines    int
}

func (p *Probe) Report() Report {
	r := Report{
		UptimeSeconds: time.Since(p.start).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if p.proc != nil {
		if mi, err := p.proc.MemoryInfo(); err == nil && mi != nil {
			r.RSSBytes = mi.RSS
		}
		if cpu, err := p.proc.CPUPercent(); err == nil {
			r.CPUPercent = cpu
		}
	}
	return r
}
