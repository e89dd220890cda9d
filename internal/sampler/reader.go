package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tinytelemetry/beacon/internal/model"
)

// ErrPriming is returned by the first CPU read, which only establishes the
// baseline counters that later reads are measured against.
var ErrPriming = errors.New("sampler: cpu counters priming")

// Reader reads host and process resource usage.
type Reader interface {
	CPU(ctx context.Context) (model.CPUSample, error)
	Memory(ctx context.Context) (model.MemorySample, error)
}

// HostReader reads the current process and host through gopsutil.
type HostReader struct {
	proc  *process.Process
	ncpu  float64
	mu    sync.Mutex
	first bool
}

// NewHostReader creates a reader for the running process.
func NewHostReader() (*HostReader, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("sampler: open process: %w", err)
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return &HostReader{proc: proc, ncpu: float64(n), first: true}, nil
}

// CPU returns process and system CPU load as ratios in [0,1], measured since
// the previous call. The first call primes the counters and returns ErrPriming.
func (r *HostReader) CPU(ctx context.Context) (model.CPUSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	procPct, err := r.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return model.CPUSample{}, fmt.Errorf("sampler: process cpu: %w", err)
	}
	sysPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return model.CPUSample{}, fmt.Errorf("sampler: system cpu: %w", err)
	}

	if r.first {
		r.first = false
		return model.CPUSample{}, ErrPriming
	}
	sample := model.CPUSample{Process: clampRatio(procPct / (100 * r.ncpu))}
	if len(sysPct) > 0 {
		sample.System = clampRatio(sysPct[0] / 100)
	}
	return sample, nil
}

// Memory returns process resident and virtual size plus host used memory.
func (r *HostReader) Memory(ctx context.Context) (model.MemorySample, error) {
	info, err := r.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return model.MemorySample{}, fmt.Errorf("sampler: process memory: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.MemorySample{}, fmt.Errorf("sampler: host memory: %w", err)
	}
	return model.MemorySample{
		ProcessBytes: info.RSS,
		SystemBytes:  vm.Used,
		VirtualBytes: info.VMS,
	}, nil
}

func clampRatio(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Environment describes the host for dashboard clients. Fields that cannot be
// read are reported empty.
func Environment(ctx context.Context) []model.EnvEntry {
	hostname, arch := "", runtime.GOARCH
	if info, err := host.InfoWithContext(ctx); err == nil {
		hostname = info.Hostname
		if info.KernelArch != "" {
			arch = info.KernelArch
		}
	} else if h, err := os.Hostname(); err == nil {
		hostname = h
	}

	processors := runtime.NumCPU()
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		processors = n
	}

	return []model.EnvEntry{
		{Parameter: model.EnvCommandLine, Value: strings.Join(os.Args, " ")},
		{Parameter: model.EnvHostname, Value: hostname},
		{Parameter: model.EnvNumProcessors, Value: strconv.Itoa(processors)},
		{Parameter: model.EnvOSArch, Value: arch},
	}
}
