package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	warns    sync.Map // component -> *int64
	errs     sync.Map // component -> *int64
	channels sync.Map // name -> *channelStat
)

func recordWarn(component string) {
	v, _ := warns.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordError(component string) {
	v, _ := errs.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

// RecordChannelMessage accounts one message of the given size passing
// through a named channel.
func RecordChannelMessage(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// ReportExtra contributes additional fields to every runtime report.
type ReportExtra func() Fields

// StartReport begins periodic logging of system and channel statistics until
// ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration, extras ...ReportExtra) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, extras...)
			}
		}
	}()
}

func logReport(log *Log, extras ...ReportExtra) Fields {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := int64(0)
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = int64(vm.Used) / 1024 / 1024
	}

	fields := Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"warns":       loadCounts(&warns),
		"errors":      loadCounts(&errs),
		"channels":    channelSnapshot(),
	}
	for _, extra := range extras {
		if extra == nil {
			continue
		}
		for k, v := range extra() {
			fields[k] = v
		}
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
	return fields
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func channelSnapshot() map[string]map[string]int64 {
	names := []string{}
	channels.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)

	out := make(map[string]map[string]int64, len(names))
	for _, name := range names {
		v, _ := channels.Load(name)
		cs := v.(*channelStat)
		out[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
	}
	return out
}
