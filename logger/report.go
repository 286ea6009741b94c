package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed    int64
	errorsOther   int64
	warnsFeed     int64
	warnsOther    int64
	framesRead    int64
	reconnects    int64
	opportunities int64
	channels      sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.HasSuffix(component, "_feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else {
		atomic.AddInt64(&warnsOther, 1)
	}
}

func recordError(component string) {
	if strings.HasSuffix(component, "_feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else {
		atomic.AddInt64(&errorsOther, 1)
	}
}

// IncrementFrameRead counts a websocket frame received from a venue.
func IncrementFrameRead(venue string, size int) {
	atomic.AddInt64(&framesRead, 1)
	recordChannel(venue+"_ws", size)
}

// IncrementReconnect counts a feed entering backoff.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementOpportunity counts a reported opportunity.
func IncrementOpportunity() {
	atomic.AddInt64(&opportunities, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport logs runtime and feed statistics every interval until ctx is
// done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	return Fields{
		"errors_feed":   atomic.LoadInt64(&errorsFeed),
		"errors_other":  atomic.LoadInt64(&errorsOther),
		"warns_feed":    atomic.LoadInt64(&warnsFeed),
		"warns_other":   atomic.LoadInt64(&warnsOther),
		"frames_read":   atomic.LoadInt64(&framesRead),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"opportunities": atomic.LoadInt64(&opportunities),
		"goroutines":    runtime.NumGoroutine(),
		"channels":      channelData,
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()

	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	memMB := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}
	fields["cpu_percent"] = cpuPct
	fields["memory_mb"] = int64(memMB)

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	count := func(name string, key string) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields[key].(int64)))}
	}
	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		count("FramesRead", "frames_read"),
		count("Reconnects", "reconnects"),
		count("OpportunitiesReported", "opportunities"),
		count("FeedErrors", "errors_feed"),
		count("FeedWarnings", "warns_feed"),
	})
}
