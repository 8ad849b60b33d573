package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	errorsSource  int64
	errorsWriter  int64
	warnsSource   int64
	warnsWriter   int64
	payloadsRead  int64
	tradesStored  int64
	archiveWrites int64
	flows         sync.Map // map[string]*flowStat
)

func recordWarn(component string) {
	if strings.Contains(component, "source") {
		atomic.AddInt64(&warnsSource, 1)
	} else if strings.Contains(component, "writer") || strings.Contains(component, "store") {
		atomic.AddInt64(&warnsWriter, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "source") {
		atomic.AddInt64(&errorsSource, 1)
	} else if strings.Contains(component, "writer") || strings.Contains(component, "store") {
		atomic.AddInt64(&errorsWriter, 1)
	}
}

// IncrementPayloadRead records one upstream payload fetched by a source
// adapter together with its size in bytes.
func IncrementPayloadRead(size int) {
	atomic.AddInt64(&payloadsRead, 1)
	recordFlow("source_fetch", size)
}

// IncrementTradesStored records rows inserted by the persistence sink.
func IncrementTradesStored(count int) {
	atomic.AddInt64(&tradesStored, int64(count))
	recordFlow("postgres_write", count)
}

// IncrementArchiveWrite records one raw payload archived to S3.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordFlow("s3_archive_write", int(size))
}

// RecordFlowMessage tracks an arbitrary named data flow.
func RecordFlowMessage(name string, size int) {
	recordFlow(name, size)
}

func recordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// StartReport begins periodic logging of system and data flow statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	flowData := map[string]map[string]int64{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	fields := Fields{
		"errors_source":  atomic.LoadInt64(&errorsSource),
		"errors_writer":  atomic.LoadInt64(&errorsWriter),
		"warns_source":   atomic.LoadInt64(&warnsSource),
		"warns_writer":   atomic.LoadInt64(&warnsWriter),
		"payloads_read":  atomic.LoadInt64(&payloadsRead),
		"trades_stored":  atomic.LoadInt64(&tradesStored),
		"archive_writes": atomic.LoadInt64(&archiveWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"flows":          flowData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsSource"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_source"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_writer"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsSource"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_source"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_writer"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("PayloadsRead"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["payloads_read"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TradesStored"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["trades_stored"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
	)

	for name, stats := range flowData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("FlowBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Flow"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
