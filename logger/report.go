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
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type sourceStat struct {
	listings int64
	bytes    int64
}

var (
	errorsReader      int64
	errorsWriter      int64
	warnsReader       int64
	warnsWriter       int64
	pagesFetched      int64
	fetchFailures     int64
	listingsAccepted  int64
	rejectedOutOfBand int64
	rejectedMalformed int64
	sidesSkipped      int64
	recordsAppended   int64
	appendFailures    int64
	archiveWrites     int64
	sources           sync.Map // map[string]*sourceStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsReader, 1)
	} else if strings.Contains(component, "writer") || strings.Contains(component, "sink") {
		atomic.AddInt64(&warnsWriter, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsReader, 1)
	} else if strings.Contains(component, "writer") || strings.Contains(component, "sink") {
		atomic.AddInt64(&errorsWriter, 1)
	}
}

// IncrementPageFetch records one successful page fetch of the given payload
// size for the named source.
func IncrementPageFetch(source string, size int) {
	atomic.AddInt64(&pagesFetched, 1)
	recordSource(source, size)
}

func IncrementFetchFailure() {
	atomic.AddInt64(&fetchFailures, 1)
}

func IncrementAccepted(n int) {
	atomic.AddInt64(&listingsAccepted, int64(n))
}

func IncrementRejectedOutOfBand(n int) {
	atomic.AddInt64(&rejectedOutOfBand, int64(n))
}

func IncrementRejectedMalformed(n int) {
	atomic.AddInt64(&rejectedMalformed, int64(n))
}

func IncrementSideSkipped() {
	atomic.AddInt64(&sidesSkipped, 1)
}

func IncrementAppended(n int) {
	atomic.AddInt64(&recordsAppended, int64(n))
}

func IncrementAppendFailure() {
	atomic.AddInt64(&appendFailures, 1)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
}

func recordSource(name string, size int) {
	v, _ := sources.LoadOrStore(name, &sourceStat{})
	ss := v.(*sourceStat)
	atomic.AddInt64(&ss.listings, 1)
	atomic.AddInt64(&ss.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
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

// StartReport begins periodic logging of system and ingestion statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	sourceData := map[string]map[string]int64{}
	sources.Range(func(k, v any) bool {
		name := k.(string)
		ss := v.(*sourceStat)
		sourceData[name] = map[string]int64{
			"pages": atomic.LoadInt64(&ss.listings),
			"bytes": atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_reader":       atomic.LoadInt64(&errorsReader),
		"errors_writer":       atomic.LoadInt64(&errorsWriter),
		"warns_reader":        atomic.LoadInt64(&warnsReader),
		"warns_writer":        atomic.LoadInt64(&warnsWriter),
		"pages_fetched":       atomic.LoadInt64(&pagesFetched),
		"fetch_failures":      atomic.LoadInt64(&fetchFailures),
		"listings_accepted":   atomic.LoadInt64(&listingsAccepted),
		"rejected_out_of_band": atomic.LoadInt64(&rejectedOutOfBand),
		"rejected_malformed":  atomic.LoadInt64(&rejectedMalformed),
		"sides_skipped":       atomic.LoadInt64(&sidesSkipped),
		"records_appended":    atomic.LoadInt64(&recordsAppended),
		"append_failures":     atomic.LoadInt64(&appendFailures),
		"archive_writes":      atomic.LoadInt64(&archiveWrites),
		"goroutines":          runtime.NumGoroutine(),
		"cpu_percent":         cpuPct,
		"memory_mb":           int64(memStats.Used) / 1024 / 1024,
		"disk_mb":             int64(diskStats.Used) / 1024 / 1024,
		"sources":             sourceData,
		"net_bytes_sent":      int64(bytesSent),
		"net_bytes_recv":      int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("P2P-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-ErrorsReader"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsReader)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-ErrorsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsWriter)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-PagesFetched"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&pagesFetched)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-FetchFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&fetchFailures)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-ListingsAccepted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&listingsAccepted)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-ListingsRejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&rejectedOutOfBand) + atomic.LoadInt64(&rejectedMalformed)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-SidesSkipped"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&sidesSkipped)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-RecordsAppended"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&recordsAppended)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-AppendFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&appendFailures)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&archiveWrites)))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("P2P-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range sourceData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("P2P-SourcePages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Source"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["pages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("P2P-SourceBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Source"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
