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
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsQuote    int64
	errorsTrade    int64
	warnsQuote     int64
	warnsTrade     int64
	quoteReads     int64
	tradeReads     int64
	recorderWrites int64
	ledgerPubs     int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "quote") {
		atomic.AddInt64(&warnsQuote, 1)
	} else if strings.Contains(component, "trade") {
		atomic.AddInt64(&warnsTrade, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "quote") {
		atomic.AddInt64(&errorsQuote, 1)
	} else if strings.Contains(component, "trade") {
		atomic.AddInt64(&errorsTrade, 1)
	}
}

func IncrementQuoteRead(size int) {
	atomic.AddInt64(&quoteReads, 1)
	recordChannel("quote_session", size)
}

func IncrementTradeRead(size int) {
	atomic.AddInt64(&tradeReads, 1)
	recordChannel("trade_session", size)
}

func IncrementRecorderWrite(size int64) {
	atomic.AddInt64(&recorderWrites, 1)
	recordChannel("recorder_flush", int(size))
}

func IncrementLedgerPublish(size int) {
	atomic.AddInt64(&ledgerPubs, 1)
	recordChannel("ledger_publish", size)
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

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
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
		"errors_quote":    atomic.LoadInt64(&errorsQuote),
		"errors_trade":    atomic.LoadInt64(&errorsTrade),
		"warns_quote":     atomic.LoadInt64(&warnsQuote),
		"warns_trade":     atomic.LoadInt64(&warnsTrade),
		"quote_reads":     atomic.LoadInt64(&quoteReads),
		"trade_reads":     atomic.LoadInt64(&tradeReads),
		"recorder_writes": atomic.LoadInt64(&recorderWrites),
		"ledger_pubs":     atomic.LoadInt64(&ledgerPubs),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsQuote"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_quote"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_trade"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsQuote"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_quote"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsTrade"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_trade"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("QuoteReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quote_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("TradeReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["trade_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RecorderWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["recorder_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("LedgerPublishes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ledger_pubs"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
