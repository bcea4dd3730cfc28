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
)

type topicStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream int64
	errorsRest   int64
	warnsStream  int64
	warnsRest    int64
	reconnects   int64
	pollCycles   int64
	fillsSeen    int64
	topics       sync.Map // map[string]*topicStat
)

func recordWarn(component string) {
	if strings.Contains(component, "session") || strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "poll") || strings.Contains(component, "venue") {
		atomic.AddInt64(&warnsRest, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "session") || strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "poll") || strings.Contains(component, "venue") {
		atomic.AddInt64(&errorsRest, 1)
	}
}

// IncrementReconnect counts one WebSocket reconnect attempt.
func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

// IncrementPollCycle counts one completed poll loop iteration.
func IncrementPollCycle() {
	atomic.AddInt64(&pollCycles, 1)
}

// IncrementFill counts one fill event observed on the bus.
func IncrementFill() {
	atomic.AddInt64(&fillsSeen, 1)
}

// RecordTopicMessage tracks message count and payload size per bus topic.
func RecordTopicMessage(name string, size int) {
	recordTopic(name, size)
}

func recordTopic(name string, size int) {
	v, _ := topics.LoadOrStore(name, &topicStat{})
	ts := v.(*topicStat)
	atomic.AddInt64(&ts.messages, 1)
	atomic.AddInt64(&ts.bytes, int64(size))
}

// StartReport begins periodic logging of runtime and connector statistics.
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
	topicData := map[string]map[string]int64{}
	topics.Range(func(k, v any) bool {
		name := k.(string)
		ts := v.(*topicStat)
		topicData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&ts.messages),
			"bytes":    atomic.LoadInt64(&ts.bytes),
		}
		return true
	})

	fields := Fields{
		"errors_stream": atomic.LoadInt64(&errorsStream),
		"errors_rest":   atomic.LoadInt64(&errorsRest),
		"warns_stream":  atomic.LoadInt64(&warnsStream),
		"warns_rest":    atomic.LoadInt64(&warnsRest),
		"reconnects":    atomic.LoadInt64(&reconnects),
		"poll_cycles":   atomic.LoadInt64(&pollCycles),
		"fills":         atomic.LoadInt64(&fillsSeen),
		"goroutines":    runtime.NumGoroutine(),
		"topics":        topicData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsStream)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsRest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsRest)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsStream)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsRest"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsRest)))},
		cwtypes.MetricDatum{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reconnects)))},
		cwtypes.MetricDatum{MetricName: aws.String("PollCycles"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&pollCycles)))},
		cwtypes.MetricDatum{MetricName: aws.String("Fills"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&fillsSeen)))},
	)

	for name, stats := range topicData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("TopicMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Topic"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("TopicBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Topic"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
