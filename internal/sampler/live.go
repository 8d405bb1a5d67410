package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/pkg/types"
)

const bytesPerGB = 1 << 30

// LiveSource samples the host's OS counters at a fixed period.
type LiveSource struct {
	logger *zap.Logger
	ticker *time.Ticker
	period time.Duration

	lastTick  time.Time
	readRate  RateTracker
	writeRate RateTracker
	sentRate  RateTracker
	recvRate  RateTracker
}

// NewLiveSource creates a live source ticking at the given period. The first
// CPU reading is primed here so the first emitted sample already reflects
// utilization over a real interval.
func NewLiveSource(period time.Duration, logger *zap.Logger) (*LiveSource, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sampler: period must be positive, got %v", period)
	}

	// Prime the delta-based CPU reading; the first Percent(0) call after this
	// returns utilization since now.
	if _, err := cpu.Percent(0, false); err != nil {
		return nil, fmt.Errorf("sampler: cpu counters unavailable: %w", err)
	}

	return &LiveSource{
		logger: logger,
		ticker: time.NewTicker(period),
		period: period,
	}, nil
}

// Next blocks until the next tick, then reads all counter groups. A failed
// group zeroes its fields and logs a warning; the sample is still emitted.
// Only the failure of every group in one tick is fatal.
func (s *LiveSource) Next(ctx context.Context) (types.MetricSample, error) {
	select {
	case <-ctx.Done():
		return types.MetricSample{}, ctx.Err()
	case now := <-s.ticker.C:
		return s.read(ctx, now)
	}
}

func (s *LiveSource) read(ctx context.Context, now time.Time) (types.MetricSample, error) {
	sample := types.MetricSample{Timestamp: now}

	elapsed := s.period.Seconds()
	if !s.lastTick.IsZero() {
		elapsed = now.Sub(s.lastTick).Seconds()
	}
	s.lastTick = now

	failures := 0

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil || len(percents) == 0 {
		failures++
		metrics.SampleReadFailures.WithLabelValues("cpu").Inc()
		s.logger.Warn("cpu counter read failed", zap.Error(err))
	} else {
		sample.CPUPercent = percents[0]
	}

	// Frequency is best-effort; many virtualized hosts report nothing.
	if infos, err := cpu.InfoWithContext(ctx); err != nil || len(infos) == 0 {
		metrics.SampleReadFailures.WithLabelValues("frequency").Inc()
	} else {
		sample.CPUFrequencyMHz = infos[0].Mhz
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		failures++
		metrics.SampleReadFailures.WithLabelValues("memory").Inc()
		s.logger.Warn("memory counter read failed", zap.Error(err))
	} else {
		sample.MemoryPercent = vm.UsedPercent
		sample.MemoryAvailGB = float64(vm.Available) / bytesPerGB
	}

	if counters, err := disk.IOCountersWithContext(ctx); err != nil {
		failures++
		metrics.SampleReadFailures.WithLabelValues("disk").Inc()
		s.logger.Warn("disk counter read failed", zap.Error(err))
	} else {
		var readBytes, writeBytes uint64
		for _, c := range counters {
			readBytes += c.ReadBytes
			writeBytes += c.WriteBytes
		}
		sample.DiskReadMBs = s.readRate.Update(readBytes, elapsed)
		sample.DiskWriteMBs = s.writeRate.Update(writeBytes, elapsed)
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err != nil || len(counters) == 0 {
		failures++
		metrics.SampleReadFailures.WithLabelValues("network").Inc()
		s.logger.Warn("network counter read failed", zap.Error(err))
	} else {
		sample.NetworkSentMBs = s.sentRate.Update(counters[0].BytesSent, elapsed)
		sample.NetworkRecvMBs = s.recvRate.Update(counters[0].BytesRecv, elapsed)
	}

	// All four counter groups failing at once means the OS stopped serving
	// this process; the engine transitions to error.
	if failures == 4 {
		return types.MetricSample{}, fmt.Errorf("sampler: all counter groups failed")
	}

	return sample, nil
}

// Close stops the tick timer.
func (s *LiveSource) Close() error {
	s.ticker.Stop()
	return nil
}
