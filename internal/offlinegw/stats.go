package offlinegw

import (
	"math"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

type statsCollector struct {
	fromNetwork atomic.Uint64
	fromCache   atomic.Uint64
	offline     atomic.Uint64
	noResponse  atomic.Uint64
	bypass      atomic.Uint64

	totalResponses atomic.Uint64
	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(src Source, respBytes int) {
	switch src {
	case SourceNetwork:
		s.fromNetwork.Add(1)
	case SourceCache:
		s.fromCache.Add(1)
	case SourceOffline:
		s.offline.Add(1)
	case SourceBypass:
		s.bypass.Add(1)
	}

	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.totalResponses.Add(1)
	s.totalRespBytes.Add(n)
	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

func (s *statsCollector) ObserveNoResponse() { s.noResponse.Add(1) }

type statsSnapshot struct {
	Network    uint64
	Cache      uint64
	Offline    uint64
	NoResponse uint64
	Bypass     uint64

	TotalResponses uint64
	MinRespBytes   uint64
	MaxRespBytes   uint64
	AvgRespBytes   uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Network:    s.fromNetwork.Load(),
		Cache:      s.fromCache.Load(),
		Offline:    s.offline.Load(),
		NoResponse: s.noResponse.Load(),
		Bypass:     s.bypass.Load(),
	}
	count := s.totalResponses.Load()
	if count == 0 {
		return out
	}
	minv := s.minRespBytes.Load()
	if minv == math.MaxUint64 {
		minv = 0
	}
	out.TotalResponses = count
	out.MinRespBytes = minv
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = s.totalRespBytes.Load() / count
	return out
}

func (s *statsCollector) log(dynamicEntries, clients int) {
	ss := s.Snapshot()
	fields := logrus.Fields{
		"network":     ss.Network,
		"cache":       ss.Cache,
		"offline":     ss.Offline,
		"no_response": ss.NoResponse,
		"bypass":      ss.Bypass,
		"dynamic":     dynamicEntries,
		"clients":     clients,
	}
	if rss, ok := processRSSBytes(); ok {
		fields["rss"] = humanize.IBytes(rss)
	}
	logrus.WithFields(fields).Infof("[STATS] Resp min/avg/max %s/%s/%s",
		humanize.IBytes(ss.MinRespBytes),
		humanize.IBytes(ss.AvgRespBytes),
		humanize.IBytes(ss.MaxRespBytes),
	)
}
