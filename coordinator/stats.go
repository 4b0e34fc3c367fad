package coordinator

// Stats is a point-in-time snapshot of the coordinator's request counters,
// consumed by the Integration Facade's getCacheStats diagnostic.
type Stats struct {
	TotalRequests int64
	CacheHits     int64
}

// HitRate returns CacheHits/TotalRequests, or 0 when TotalRequests is 0.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRequests)
}
