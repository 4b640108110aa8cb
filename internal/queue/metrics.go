package queue

// Metrics receives operation counts from a queue. Implementations must be
// safe for concurrent use.
type Metrics interface {
	IncPublished(queue string, n int)
	IncClaimed(queue string, n int)
	IncAcked(queue string)
	IncNacked(queue string)
	IncExhausted(queue string)
	IncReclaimed(queue string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) IncPublished(string, int) {}
func (NopMetrics) IncClaimed(string, int)   {}
func (NopMetrics) IncAcked(string)          {}
func (NopMetrics) IncNacked(string)         {}
func (NopMetrics) IncExhausted(string)      {}
func (NopMetrics) IncReclaimed(string)      {}
