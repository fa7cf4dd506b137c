package jobstore

// waitingScore packs a priority tier and a monotonic sequence number into a
// single sorted-set score. Lower scores dispatch first, so priority dominates
// (high=1 sorts before normal=2 sorts before low=3) and, within a tier, a
// larger per-stream sequence counter breaks ties in enqueue order (FIFO).
func waitingScore(p Priority, seq int64) float64 {
	return float64(p)*1e15 + float64(seq)
}
