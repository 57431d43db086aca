package stats

import "tensord/internal/backend"

// Multi fans reports out to every non-nil sink in order.
type Multi []backend.Statistics

func (m Multi) ReportRequest(instance string, req backend.Request, success bool, ts backend.Timestamps) {
	for _, s := range m {
		if s != nil {
			s.ReportRequest(instance, req, success, ts)
		}
	}
}

func (m Multi) ReportBatch(instance string, batchSize int, ts backend.Timestamps) {
	for _, s := range m {
		if s != nil {
			s.ReportBatch(instance, batchSize, ts)
		}
	}
}
