package metrics

import (
	"net/http"
	"time"
)

// instrumentRecorder はhttp.ResponseWriterをラップし、ステータスコードを捕捉する。
type instrumentRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (ir *instrumentRecorder) WriteHeader(code int) {
	if !ir.written {
		ir.statusCode = code
		ir.written = true
	}
	ir.ResponseWriter.WriteHeader(code)
}

func (ir *instrumentRecorder) Write(b []byte) (int, error) {
	if !ir.written {
		ir.statusCode = http.StatusOK
		ir.written = true
	}
	return ir.ResponseWriter.Write(b)
}

// NewInstrumentMiddleware はリクエストごとにステータスコードとレイテンシを
// 記録するミドルウェアを返す。
func NewInstrumentMiddleware(collector MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &instrumentRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			collector.RecordHTTPStatus(rec.statusCode)
			collector.RecordRequestLatency(time.Since(start))
		})
	}
}
