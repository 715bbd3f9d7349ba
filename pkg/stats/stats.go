package stats

import (
	"math"
	"sync"

	"github.com/menta2k/bookshelf-analyzer/pkg/types"
)

// RequestStats summarises the identification quality of one detection request
type RequestStats struct {
	TotalBooksDetected int     `json:"total_books_detected"`
	ValidBooks         int     `json:"valid_books"`
	Accuracy           float64 `json:"accuracy"`
}

// Compute counts books whose title and author were both read
func Compute(books []types.BookAnnotation) RequestStats {
	valid := 0
	for _, b := range books {
		if b.Book().IsValid() {
			valid++
		}
	}
	return RequestStats{
		TotalBooksDetected: len(books),
		ValidBooks:         valid,
		Accuracy:           round(ratio(int64(valid), int64(len(books))), 4),
	}
}

// Snapshot is a consistent read of the cumulative counters
type Snapshot struct {
	TotalRequests          int64   `json:"total_requests"`
	TotalBooksDetected     int64   `json:"total_books_detected"`
	TotalValidBooks        int64   `json:"total_valid_books"`
	OverallAccuracy        float64 `json:"overall_accuracy"`
	AverageBooksPerRequest float64 `json:"average_books_per_request"`
}

// Aggregator keeps process-lifetime totals across detection requests.
// It is safe for concurrent use.
type Aggregator struct {
	mu            sync.Mutex
	totalRequests int64
	totalBooks    int64
	totalValid    int64
}

// NewAggregator creates an Aggregator with all counters at zero
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record adds one completed request to the totals
func (a *Aggregator) Record(r RequestStats) {
	books := max(int64(r.TotalBooksDetected), 0)
	valid := min(max(int64(r.ValidBooks), 0), books)

	a.mu.Lock()
	a.totalRequests++
	a.totalBooks += books
	a.totalValid += valid
	a.mu.Unlock()
}

// Snapshot returns the totals and derived ratios
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	requests, books, valid := a.totalRequests, a.totalBooks, a.totalValid
	a.mu.Unlock()

	return Snapshot{
		TotalRequests:          requests,
		TotalBooksDetected:     books,
		TotalValidBooks:        valid,
		OverallAccuracy:        round(ratio(valid, books), 4),
		AverageBooksPerRequest: round(ratio(books, requests), 2),
	}
}

func ratio(num, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
