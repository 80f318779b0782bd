package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if runsTotal == nil || fetchAttemptsTotal == nil ||
		tasksTotal == nil || tasksInFlight == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePipelineMetrics(t *testing.T) {
	ObserveFetchAttempt("https://Store.Example.com/detail/1", AttemptTransient)
	ObserveFetchAttempt("https://store.example.com/detail/2", AttemptTransient)
	if val := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("store.example.com", AttemptTransient)); val != 2 {
		t.Errorf("Expected transient attempts for store.example.com to be 2, got %f", val)
	}

	ObserveTask(TaskAbsent)
	if val := testutil.ToFloat64(tasksTotal.WithLabelValues(TaskAbsent)); val != 1 {
		t.Errorf("Expected absent tasks to be 1, got %f", val)
	}

	IncTasksInFlight()
	IncTasksInFlight()
	DecTasksInFlight()
	if val := testutil.ToFloat64(tasksInFlight); val != 1 {
		t.Errorf("Expected in-flight gauge to be 1, got %f", val)
	}
	DecTasksInFlight()

	SetLinksDiscovered(100)
	SetResultsRetained(99)
	if val := testutil.ToFloat64(linksDiscovered); val != 100 {
		t.Errorf("Expected links discovered to be 100, got %f", val)
	}
	if val := testutil.ToFloat64(resultsRetained); val != 99 {
		t.Errorf("Expected results retained to be 99, got %f", val)
	}

	ObserveRun("succeeded", 0)
	if val := testutil.ToFloat64(runsTotal.WithLabelValues("succeeded")); val != 1 {
		t.Errorf("Expected succeeded runs to be 1, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
