// Package crawler implements the bestseller crawl-and-extract pipeline: link
// discovery over paginated listings, bounded-concurrency detail extraction
// with retries, rank-ordered aggregation, and the all-or-nothing handoff to a
// ranking store.
package crawler
