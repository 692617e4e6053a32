// Package scrape defines the core domain types shared across the service:
// documents, page options, crawl policies, job state, and the narrow
// contracts the coordinator composes (backends, stores, queues, publishers).
package scrape
