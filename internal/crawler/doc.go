// Package crawler defines the entities, page catalog, fetch types, and
// collaborator interfaces shared by every crawl stage. Concrete fetchers,
// queues, and stores live in sibling packages and depend on this one.
package crawler
