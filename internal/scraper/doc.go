// Package scraper defines the domain types and collaborator interfaces shared by
// the directory lookup pipeline: input rows, scraped company records, jobs and
// their progress, plus the storage, queue and fetch contracts the pipeline is
// assembled from.
package scraper
