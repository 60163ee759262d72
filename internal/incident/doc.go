// Package incident provides the business boundary for medlog's incident log.
// It defines the Service (creation, patching, ownership policy and summary
// generation), the Store and Summarizer interfaces it depends on, and the
// domain model.
package incident
