// Package fetcher holds the pieces shared by the project fetchers: the retry
// policy, context-aware pauses, and request identity rotation.
package fetcher
