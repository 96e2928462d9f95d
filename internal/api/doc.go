// Package api exposes keywarden over HTTP: credential extraction and
// validation middleware for protected routes, and the administrative
// endpoints for creating keys, updating them, and evicting cache
// entries.
package api
