// Package api contains the HTTP handlers for the conversion service: the
// convert endpoint that validates input before handing off to the pipeline,
// and the health endpoint reporting dependency state.
package api
