// Package importers provides a unified pipeline for importing clinical data
// from various source formats.
//
// # Architecture
//
// The import pipeline follows a simple flow:
//
//	Source Data → DetectFormat → Normalizer → Bundle → Persister → Storage
//
// Each source format implements the Normalizer interface, which transforms
// source-specific data into a common Bundle of patients, visits and
// observations with source-local identifiers. The Persister then reconciles
// those identifiers against storage and writes the records.
//
// # Adding a New Source Format
//
// To add support for a new data format (e.g., HL7v2):
//
//  1. Create a new file: hl7v2.go
//
//  2. Implement the Normalizer interface: parse the payload, emit
//     PatientRecord/VisitRecord/ObservationRecord values into a Bundle via
//     NewBundle, and accumulate per-record problems in a Report.
//
//  3. Add a Format constant in canonical.go, teach DetectFormat to
//     recognize the payload, and add a case to normalizerFor in
//     pipeline.go.
//
// Structural failures (unreadable payload, missing required headers) abort
// the import with a wrapped sentinel error from errors.go. Per-record
// problems never abort: they are collected in the Report and reported
// alongside whatever did import.
package importers
