// Package renderer turns a resource profile and a job template into a
// concrete batch submission script. Rendering is pure: the same inputs
// always produce the same script. Template commands may reference
// profile fields ({{.GPUs}}, {{.CPUs}}, {{.MemoryGB}}, {{.Profile}})
// so one template serves differently sized profiles.
package renderer
