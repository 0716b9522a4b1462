// Package hclgrid loads request template definitions from HCL grid files.
// Attribute values stay as unevaluated hcl.Expression handles so the
// session can resolve them lazily against live results; the loader's own
// job is discovery, decoding, and structural validation only.
package hclgrid
