// Package model defines the runtime artifacts exchanged between pipeline
// stages: the outbound request built by render, the inbound response
// produced by fetch, the derivation profile selected by match, and the
// final outcome computed by process. These values cross the worker
// boundary of the owning application, so they stay plain serializable
// data.
package model
