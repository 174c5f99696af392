package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers. The clients package
// implements them; the application layer depends on them. Both are opaque
// to this engine — it only needs success/failure and the payloads.

// GenerateRequest carries the work item's generation parameters.
type GenerateRequest struct {
	Topic   string
	Payload string // Opaque style/prompt parameters, JSON
}

// Generator abstracts the content-generation backend.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Artifact, error)
}

// Destination carries per-call publishing credentials. Constructed from
// explicit config, never from ambient global state.
type Destination struct {
	BaseURL     string
	Username    string
	AppPassword string
}

// Publisher abstracts the publishing backend (WordPress, social).
// Implementations wrap failures in *PublishError so the orchestrator can
// classify them as transient or fatal.
type Publisher interface {
	Publish(ctx context.Context, artifact Artifact, dest Destination) (PublishResult, error)
}
