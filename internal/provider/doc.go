// Package provider normalizes model backends behind one streaming contract.
//
// # Overview
//
// Every backend implements Capability:
//
//	Stream(ctx, history) (<-chan Chunk, error)
//
// The channel is the fragment sequence for one assistant reply. Fragments
// concatenated in delivery order form the complete reply text. A mid-stream
// fault arrives as a final Chunk with Err set; an error return means the call
// never reached the upstream (bad history, missing credentials, transport
// failure, non-2xx status).
//
// # Adapters
//
//   - OpenAI: POST /chat/completions with stream=true, terminated by [DONE]
//   - Anthropic: POST /messages with stream=true, text_delta blocks, message_stop
//   - Gemini: POST /models/{model}:streamGenerateContent?alt=sse
//   - Echo: local, deterministic, no network
//
// Vendor error payloads are reduced to one human-readable message (APIError).
// Nothing downstream branches on which adapter produced a sequence.
//
// # Deadlines
//
// WithTimeout layers a per-turn deadline around any Capability without the
// consumer knowing about it; expiry is reported as ErrTurnTimeout.
package provider
