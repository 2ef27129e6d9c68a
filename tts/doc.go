// Package tts is the provider abstraction and routing layer of the gateway.
//
// A Provider converts text into decoded audio behind one uniform contract;
// the Manager owns the fixed provider set, validates requests before any
// network dispatch, and selects the provider to serve each request. The
// provider set is known at construction time: the keyless edge provider is
// always registered, the paid providers (openai, elevenlabs, polly) are
// registered whether or not their credentials are configured so that
// request-scoped API keys can still reach them.
//
// # Architecture
//
// Every provider requests linear PCM from its upstream and returns an
// *audio.Buffer of decoded mono samples at its declared rate. Encoding to a
// wire format is the audio package's concern; routing, validation, and
// fallback policy are the Manager's. Streaming synthesis yields AudioChunk
// values on a channel in production order; a mid-stream failure surfaces as
// a chunk with Err set followed by channel close, never a rollback of
// already-delivered chunks.
package tts
