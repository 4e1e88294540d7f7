// Package vault implements the audio retrieval lane.
//
// The lane claims pending calls with a sentinel token, downloads the
// recording referenced by audio_url, and stores it in the blob store under
// YYYY/MM/DD/{id}.mp3 (dated by the call's event time). Status stays pending
// while the claim is held; success moves the call to downloaded.
//
// Responses that cannot improve on retry (401, 403, 404, 410, or an empty
// body) fail the call immediately. Those outcomes do not count against the
// recordings circuit breaker because they prove the host answered.
package vault
