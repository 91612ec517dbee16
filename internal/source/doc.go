// Package source provides the interchangeable audio source backends: a local
// yt-dlp binary, the hosted kkdai/youtube library, and a third-party
// conversion API. Exactly one backend is selected at startup; all expose the
// same Open contract and a best-effort metadata Probe.
package source
