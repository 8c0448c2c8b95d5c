// Package notifications publishes bus volume and mute values to Bitfocus
// Companion custom variables so Stream Deck buttons can mirror them.
//
// Each bus maps to two variables named after the bus key in camelCase plus a
// configurable suffix ("vsink.voice-chat" gives voiceChatVol and
// voiceChatMute). Only values that changed since the previous publish are
// sent. When Companion is disabled the service is a no-op; delivery failures
// are returned for logging and never stop the daemon.
package notifications
