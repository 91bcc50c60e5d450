// Package permissions checks OS-level approval needed before a sound-card
// receiver can be opened.
package permissions

import "errors"

// ErrMicrophoneDenied means audio input access has not been granted.
// On macOS it is granted under System Settings → Privacy & Security → Microphone.
var ErrMicrophoneDenied = errors.New("microphone permission not granted")
