//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int audioInputStatus() {
    return (int)[AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
}

void requestAudioInput() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

// AVAuthorizationStatus values.
const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

// EnsureMicrophone checks that the process may open audio inputs. Sound-card
// receivers are audio inputs, so macOS gates them behind microphone approval.
// When approval is still pending the system prompt is triggered and
// ErrMicrophoneDenied is returned so the capture can be retried.
func EnsureMicrophone() error {
	switch int(C.audioInputStatus()) {
	case statusAuthorized:
		return nil
	case statusNotDetermined:
		C.requestAudioInput()
	}
	return ErrMicrophoneDenied
}
