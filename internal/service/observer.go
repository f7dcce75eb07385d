// Package service contains the identity and document services behind the gRPC API.
package service

// Observer receives service-level events for metrics.
type Observer interface {
	SignIn(result string)
	DocumentWrite(kind string, merge bool)
}

// Sign-in results reported to Observer.
const (
	SignInOK          = "ok"
	SignInDenied      = "denied"
	SignInRateLimited = "rate_limited"
	SignInError       = "error"
)

type nopObserver struct{}

func (nopObserver) SignIn(string)              {}
func (nopObserver) DocumentWrite(string, bool) {}
