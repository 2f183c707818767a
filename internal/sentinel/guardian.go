package sentinel

import "errors"

// Guardian marks a gateway failure as dismissible: the remote side answered
// and rejected the call, so it says nothing about the gateway's availability.
type Guardian struct {
	Dismissible bool
	Context     string
	Err         error
}

func (g Guardian) Error() string {
	if g.Err == nil {
		return g.Context
	}
	return g.Context + ": " + g.Err.Error()
}

func (g Guardian) Unwrap() error {
	return g.Err
}

func NewGuardian(dismissible bool, context string, err error) Guardian {
	return Guardian{
		Dismissible: dismissible,
		Context:     context,
		Err:         err,
	}
}

func IsDismissible(err error) bool {
	var g Guardian
	if !errors.As(err, &g) {
		return false
	}

	return g.Dismissible
}
