//go:build !linux

package tundev

// CreateServer is unimplemented outside Linux in this build.
func CreateServer(p ServerParams) (Device, error) {
	return nil, ErrUnsupported
}

// CreateClient is unimplemented outside Linux in this build.
func CreateClient(p ClientParams) (Device, error) {
	return nil, ErrUnsupported
}
