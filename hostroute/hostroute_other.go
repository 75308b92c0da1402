//go:build !linux

package hostroute

// Apply is unimplemented outside Linux in this build.
func Apply(p ApplyParams) (Handle, error) {
	return nil, ErrUnsupported
}
