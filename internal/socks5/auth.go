package socks5

// SupportedAuthMethods is the set of authentication methods this server
// will ever select. Per spec, only "no authentication required" is
// supported; GSSAPI and username/password are out of scope.
var SupportedAuthMethods = []AuthMethod{AuthNone}

// SelectAuthMethod intersects the client's offered methods with the
// methods this server supports, mirroring the original implementation's
// set-intersection approach. It returns false if no method is acceptable.
func SelectAuthMethod(offered []AuthMethod) (AuthMethod, bool) {
	for _, supported := range SupportedAuthMethods {
		for _, m := range offered {
			if m == supported {
				return supported, true
			}
		}
	}
	return 0, false
}
