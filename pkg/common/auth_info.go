package common

import (
	"bytes"
)

// AuthInfo is sent as AUTH [username] password right after a connection is dialed.
type AuthInfo struct {
	Username []byte `json:"username,omitempty"`
	Password []byte `json:"password,omitempty"`
}

func NewAuthInfo(username, password string) *AuthInfo {
	if password == "" {
		return nil
	}
	info := &AuthInfo{Password: []byte(password)}
	if username != "" {
		info.Username = []byte(username)
	}
	return info
}

func (a *AuthInfo) Equals(b *AuthInfo) bool {
	return bytes.Equal(a.Username, b.Username) && bytes.Equal(a.Password, b.Password)
}

// AuthArgs returns the AUTH tokens. The password is never logged, use String for that.
func (a *AuthInfo) AuthArgs() []any {
	if len(a.Username) == 0 {
		return []any{"AUTH", a.Password}
	}
	return []any{"AUTH", a.Username, a.Password}
}

func (a *AuthInfo) String() string {
	return "Username: " + string(a.Username) + ", Password: ******"
}
