package imap

import "github.com/emersion/go-sasl"

// AuthType selects how Client.Login authenticates.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeOAuth2   AuthType = "oauth2"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism (not in go-sasl's
// built-in set), following the wire format Google/Outlook expect:
// "user=<user>\x01auth=Bearer <token>\x01\x01".
type xoauth2Client struct {
	username    string
	accessToken string
}

// NewXOAuth2Client returns a sasl.Client for the XOAUTH2 mechanism.
func NewXOAuth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + c.username + "\x01auth=Bearer " + c.accessToken + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// A non-empty challenge here means the server rejected the token and
	// sent a JSON error response; respond with an empty string to let the
	// server return the tagged NO.
	return []byte{}, nil
}
